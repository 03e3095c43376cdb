package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProxyTrader/internal/domain/models"
)

type fakeArchive struct {
	mu      sync.Mutex
	batches [][]models.PriceTick
	err     error
}

func (a *fakeArchive) StoreBatch(_ context.Context, ticks []models.PriceTick) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.batches = append(a.batches, append([]models.PriceTick(nil), ticks...))
	return nil
}

func (a *fakeArchive) Query(context.Context, string, time.Time, time.Time, int) ([]models.PriceTick, error) {
	return nil, nil
}

func (a *fakeArchive) Close() error { return nil }

func (a *fakeArchive) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.batches {
		n += len(b)
	}
	return n
}

func TestTickRecorderFlushesOnSizeAndStop(t *testing.T) {
	archive := &fakeArchive{}
	rec := NewTickRecorder(archive, nil, nil, 2, time.Hour)
	rec.Start(context.Background())

	var handled int
	h := rec.Wrap(func(context.Context, models.PriceTick) error {
		handled++
		return nil
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, h(context.Background(), models.PriceTick{Symbol: "QQQ", Price: 100, Timestamp: base.Add(time.Duration(i) * time.Second)}))
	}
	require.NoError(t, rec.Stop(context.Background()))

	assert.Equal(t, 5, handled)
	assert.Equal(t, 5, archive.total())
	assert.Zero(t, rec.Dropped())

	// recording after stop is a no-op
	rec.Record(models.PriceTick{Symbol: "QQQ", Price: 1, Timestamp: base})
	assert.Equal(t, 5, archive.total())
}

func TestTickRecorderFlushesOnTimer(t *testing.T) {
	archive := &fakeArchive{}
	rec := NewTickRecorder(archive, nil, nil, 100, 10*time.Millisecond)
	rec.Start(context.Background())
	defer rec.Stop(context.Background())

	rec.Record(models.PriceTick{Symbol: "QQQ", Price: 100, Timestamp: base})
	assert.Eventually(t, func() bool { return archive.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTickRecorderProcessBatchError(t *testing.T) {
	m := &countingMetrics{}
	rec := NewTickRecorder(&fakeArchive{err: errors.New("down")}, m, nil, 10, time.Second)
	err := rec.ProcessBatch(context.Background(), []models.PriceTick{{Symbol: "QQQ", Price: 1, Timestamp: base}})
	assert.Error(t, err)
	assert.Equal(t, 1, m.get("error:archive_batch"))
	assert.NoError(t, rec.ProcessBatch(context.Background(), nil))
}

func TestTickRecorderStopWithoutStart(t *testing.T) {
	rec := NewTickRecorder(&fakeArchive{}, nil, nil, 10, time.Second)
	assert.NoError(t, rec.Stop(context.Background()))
}
