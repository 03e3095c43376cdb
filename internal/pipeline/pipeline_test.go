package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func mkTicks(symbol string, bench bool, offsets []time.Duration, prices []float64) []models.PriceTick {
	out := make([]models.PriceTick, len(offsets))
	for i := range offsets {
		out[i] = models.PriceTick{Symbol: symbol, IsBenchmark: bench, Timestamp: t0.Add(offsets[i]), Price: prices[i]}
	}
	return out
}

func secs(s ...float64) []time.Duration {
	out := make([]time.Duration, len(s))
	for i, v := range s {
		out[i] = time.Duration(v * float64(time.Second))
	}
	return out
}

func TestMergeOrdersAndKeepsBenchmarkFlag(t *testing.T) {
	qqq := mkTicks("QQQ", true, secs(0, 1, 3, 3), []float64{1, 2, 3, 4})
	tqqq := mkTicks("TQQQ", false, secs(0.5, 1, 2, 5), []float64{10, 20, 30, 40})

	merged := Merge(qqq, tqqq)
	require.Len(t, merged, 8)
	for i := 1; i < len(merged); i++ {
		assert.False(t, merged[i].Timestamp.Before(merged[i-1].Timestamp), "index %d", i)
	}
	// equal timestamps: earlier registered source first
	assert.Equal(t, "QQQ", merged[2].Symbol)
	assert.Equal(t, "TQQQ", merged[3].Symbol)
	// within-source order preserved on ties
	assert.Equal(t, 3.0, merged[5].Price)
	assert.Equal(t, 4.0, merged[6].Price)
	for _, tk := range merged {
		assert.Equal(t, tk.Symbol == "QQQ", tk.IsBenchmark)
	}
}

func TestMergeEmpty(t *testing.T) {
	assert.Empty(t, Merge())
	assert.Len(t, Merge(nil, mkTicks("A", false, secs(1), []float64{1})), 1)
}

func TestCSVSourceSkipsMalformedRows(t *testing.T) {
	src := NewCSVSource(CSVPath("testdata", "qqq", "2024-03-01"), "QQQ", true, nil)
	ticks, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, ticks, 4)
	assert.Equal(t, 3, src.Skipped())

	assert.Equal(t, 440.10, ticks[0].Price)
	assert.Equal(t, 100.0, ticks[0].Volume)
	assert.Equal(t, "sip", ticks[0].Source)
	assert.True(t, ticks[0].IsBenchmark)
	// out-of-order row sorted into place
	assert.Equal(t, 440.18, ticks[2].Price)
	assert.Equal(t, "csv", ticks[2].Source)
	assert.Equal(t, 440.20, ticks[3].Price)
	assert.Equal(t, time.UTC, ticks[3].Timestamp.Location())
}

func TestCSVSourceMissingFileIsNotFatal(t *testing.T) {
	src := NewCSVSource(CSVPath(t.TempDir(), "SQQQ", ""), "SQQQ", false, nil)
	ticks, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestCSVPath(t *testing.T) {
	assert.Equal(t, "d/QQQ_2024-03-01.csv", CSVPath("d", "qqq", "2024-03-01"))
	assert.Equal(t, "d/QQQ.csv", CSVPath("d", "QQQ", ""))
}

func TestBridgeFillsGapsAndKeepsEndpoints(t *testing.T) {
	in := mkTicks("QQQ", true, secs(0, 10, 20), []float64{100, 101, 99})
	b := NewBridge(BridgeConfig{GapThreshold: 2 * time.Second, Step: time.Second, Volatility: 0.001, Seed: 7})

	out := b.Fill("QQQ", in)
	require.Len(t, out, 3+9+9)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, in[1], out[10])
	assert.Equal(t, in[2], out[20])
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i].Timestamp.After(out[i-1].Timestamp))
		if i != 10 && i != 20 {
			assert.True(t, out[i].Synthetic)
			assert.Equal(t, "bridge", out[i].Source)
			assert.True(t, out[i].IsBenchmark)
			assert.Greater(t, out[i].Price, 90.0)
			assert.Less(t, out[i].Price, 110.0)
		}
	}
}

func TestBridgeFlatGapStaysFlat(t *testing.T) {
	flat := mkTicks("QQQ", false, secs(0, 4), []float64{100, 100})
	out := NewBridge(BridgeConfig{GapThreshold: 2 * time.Second, Step: time.Second}).Fill("x", flat)
	require.Len(t, out, 5)
	for _, tk := range out {
		assert.Equal(t, 100.0, tk.Price)
	}
}

func TestBridgeSkipsDenseSources(t *testing.T) {
	in := mkTicks("QQQ", true, secs(0, 0.5, 1, 1.5, 5), []float64{1, 1, 1, 1, 1})
	out := NewBridge(BridgeConfig{GapThreshold: 2 * time.Second, Step: time.Second}).Fill("QQQ", in)
	assert.Equal(t, in, out)
}

func TestBridgeDeterministic(t *testing.T) {
	in := mkTicks("QQQ", true, secs(0, 30, 60), []float64{100, 102, 101})
	cfg := BridgeConfig{GapThreshold: 2 * time.Second, Step: time.Second, Seed: 42}
	assert.Equal(t, NewBridge(cfg).Fill("QQQ", in), NewBridge(cfg).Fill("QQQ", in))
}

func replaySources() []Source {
	return []Source{
		NewSliceSource("QQQ", mkTicks("QQQ", true, secs(0, 1, 2, 3, 4), []float64{1, 2, 3, 4, 5})),
		NewSliceSource("TQQQ", mkTicks("TQQQ", false, secs(0.5, 1.5, 2.5), []float64{10, 20, 30})),
	}
}

func TestReplayDeliversInOrderDeterministically(t *testing.T) {
	run := func() []string {
		var seen []string
		r := NewReplay(replaySources())
		err := r.Run(context.Background(), func(_ context.Context, tk models.PriceTick) error {
			seen = append(seen, fmt.Sprintf("%s@%v", tk.Symbol, tk.Price))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 8, r.Stats().Delivered)
		return seen
	}
	first := run()
	assert.Equal(t, []string{"QQQ@1", "TQQQ@10", "QQQ@2", "TQQQ@20", "QQQ@3", "TQQQ@30", "QQQ@4", "QQQ@5"}, first)
	assert.Equal(t, first, run())
}

func TestReplayHandlerSeesOneTickAtATime(t *testing.T) {
	var inFlight, maxInFlight int
	var mu sync.Mutex
	r := NewReplay(replaySources())
	err := r.Run(context.Background(), func(_ context.Context, _ models.PriceTick) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, maxInFlight)
}

func TestReplayCancelStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	r := NewReplay(replaySources())
	err := r.Run(ctx, func(_ context.Context, _ models.PriceTick) error {
		n++
		if n == 3 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, n)
}

func TestReplayHandlerErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	n := 0
	err := NewReplay(replaySources()).Run(context.Background(), func(_ context.Context, _ models.PriceTick) error {
		n++
		if n == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, n)
}

func TestReplayBridgeCountsSynthetic(t *testing.T) {
	src := NewSliceSource("QQQ", mkTicks("QQQ", true, secs(0, 5, 10), []float64{100, 100.5, 100.2}))
	r := NewReplay([]Source{src}, WithBridge(NewBridge(BridgeConfig{GapThreshold: 2 * time.Second, Step: time.Second, Seed: 1})))
	synthetic := 0
	require.NoError(t, r.Run(context.Background(), func(_ context.Context, tk models.PriceTick) error {
		if tk.Synthetic {
			synthetic++
		}
		return nil
	}))
	assert.Equal(t, 8, synthetic)
	assert.Equal(t, 8, r.Stats().Synthetic)
	assert.Equal(t, 11, r.Stats().Delivered)
}

func TestReplayCountsMalformedRows(t *testing.T) {
	src := NewCSVSource(CSVPath("testdata", "QQQ", "2024-03-01"), "QQQ", true, nil)
	r := NewReplay([]Source{src})
	require.NoError(t, r.Run(context.Background(), func(context.Context, models.PriceTick) error { return nil }))
	assert.Equal(t, 3, r.Stats().Malformed)
	assert.Equal(t, 4, r.Stats().Delivered)
}

func TestReplayDelay(t *testing.T) {
	r := NewReplay(nil, WithSpeed(2), WithMaxDelay(3*time.Second))
	assert.Equal(t, 500*time.Millisecond, r.delay(t0, t0.Add(time.Second)))
	assert.Equal(t, 3*time.Second, r.delay(t0, t0.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), r.delay(t0.Add(time.Second), t0))

	instant := NewReplay(nil)
	assert.Equal(t, time.Duration(0), instant.delay(t0, t0.Add(time.Hour)))
}

type stubHistory struct{ ticks []models.PriceTick }

func (h stubHistory) LatestCloses(context.Context, string, int, domrepo.Timeframe) ([]float64, error) {
	return nil, nil
}

func (h stubHistory) Ticks(context.Context, string, time.Time, time.Time) ([]models.PriceTick, error) {
	return append([]models.PriceTick(nil), h.ticks...), nil
}

func TestHistorySourceDropsSynthetic(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	h := stubHistory{ticks: []models.PriceTick{
		{Symbol: "QQQ", Price: 440, Timestamp: base},
		{Symbol: "QQQ", Price: 440.1, Timestamp: base.Add(time.Second), Synthetic: true},
		{Symbol: "QQQ", Price: 440.2, Timestamp: base.Add(2 * time.Second)},
	}}
	src := NewHistorySource(h, "qqq", true, base, base.Add(time.Hour))
	assert.Equal(t, "archive:QQQ", src.Name())

	got, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, tk := range got {
		assert.True(t, tk.IsBenchmark)
		assert.Equal(t, "archive", tk.Source)
		assert.False(t, tk.Synthetic)
	}
}
