package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/pkg/cache"
)

var at = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

func sampleState() models.TradingState {
	return models.TradingState{
		Symbol:              "TQQQ",
		PositionDirection:   models.Bull,
		HighWaterMark:       52.4,
		VirtualStopPrice:    52.138,
		IsStoppedOut:        true,
		StoppedOutDirection: models.Bull,
		WashoutLevel:        441.2,
		StopoutTime:         at,
		UpdatedAt:           at,
	}
}

func TestFileStateStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStateStore(dir)
	require.NoError(t, err)

	got, err := s.Load(ctx, "TQQQ")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Save(ctx, sampleState()))
	got, err = s.Load(ctx, "tqqq")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleState(), *got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")

	require.NoError(t, s.Clear(ctx, "TQQQ"))
	require.NoError(t, s.Clear(ctx, "TQQQ"))
	got, err = s.Load(ctx, "TQQQ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStateStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStateStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "risk_SQQQ.json"), []byte("{"), 0o644))

	_, err = s.Load(context.Background(), "SQQQ")
	assert.Error(t, err)
	assert.Error(t, s.Save(context.Background(), models.TradingState{}))
}

func TestCacheStateStore(t *testing.T) {
	ctx := context.Background()
	s := NewCacheStateStore(cache.NewMemoryCache(), time.Hour)

	got, err := s.Load(ctx, "TQQQ")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Save(ctx, sampleState()))
	got, err = s.Load(ctx, "TQQQ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleState(), *got)

	require.NoError(t, s.Clear(ctx, "TQQQ"))
	got, err = s.Load(ctx, "TQQQ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheStateStoreLease(t *testing.T) {
	ctx := context.Background()
	s := NewCacheStateStore(cache.NewMemoryCache(), time.Hour)

	ok, err := s.Acquire(ctx, "QQQ", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Acquire(ctx, "qqq", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "QQQ"))
	ok, _ = s.Acquire(ctx, "QQQ", time.Minute)
	assert.True(t, ok)
}

func TestSQLiteJournal(t *testing.T) {
	ctx := context.Background()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "db", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	fills := []models.Fill{
		{ClientOrderID: "a", Symbol: "TQQQ", Side: models.SideBuy, Qty: 10, Price: decimal.RequireFromString("50.01"), At: at},
		{ClientOrderID: "b", Symbol: "SQQQ", Side: models.SideBuy, Qty: 5, Price: decimal.RequireFromString("12.3456"), At: at.Add(time.Second)},
		{ClientOrderID: "c", Symbol: "tqqq", Side: models.SideSell, Qty: 10, Price: decimal.RequireFromString("50.20"), At: at.Add(2 * time.Second)},
	}
	for _, f := range fills {
		require.NoError(t, j.RecordFill(ctx, f))
	}

	got, err := j.RecentFills(ctx, "TQQQ", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ClientOrderID)
	assert.Equal(t, models.SideSell, got[0].Side)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("50.2")))
	assert.True(t, got[0].At.Equal(at.Add(2*time.Second)))

	all, err := j.RecentFills(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "SQQQ", all[1].Symbol)
	assert.True(t, all[1].Price.Equal(decimal.RequireFromString("12.3456")))

	require.NoError(t, j.RecordChase(ctx, "TQQQ", models.SideBuy, models.ChaseResult{
		AttemptsUsed: 3, FilledQty: 10, AvgPrice: decimal.RequireFromString("50.01"),
		FinalPriceAttempted: decimal.RequireFromString("50.02"), Err: errors.New("boom"),
	}))
	var n int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM chases WHERE error = 'boom'`).Scan(&n))
	assert.Equal(t, 1, n)
}

type capturePublisher struct {
	topic string
	key   []byte
	value any
}

func (c *capturePublisher) Publish(_ context.Context, topic string, key []byte, value any) error {
	c.topic, c.key, c.value = topic, key, value
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestKafkaSignalPublisher(t *testing.T) {
	cp := &capturePublisher{}
	p := NewKafkaSignalPublisher(cp, "trader.signals")
	sig := models.MarketRegime{Direction: models.Bear, StrategyMode: models.Trend, Symbol: "QQQ", Price: 440, Timestamp: at}
	require.NoError(t, p.Publish(context.Background(), sig))

	assert.Equal(t, "trader.signals", cp.topic)
	assert.Equal(t, []byte("QQQ"), cp.key)
	b, err := json.Marshal(cp.value)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"direction":"BEAR"`)
}

func TestTickInsertQuerySkipsInvalid(t *testing.T) {
	s := NewClickHouseTicks(nil, "trader", "ticks", nil)
	q, args := s.insertQuery([]models.PriceTick{
		{Symbol: "QQQ", Price: 440, Timestamp: at, Source: "finnhub"},
		{Symbol: "QQQ", Price: 0, Timestamp: at},
		{Symbol: "TQQQ", Price: 50, Timestamp: at, Source: "bridge", Synthetic: true},
	})
	assert.Contains(t, q, "INSERT INTO trader.ticks (")
	require.Len(t, args, 12)
	assert.Equal(t, uint8(1), args[11])
	assert.Equal(t, "TQQQ", args[7])
}

func TestReverse(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	reverse(xs)
	assert.Equal(t, []float64{4, 3, 2, 1}, xs)
}
