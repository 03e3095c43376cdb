package regime

import (
	"testing"
	"time"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleAt(t *testing.T) {
	s, err := NewSchedule("America/New_York", config.DefaultPhases())
	require.NoError(t, err)

	// 2024-03-01 is EST (UTC-5)
	cases := []struct {
		utc   string
		phase string
		mode  models.StrategyMode
	}{
		{"2024-03-01T14:00:00Z", PreMarket, models.Trend},
		{"2024-03-01T14:30:00Z", "open", models.Trend},
		{"2024-03-01T15:29:59Z", "open", models.Trend},
		{"2024-03-01T15:30:00Z", "base", models.Trend},
		{"2024-03-01T20:00:00Z", "close", models.MeanReversion},
	}
	for _, tc := range cases {
		ts, err := time.Parse(time.RFC3339, tc.utc)
		require.NoError(t, err)
		session, p := s.At(ts)
		assert.Equal(t, "2024-03-01", session)
		assert.Equal(t, tc.phase, p.Name, tc.utc)
		assert.Equal(t, tc.mode, p.Mode, tc.utc)
	}
}

func TestScheduleRejectsBadPhases(t *testing.T) {
	_, err := NewSchedule("Nowhere/City", config.DefaultPhases())
	assert.Error(t, err)

	_, err = NewSchedule("UTC", []config.PhaseConfig{
		{Name: "a", Start: "10:00", Mode: "trend"},
		{Name: "b", Start: "09:00", Mode: "trend"},
	})
	assert.Error(t, err)

	_, err = NewSchedule("UTC", []config.PhaseConfig{{Name: "a", Start: "10:00", Mode: "sideways"}})
	assert.Error(t, err)
}

func TestCandleBuilder(t *testing.T) {
	b := newCandleBuilder(time.Minute)
	tick := func(sec int, p float64) models.PriceTick {
		return models.PriceTick{Symbol: "QQQ", Price: p, Timestamp: day.Add(time.Duration(sec) * time.Second)}
	}

	_, ok := b.add(tick(0, 100))
	assert.False(t, ok)
	b.add(tick(20, 102))
	b.add(tick(40, 99))
	b.add(tick(59, 101))

	c, ok := b.add(tick(61, 103))
	require.True(t, ok)
	assert.Equal(t, models.Candle{OpenTime: day, Open: 100, High: 102, Low: 99, Close: 101, Ticks: 4}, c)

	_, ok = b.add(tick(30, 90))
	assert.False(t, ok)
	assert.Equal(t, 1, b.late)
	assert.Equal(t, 103.0, b.cur.Close)
}
