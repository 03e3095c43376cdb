package usecase

import (
	"time"

	"github.com/shopspring/decimal"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/internal/regime"
)

// PositionView is the engine's open proxy position.
type PositionView struct {
	Direction  models.Direction `json:"direction"`
	Symbol     string           `json:"symbol,omitempty"`
	Quantity   int64            `json:"quantity"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	OpenedAt   time.Time        `json:"opened_at,omitempty"`
}

// Status is a point-in-time copy of the engine for the API and replay reports.
type Status struct {
	Benchmark   string              `json:"benchmark"`
	Position    PositionView        `json:"position"`
	LastSignal  models.MarketRegime `json:"last_signal"`
	LastTick    time.Time           `json:"last_tick"`
	LastPrice   float64             `json:"last_price"`
	RealizedPnL decimal.Decimal     `json:"realized_pnl"`
	Trades      int                 `json:"trades"`
	Signals     int                 `json:"signals"`
	Risk        models.TradingState `json:"risk"`
	Classifier  *regime.Snapshot    `json:"classifier,omitempty"`
	Recovered   bool                `json:"recovered"`
}

// signalRing keeps the last n emitted signals.
type signalRing struct {
	buf  []models.MarketRegime
	next int
	full bool
}

func newSignalRing(n int) *signalRing {
	if n <= 0 {
		n = 1
	}
	return &signalRing{buf: make([]models.MarketRegime, n)}
}

func (r *signalRing) push(s models.MarketRegime) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *signalRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// recent returns up to limit signals newest first, optionally only those
// matching dir.
func (r *signalRing) recent(limit int, dir *models.Direction) []models.MarketRegime {
	n := r.len()
	out := make([]models.MarketRegime, 0, min(limit, n))
	for i := 1; i <= n && len(out) < limit; i++ {
		s := r.buf[(r.next-i+len(r.buf))%len(r.buf)]
		if dir != nil && s.Direction != *dir {
			continue
		}
		out = append(out, s)
	}
	return out
}
