package middleware

import (
	"fmt"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
)

// TickGuard sits between a live feed and the engine. It validates ticks,
// drops per-symbol regressions in time and optionally throttles noisy symbols.
// It is owned by the single consumer loop and is not safe for concurrent use.
type TickGuard struct {
	metrics  domrepo.Metrics
	maxRPS   int
	lastSeen map[string]time.Time // per-symbol last accepted tick time
	dropped  map[string]int
}

type GuardOption func(*TickGuard)

// WithMaxRPS caps accepted ticks per second per symbol (0 disables).
func WithMaxRPS(n int) GuardOption {
	return func(g *TickGuard) {
		if n >= 0 {
			g.maxRPS = n
		}
	}
}

// NewTickGuard creates a new guard.
func NewTickGuard(metrics domrepo.Metrics, opts ...GuardOption) *TickGuard {
	g := &TickGuard{
		metrics:  metrics,
		lastSeen: make(map[string]time.Time),
		dropped:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Accept reports whether t may be delivered downstream.
func (g *TickGuard) Accept(t models.PriceTick) bool {
	if err := validateTick(t); err != nil {
		g.reject(t.Symbol, "guard_validate")
		return false
	}
	last, seen := g.lastSeen[t.Symbol]
	if seen && t.Timestamp.Before(last) {
		g.reject(t.Symbol, "guard_out_of_order")
		return false
	}
	if seen && g.maxRPS > 0 && t.Timestamp.Sub(last) < time.Second/time.Duration(g.maxRPS) {
		g.reject(t.Symbol, "guard_throttle")
		return false
	}
	g.lastSeen[t.Symbol] = t.Timestamp
	return true
}

// Dropped returns how many ticks were rejected for symbol.
func (g *TickGuard) Dropped(symbol string) int { return g.dropped[symbol] }

// Reset forgets per-symbol history, e.g. after a reconnect.
func (g *TickGuard) Reset() {
	g.lastSeen = make(map[string]time.Time)
}

func (g *TickGuard) reject(symbol, kind string) {
	g.dropped[symbol]++
	if g.metrics != nil {
		g.metrics.RecordError(kind)
	}
}

func validateTick(t models.PriceTick) error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if !t.Valid() || t.Volume < 0 {
		return fmt.Errorf("invalid price/volume")
	}
	return nil
}
