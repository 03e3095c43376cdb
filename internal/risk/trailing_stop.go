// Package risk owns the trailing stop and the post-stop washout latch for the
// single open position.
package risk

import (
	"errors"
	"fmt"
	"time"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/pkg/config"
	"ProxyTrader/pkg/logger"
)

var (
	// ErrNoPrice is returned when a price is required but none is usable.
	ErrNoPrice = errors.New("no usable price")
	// ErrInconsistentState is returned by Restore for snapshots whose latch
	// fields disagree.
	ErrInconsistentState = errors.New("inconsistent risk state")
)

// Bands are the band extremes at evaluation time.
type Bands struct {
	Upper float64
	Lower float64
	Ready bool
}

// Input is one tick's worth of risk evaluation.
type Input struct {
	Signal models.MarketRegime
	Price  float64
	At     time.Time
	// Position is Bull for long, Bear for short, Neutral when flat.
	Position models.Direction
	Bands    Bands
}

// Decision is the signal after risk adjustment.
type Decision struct {
	Signal       models.MarketRegime
	Triggered    bool
	Blocked      bool
	LatchCleared bool
	// ReleaseAt is the end of the cooldown when Triggered is set.
	ReleaseAt time.Time
	// Changed reports that the snapshot differs from before the call.
	Changed bool
	Stop    float64
}

// Recovery is the result of re-validating a restored snapshot.
type Recovery struct {
	StopBreached bool
	Stop         float64
	Direction    models.Direction
}

// TrailingStop is not safe for concurrent use; the engine loop owns it.
type TrailingStop struct {
	pct      float64
	cooldown time.Duration
	state    models.TradingState
	log      *logger.Logger
}

func New(cfg config.RiskConfig, symbol string, log *logger.Logger) *TrailingStop {
	if log == nil {
		log = logger.NewNop()
	}
	return &TrailingStop{
		pct:      cfg.TrailingStopPercent,
		cooldown: cfg.Cooldown,
		state:    models.TradingState{Symbol: symbol},
		log:      log.Component("risk").With(logger.String("symbol", symbol)),
	}
}

// Evaluate applies the stop and latch rules to one tick.
func (s *TrailingStop) Evaluate(in Input) Decision {
	before := s.state
	d := s.evaluate(in)
	d.Changed = before != s.state
	d.Stop = s.state.VirtualStopPrice
	return d
}

func (s *TrailingStop) evaluate(in Input) Decision {
	d := Decision{Signal: in.Signal}

	if s.state.IsStoppedOut {
		if s.tryClear(in) {
			d.LatchCleared = true
		} else {
			if in.Signal.Direction.IsDirectional() {
				d.Blocked = true
				d.Signal = in.Signal.WithDirection(models.Neutral)
			}
			return d
		}
	}

	if !in.Position.IsDirectional() {
		s.clearMarks()
		return d
	}

	short := in.Position.IsShort()
	if s.state.PositionDirection.IsDirectional() && s.state.PositionDirection.IsShort() != short {
		s.clearMarks()
	}
	s.state.PositionDirection = in.Position
	s.track(in.Price, short)

	if (!short && in.Price <= s.state.VirtualStopPrice) || (short && in.Price >= s.state.VirtualStopPrice) {
		s.trigger(in, short)
		d.Triggered = true
		d.ReleaseAt = in.At.Add(s.cooldown)
		d.Signal = in.Signal.WithDirection(models.Neutral)
	}
	return d
}

// track moves the water mark in the position's favor and rederives the stop.
func (s *TrailingStop) track(price float64, short bool) {
	if short {
		if s.state.LowWaterMark == 0 || price < s.state.LowWaterMark {
			s.state.LowWaterMark = price
		}
		s.state.VirtualStopPrice = s.state.LowWaterMark * (1 + s.pct)
		return
	}
	if price > s.state.HighWaterMark {
		s.state.HighWaterMark = price
	}
	s.state.VirtualStopPrice = s.state.HighWaterMark * (1 - s.pct)
}

func (s *TrailingStop) trigger(in Input, short bool) {
	washout := s.state.VirtualStopPrice
	if in.Bands.Ready {
		washout = in.Bands.Upper
		if short {
			washout = in.Bands.Lower
		}
	}
	s.state.IsStoppedOut = true
	s.state.StoppedOutDirection = in.Position
	s.state.WashoutLevel = washout
	s.state.StopoutTime = in.At
	s.log.Warn("trailing stop triggered",
		logger.Stringer("position", in.Position),
		logger.Float64("price", in.Price),
		logger.Float64("stop", s.state.VirtualStopPrice),
		logger.Float64("high_water_mark", s.state.HighWaterMark),
		logger.Float64("low_water_mark", s.state.LowWaterMark),
		logger.Float64("washout", washout))
}

// tryClear releases the latch once the cooldown has elapsed and either the
// washout level was crossed or the classifier confirmed a displacement.
func (s *TrailingStop) tryClear(in Input) bool {
	cooled := in.At.Sub(s.state.StopoutTime) >= s.cooldown
	if !cooled {
		return false
	}
	var crossed bool
	if s.state.StoppedOutDirection.IsShort() {
		crossed = in.Price <= s.state.WashoutLevel
	} else {
		crossed = in.Price >= s.state.WashoutLevel
	}
	if !crossed && !in.Signal.IsDisplacementReentry {
		return false
	}
	s.log.Info("washout latch cleared",
		logger.Float64("price", in.Price),
		logger.Float64("washout", s.state.WashoutLevel),
		logger.Bool("displacement", !crossed),
		logger.Duration("since_stop", in.At.Sub(s.state.StopoutTime)))
	s.clearLatch()
	s.clearMarks()
	return true
}

func (s *TrailingStop) clearMarks() {
	s.state.PositionDirection = models.Neutral
	s.state.HighWaterMark = 0
	s.state.LowWaterMark = 0
	s.state.VirtualStopPrice = 0
}

func (s *TrailingStop) clearLatch() {
	s.state.IsStoppedOut = false
	s.state.StoppedOutDirection = models.Neutral
	s.state.WashoutLevel = 0
	s.state.StopoutTime = time.Time{}
}

// Snapshot returns a copy of the risk state for persistence.
func (s *TrailingStop) Snapshot() models.TradingState { return s.state }

// Reset drops the water marks after a flatten. The latch is kept.
func (s *TrailingStop) Reset() { s.clearMarks() }

// Restore loads a persisted snapshot and checks it against price before any
// tick is processed. A breached stop must be flattened by the caller.
func (s *TrailingStop) Restore(st models.TradingState, price float64) (Recovery, error) {
	if st.IsStoppedOut != (st.WashoutLevel != 0) {
		return Recovery{}, fmt.Errorf("%w: stopped_out=%t washout=%v", ErrInconsistentState, st.IsStoppedOut, st.WashoutLevel)
	}
	if st.HighWaterMark < 0 || st.LowWaterMark < 0 {
		return Recovery{}, fmt.Errorf("%w: negative water mark", ErrInconsistentState)
	}
	symbol := s.state.Symbol
	s.state = st
	if symbol != "" {
		s.state.Symbol = symbol
	}

	rec := Recovery{Direction: st.PositionDirection}
	if !st.PositionDirection.IsDirectional() {
		s.clearMarks()
		return rec, nil
	}
	if price <= 0 {
		return rec, ErrNoPrice
	}

	short := st.PositionDirection.IsShort()
	if short && st.LowWaterMark > 0 {
		s.state.VirtualStopPrice = st.LowWaterMark * (1 + s.pct)
		rec.StopBreached = price >= s.state.VirtualStopPrice
	} else if !short && st.HighWaterMark > 0 {
		s.state.VirtualStopPrice = st.HighWaterMark * (1 - s.pct)
		rec.StopBreached = price <= s.state.VirtualStopPrice
	}
	rec.Stop = s.state.VirtualStopPrice
	// a latched snapshot that still holds a position never finished its flatten
	if st.IsStoppedOut {
		rec.StopBreached = true
	}
	if rec.StopBreached {
		s.log.Error("restored position already through its stop",
			logger.Stringer("position", st.PositionDirection),
			logger.Float64("price", price),
			logger.Float64("stop", rec.Stop))
	}
	return rec, nil
}
