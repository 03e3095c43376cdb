package regime

import (
	"fmt"
	"time"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/pkg/config"
	"ProxyTrader/pkg/util"
)

// PreMarket is the phase reported before the first configured phase starts.
const PreMarket = "premarket"

// Phase is one intraday trading window.
type Phase struct {
	Name  string
	Start int // minutes after local midnight
	Mode  models.StrategyMode
	// KeepIndicators carries indicator state across the boundary into this
	// phase instead of resetting it.
	KeepIndicators bool
}

// Schedule maps a timestamp to its session date and phase in the exchange
// timezone.
type Schedule struct {
	loc    *time.Location
	phases []Phase
}

func NewSchedule(tz string, phases []config.PhaseConfig) (*Schedule, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	s := &Schedule{loc: loc}
	prev := -1
	for _, p := range phases {
		start, err := util.ParseClock(p.Start)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.Name, err)
		}
		if start <= prev {
			return nil, fmt.Errorf("phase %s starts before the previous phase", p.Name)
		}
		mode, err := models.ParseStrategyMode(p.Mode)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.Name, err)
		}
		s.phases = append(s.phases, Phase{Name: p.Name, Start: start, Mode: mode, KeepIndicators: p.KeepIndicators})
		prev = start
	}
	return s, nil
}

// At returns the session date (YYYY-MM-DD, local) and active phase for t.
func (s *Schedule) At(t time.Time) (string, Phase) {
	session := util.SessionDate(t, s.loc)
	minute := util.MinuteOfDay(t, s.loc)
	active := Phase{Name: PreMarket, Mode: models.Trend}
	for _, p := range s.phases {
		if minute < p.Start {
			break
		}
		active = p
	}
	return session, active
}
