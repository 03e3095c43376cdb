package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Direction is the trading intent carried by a signal.
type Direction int

const (
	Neutral Direction = iota
	Bull
	Bear
	MrFlat
	MrShort
)

var directionNames = map[Direction]string{
	Neutral: "NEUTRAL",
	Bull:    "BULL",
	Bear:    "BEAR",
	MrFlat:  "MR_FLAT",
	MrShort: "MR_SHORT",
}

func (d Direction) String() string {
	if s, ok := directionNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection converts the wire form back into a Direction.
func ParseDirection(s string) (Direction, error) {
	for d, name := range directionNames {
		if name == s {
			return d, nil
		}
	}
	return Neutral, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// IsDirectional reports whether the direction asks for an open position.
func (d Direction) IsDirectional() bool {
	return d == Bull || d == Bear || d == MrShort
}

// IsShort reports whether the direction is served by the inverse proxy.
func (d Direction) IsShort() bool { return d == Bear || d == MrShort }

// StrategyMode selects which signal family the classifier trusts.
type StrategyMode int

const (
	Trend StrategyMode = iota
	MeanReversion
)

func (m StrategyMode) String() string {
	if m == MeanReversion {
		return "MEAN_REVERSION"
	}
	return "TREND"
}

// ParseStrategyMode accepts the config and wire spellings.
func ParseStrategyMode(s string) (StrategyMode, error) {
	switch s {
	case "trend", "TREND":
		return Trend, nil
	case "mean_reversion", "MEAN_REVERSION":
		return MeanReversion, nil
	}
	return Trend, fmt.Errorf("unknown strategy mode %q", s)
}

func (m StrategyMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *StrategyMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseStrategyMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarketRegime is the per-tick signal emitted by the classifier.
type MarketRegime struct {
	Direction             Direction    `json:"direction"`
	StrategyMode          StrategyMode `json:"strategy_mode"`
	IsDisplacementReentry bool         `json:"is_displacement_reentry"`
	Symbol                string       `json:"symbol"`
	Price                 float64      `json:"price"`
	Phase                 string       `json:"phase"`
	Timestamp             time.Time    `json:"ts"`
}

// WithDirection returns a copy carrying a different direction.
func (r MarketRegime) WithDirection(d Direction) MarketRegime {
	r.Direction = d
	r.IsDisplacementReentry = false
	return r
}
