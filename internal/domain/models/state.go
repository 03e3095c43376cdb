package models

import "time"

// TradingState is the risk snapshot for the single open position.
// Zero prices mean "unset".
type TradingState struct {
	Symbol              string    `json:"symbol"`
	PositionDirection   Direction `json:"position_direction"`
	HighWaterMark       float64   `json:"high_water_mark"`
	LowWaterMark        float64   `json:"low_water_mark"`
	VirtualStopPrice    float64   `json:"virtual_stop_price"`
	IsStoppedOut        bool      `json:"is_stopped_out"`
	StoppedOutDirection Direction `json:"stopped_out_direction"`
	WashoutLevel        float64   `json:"washout_level"`
	StopoutTime         time.Time `json:"stopout_time"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Empty reports whether the snapshot carries nothing worth persisting.
func (s TradingState) Empty() bool {
	return s.HighWaterMark == 0 && s.LowWaterMark == 0 && !s.IsStoppedOut
}
