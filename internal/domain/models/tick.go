package models

import (
	"math"
	"time"
)

// PriceTick is a single trade print for one symbol.
type PriceTick struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	IsBenchmark bool      `json:"is_benchmark"`
	Timestamp   time.Time `json:"ts"`
	Source      string    `json:"source,omitempty"`
	Synthetic   bool      `json:"synthetic,omitempty"`
}

// Valid reports whether the tick can be fed to downstream stages.
func (t PriceTick) Valid() bool {
	if t.Symbol == "" || t.Timestamp.IsZero() {
		return false
	}
	return t.Price > 0 && !math.IsNaN(t.Price) && !math.IsInf(t.Price, 0)
}

// Candle is a fixed time bucket aggregated from benchmark ticks.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Ticks    int       `json:"ticks"`
}

// Valid rejects candles that would poison indicator state.
func (c Candle) Valid() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.High >= c.Low && c.Ticks > 0
}
