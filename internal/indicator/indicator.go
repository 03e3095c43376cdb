// Package indicator provides streaming technical indicators for the regime
// classifier.
//
// Every calculator is updated once per completed candle, is single-writer and
// costs O(1) per update. Value returns 0 until at least one sample arrived.
package indicator

import "ProxyTrader/internal/domain/models"

// Indicator is the common surface the classifier uses for warm-up checks and
// resets.
type Indicator interface {
	Ready() bool
	Reset()
	Value() float64
}

// trueRange uses the previous close when one is known.
func trueRange(c models.Candle, prevClose float64, havePrev bool) float64 {
	tr := c.High - c.Low
	if !havePrev {
		return tr
	}
	if d := c.High - prevClose; d > tr {
		tr = d
	}
	if d := prevClose - c.Low; d > tr {
		tr = d
	}
	return tr
}
