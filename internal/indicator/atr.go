package indicator

import "ProxyTrader/internal/domain/models"

// ATR is the average true range with Wilder smoothing. The first value is the
// simple mean of the first period true ranges.
type ATR struct {
	period    int
	count     int
	sum       float64
	value     float64
	prevClose float64
	havePrev  bool
}

func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period}
}

// Update adds a completed candle and returns the current ATR.
func (a *ATR) Update(c models.Candle) float64 {
	tr := trueRange(c, a.prevClose, a.havePrev)
	a.prevClose, a.havePrev = c.Close, true

	n := float64(a.period)
	switch {
	case a.count < a.period:
		a.count++
		a.sum += tr
		a.value = a.sum / float64(a.count)
	default:
		a.value = (a.value*(n-1) + tr) / n
	}
	return a.value
}

func (a *ATR) Value() float64 { return a.value }

func (a *ATR) Ready() bool { return a.count >= a.period }

func (a *ATR) Reset() {
	a.count, a.sum, a.value = 0, 0, 0
	a.prevClose, a.havePrev = 0, false
}
