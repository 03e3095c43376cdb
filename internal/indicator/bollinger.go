package indicator

import "math"

// BandWidth tracks Bollinger bands and their normalized width, plus a rolling
// average of the width for expansion checks.
type BandWidth struct {
	mean    *SMA
	sumSq   float64
	k       float64
	widths  *SMA
	upper   float64
	middle  float64
	lower   float64
	width   float64
	updates int
}

// NewBandWidth creates bands over period samples at k standard deviations;
// avgPeriod sizes the width average.
func NewBandWidth(period int, k float64, avgPeriod int) *BandWidth {
	return &BandWidth{
		mean:   NewSMA(period),
		k:      k,
		widths: NewSMA(avgPeriod),
	}
}

// Update adds a close and returns the current width.
func (b *BandWidth) Update(close float64) float64 {
	if b.mean.Ready() {
		old := b.mean.oldest()
		b.sumSq -= old * old
	}
	b.mean.Update(close)
	b.sumSq += close * close
	b.updates++

	n := float64(b.mean.count)
	m := b.mean.Value()
	variance := b.sumSq/n - m*m
	if variance < 0 {
		variance = 0
	}
	sd := math.Sqrt(variance)

	b.middle = m
	b.upper = m + b.k*sd
	b.lower = m - b.k*sd
	if m != 0 {
		b.width = (b.upper - b.lower) / m
	}
	if b.mean.Ready() {
		b.widths.Update(b.width)
	}
	return b.width
}

func (b *BandWidth) Value() float64 { return b.width }

// Ready reports whether the bands cover a full window.
func (b *BandWidth) Ready() bool { return b.mean.Ready() }

func (b *BandWidth) Upper() float64 { return b.upper }

func (b *BandWidth) Middle() float64 { return b.middle }

func (b *BandWidth) Lower() float64 { return b.lower }

// Average is the rolling mean of recent widths.
func (b *BandWidth) Average() float64 { return b.widths.Value() }

// Expanding reports width above its own rolling average once both are warm.
func (b *BandWidth) Expanding() bool {
	return b.Ready() && b.widths.Ready() && b.width > b.widths.Value()
}

func (b *BandWidth) Seed(closes []float64) {
	for _, c := range closes {
		b.Update(c)
	}
}

func (b *BandWidth) Reset() {
	b.mean.Reset()
	b.widths.Reset()
	b.sumSq = 0
	b.upper, b.middle, b.lower, b.width = 0, 0, 0, 0
	b.updates = 0
}
