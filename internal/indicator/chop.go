package indicator

import (
	"math"

	"ProxyTrader/internal/domain/models"
)

// Chop is the Choppiness Index: 100 means fully sideways, 0 fully trending.
type Chop struct {
	period    int
	trs       *SMA
	highs     monoDeque
	lows      monoDeque
	seq       int
	prevClose float64
	havePrev  bool
	value     float64
}

func NewChop(period int) *Chop {
	if period < 2 {
		period = 2
	}
	return &Chop{
		period: period,
		trs:    NewSMA(period),
		highs:  monoDeque{max: true},
		lows:   monoDeque{max: false},
	}
}

// Update adds a completed candle and returns the index.
func (c *Chop) Update(k models.Candle) float64 {
	tr := trueRange(k, c.prevClose, c.havePrev)
	c.prevClose, c.havePrev = k.Close, true

	c.trs.Update(tr)
	c.highs.push(c.seq, k.High)
	c.lows.push(c.seq, k.Low)
	c.highs.expire(c.seq - c.period + 1)
	c.lows.expire(c.seq - c.period + 1)
	c.seq++

	if !c.trs.Ready() {
		return c.value
	}

	rng := c.highs.front() - c.lows.front()
	sumTR := c.trs.sum
	if rng <= 0 || sumTR <= 0 {
		c.value = 100
		return c.value
	}
	v := 100 * math.Log10(sumTR/rng) / math.Log10(float64(c.period))
	c.value = math.Max(0, math.Min(100, v))
	return c.value
}

func (c *Chop) Value() float64 { return c.value }

func (c *Chop) Ready() bool { return c.trs.Ready() }

func (c *Chop) Reset() {
	c.trs.Reset()
	c.highs.reset()
	c.lows.reset()
	c.seq = 0
	c.prevClose, c.havePrev = 0, false
	c.value = 0
}

// monoDeque keeps a rolling max (or min) with amortized O(1) updates.
type monoDeque struct {
	max  bool
	idx  []int
	vals []float64
}

func (d *monoDeque) push(i int, v float64) {
	for n := len(d.vals); n > 0; n = len(d.vals) {
		last := d.vals[n-1]
		if (d.max && last > v) || (!d.max && last < v) {
			break
		}
		d.vals = d.vals[:n-1]
		d.idx = d.idx[:n-1]
	}
	d.vals = append(d.vals, v)
	d.idx = append(d.idx, i)
}

func (d *monoDeque) expire(minIdx int) {
	cut := 0
	for cut < len(d.idx) && d.idx[cut] < minIdx {
		cut++
	}
	if cut > 0 {
		d.idx = d.idx[cut:]
		d.vals = d.vals[cut:]
	}
}

func (d *monoDeque) front() float64 {
	if len(d.vals) == 0 {
		return 0
	}
	return d.vals[0]
}

func (d *monoDeque) reset() {
	d.idx = d.idx[:0]
	d.vals = d.vals[:0]
}
