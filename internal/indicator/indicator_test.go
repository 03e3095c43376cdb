package indicator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"ProxyTrader/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(o, h, l, c float64) models.Candle {
	return models.Candle{OpenTime: time.Unix(0, 0), Open: o, High: h, Low: l, Close: c, Ticks: 1}
}

func mean(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func TestSMAMatchesWindowMean(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, period := range []int{1, 2, 5, 20, 64} {
		sma := NewSMA(period)
		var xs []float64
		for i := 0; i < 300; i++ {
			x := 100 + r.NormFloat64()*5
			xs = append(xs, x)
			got := sma.Update(x)
			if len(xs) >= period {
				require.True(t, sma.Ready())
				assert.InDelta(t, mean(xs[len(xs)-period:]), got, 1e-9, "period=%d n=%d", period, len(xs))
			} else {
				assert.False(t, sma.Ready())
			}
		}
	}
}

func TestSMAEmptyAndReset(t *testing.T) {
	sma := NewSMA(3)
	assert.Equal(t, 0.0, sma.Value())
	sma.Seed([]float64{1, 2, 3, 4})
	assert.InDelta(t, 3.0, sma.Value(), 1e-12)
	sma.Reset()
	assert.False(t, sma.Ready())
	assert.Equal(t, 0.0, sma.Value())
}

func TestBandWidthMatchesPopulationStdDev(t *testing.T) {
	bw := NewBandWidth(5, 2, 3)
	closes := []float64{10, 11, 12, 13, 14, 15, 13}
	for _, c := range closes {
		bw.Update(c)
	}
	window := closes[len(closes)-5:]
	m := mean(window)
	v := 0.0
	for _, x := range window {
		v += (x - m) * (x - m)
	}
	sd := math.Sqrt(v / 5)

	require.True(t, bw.Ready())
	assert.InDelta(t, m, bw.Middle(), 1e-9)
	assert.InDelta(t, m+2*sd, bw.Upper(), 1e-9)
	assert.InDelta(t, m-2*sd, bw.Lower(), 1e-9)
	assert.InDelta(t, 4*sd/m, bw.Value(), 1e-9)
}

func TestBandWidthExpansion(t *testing.T) {
	bw := NewBandWidth(5, 2, 5)
	for i := 0; i < 20; i++ {
		bw.Update(100)
	}
	assert.False(t, bw.Expanding())
	for _, c := range []float64{101, 103, 106} {
		bw.Update(c)
	}
	assert.True(t, bw.Expanding())
	assert.Greater(t, bw.Value(), bw.Average())

	bw.Reset()
	assert.False(t, bw.Ready())
	assert.Equal(t, 0.0, bw.Upper())
}

func TestChopTrendVersusRange(t *testing.T) {
	trend := NewChop(10)
	for i := 0; i < 30; i++ {
		p := 100 + float64(i)
		trend.Update(candle(p, p+0.6, p-0.1, p+0.5))
	}
	require.True(t, trend.Ready())

	rng := NewChop(10)
	for i := 0; i < 30; i++ {
		p := 100.0
		if i%2 == 0 {
			rng.Update(candle(p, p+2, p-0.2, p+1.8))
		} else {
			rng.Update(candle(p+1.8, p+2, p-0.2, p))
		}
	}
	require.True(t, rng.Ready())

	assert.Less(t, trend.Value(), 40.0)
	assert.Greater(t, rng.Value(), 60.0)
	for _, v := range []float64{trend.Value(), rng.Value()} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestChopFlatMarket(t *testing.T) {
	c := NewChop(3)
	for i := 0; i < 5; i++ {
		c.Update(candle(50, 50, 50, 50))
	}
	assert.Equal(t, 100.0, c.Value())
}

func TestATRWilder(t *testing.T) {
	atr := NewATR(3)
	atr.Update(candle(10, 11, 9, 10))  // tr 2
	atr.Update(candle(10, 12, 10, 11)) // tr 2
	assert.False(t, atr.Ready())
	atr.Update(candle(11, 14, 11, 13)) // tr 3
	require.True(t, atr.Ready())
	assert.InDelta(t, 7.0/3, atr.Value(), 1e-12)

	atr.Update(candle(13, 13.5, 7, 8)) // tr 6.5
	assert.InDelta(t, (7.0/3*2+6.5)/3, atr.Value(), 1e-12)

	atr.Reset()
	assert.False(t, atr.Ready())
	assert.Equal(t, 0.0, atr.Value())
}

func TestSlopeMatchesBatchOLS(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	s := NewSlope(8)
	var ys []float64
	for i := 0; i < 100; i++ {
		y := 200 + float64(i)*0.3 + r.NormFloat64()
		ys = append(ys, y)
		got := s.Update(y)
		if len(ys) < 2 {
			continue
		}
		w := ys
		if len(w) > 8 {
			w = w[len(w)-8:]
		}
		assert.InDelta(t, olsSlope(w)/y, got, 1e-9, "i=%d", i)
	}
	assert.True(t, s.Ready())
	assert.Greater(t, s.Value(), 0.0)
}

func TestSlopeSignFollowsDirection(t *testing.T) {
	s := NewSlope(5)
	s.Seed([]float64{10, 9, 8, 7, 6})
	assert.InDelta(t, -1.0/6, s.Value(), 1e-12)
	s.Reset()
	assert.Equal(t, 0.0, s.Value())
}

func olsSlope(ys []float64) float64 {
	n := float64(len(ys))
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	return (n*sxy - sx*sy) / (n*sxx - sx*sx)
}
