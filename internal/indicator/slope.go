package indicator

// Slope is the ordinary least squares slope of the last period closes,
// divided by the latest close so thresholds do not depend on price level.
type Slope struct {
	window *SMA
	sumXY  float64
	last   float64
	value  float64
}

func NewSlope(period int) *Slope {
	if period < 2 {
		period = 2
	}
	return &Slope{window: NewSMA(period)}
}

// Update adds a close and returns the normalized slope (fraction per bar).
func (s *Slope) Update(close float64) float64 {
	w := s.window
	if w.Ready() {
		// shift x indices down by one as the oldest sample leaves
		n := float64(w.period)
		sumY := w.sum - w.oldest() + close
		s.sumXY = s.sumXY + (n-1)*close - (sumY - close)
		w.Update(close)
	} else {
		s.sumXY += float64(w.count) * close
		w.Update(close)
	}
	s.last = close
	s.value = s.compute()
	return s.value
}

func (s *Slope) compute() float64 {
	n := float64(s.window.count)
	if n < 2 || s.last == 0 {
		return 0
	}
	sumX := n * (n - 1) / 2
	sumXX := (n - 1) * n * (2*n - 1) / 6
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	slope := (n*s.sumXY - sumX*s.window.sum) / den
	return slope / s.last
}

func (s *Slope) Value() float64 { return s.value }

func (s *Slope) Ready() bool { return s.window.Ready() }

func (s *Slope) Seed(closes []float64) {
	for _, c := range closes {
		s.Update(c)
	}
}

func (s *Slope) Reset() {
	s.window.Reset()
	s.sumXY, s.last, s.value = 0, 0, 0
}
