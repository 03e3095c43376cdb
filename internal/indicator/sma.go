package indicator

// SMA is a simple moving average over a circular buffer.
type SMA struct {
	period int
	buf    []float64
	idx    int
	count  int
	sum    float64
}

// NewSMA creates a new SMA with the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{period: period, buf: make([]float64, period)}
}

// Update adds a sample and returns the current average. While warming up the
// average covers the samples seen so far.
func (s *SMA) Update(v float64) float64 {
	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	} else {
		s.count++
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	return s.Value()
}

func (s *SMA) Value() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func (s *SMA) Ready() bool { return s.count >= s.period }

func (s *SMA) Period() int { return s.period }

// Seed replays historical samples, oldest first.
func (s *SMA) Seed(values []float64) {
	for _, v := range values {
		s.Update(v)
	}
}

func (s *SMA) Reset() {
	s.idx, s.count, s.sum = 0, 0, 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// oldest returns the sample that the next Update will evict.
func (s *SMA) oldest() float64 { return s.buf[s.idx] }
