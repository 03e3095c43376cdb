package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/pkg/logger"
)

// Stats describes one replay run.
type Stats struct {
	Sources   int
	Loaded    int
	Malformed int
	Synthetic int
	Delivered int
}

// skipper is implemented by sources that drop malformed input.
type skipper interface {
	Skipped() int
}

// Replay delivers finite sources in timestamp order. Each tick is handed over
// on an unbuffered channel and the producer waits for the handler to finish
// before producing the next one.
type Replay struct {
	sources  []Source
	bridge   *Bridge
	speed    float64
	maxDelay time.Duration
	log      *logger.Logger
	metrics  domrepo.Metrics

	stats Stats
}

type ReplayOption func(*Replay)

// WithSpeed scales real inter-tick gaps; 0 replays instantly.
func WithSpeed(speed float64) ReplayOption {
	return func(r *Replay) {
		if speed >= 0 {
			r.speed = speed
		}
	}
}

// WithMaxDelay caps the sleep between two delivered ticks.
func WithMaxDelay(d time.Duration) ReplayOption {
	return func(r *Replay) { r.maxDelay = d }
}

// WithBridge enables gap interpolation.
func WithBridge(b *Bridge) ReplayOption {
	return func(r *Replay) { r.bridge = b }
}

func WithLogger(l *logger.Logger) ReplayOption {
	return func(r *Replay) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m domrepo.Metrics) ReplayOption {
	return func(r *Replay) { r.metrics = m }
}

func NewReplay(sources []Source, opts ...ReplayOption) *Replay {
	r := &Replay{
		sources:  sources,
		maxDelay: 5 * time.Second,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Component("replay")
	return r
}

// Stats returns counters of the last Run. Call after Run returns.
func (r *Replay) Stats() Stats { return r.stats }

// Load reads, interpolates and merges every source.
func (r *Replay) Load(ctx context.Context) ([]models.PriceTick, error) {
	streams := make([][]models.PriceTick, 0, len(r.sources))
	r.stats = Stats{Sources: len(r.sources)}
	for _, src := range r.sources {
		ticks, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", src.Name(), err)
		}
		slices.SortStableFunc(ticks, func(a, b models.PriceTick) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		r.stats.Loaded += len(ticks)
		if sk, ok := src.(skipper); ok {
			r.stats.Malformed += sk.Skipped()
		}
		if r.bridge != nil {
			before := len(ticks)
			ticks = r.bridge.Fill(src.Name(), ticks)
			r.stats.Synthetic += len(ticks) - before
		}
		r.log.Info("source loaded",
			logger.String("name", src.Name()), logger.Int("ticks", len(ticks)))
		streams = append(streams, ticks)
	}
	return Merge(streams...), nil
}

// Run delivers every tick to h and returns when the sources are exhausted,
// h fails, or ctx is cancelled.
func (r *Replay) Run(ctx context.Context, h Handler) error {
	ticks, err := r.Load(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan models.PriceTick)
	ack := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		r.produce(runCtx, ticks, out, ack)
	}()

	start := time.Now()
	var runErr error
	for t := range out {
		if runCtx.Err() != nil {
			break
		}
		if err := h(runCtx, t); err != nil {
			runErr = err
			break
		}
		r.stats.Delivered++
		if r.metrics != nil {
			r.metrics.RecordTick(t.Symbol, t.Synthetic)
		}
		select {
		case ack <- struct{}{}:
		case <-runCtx.Done():
		}
	}
	cancel()
	wg.Wait()

	if runErr == nil {
		runErr = ctx.Err()
	}
	r.log.Info("replay finished",
		logger.Int("delivered", r.stats.Delivered),
		logger.Int("synthetic", r.stats.Synthetic),
		logger.Duration("elapsed", time.Since(start)),
		logger.Error(runErr))
	return runErr
}

func (r *Replay) produce(ctx context.Context, ticks []models.PriceTick, out chan<- models.PriceTick, ack <-chan struct{}) {
	for i, t := range ticks {
		if i > 0 {
			if d := r.delay(ticks[i-1].Timestamp, t.Timestamp); d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
			}
		}
		select {
		case out <- t:
		case <-ctx.Done():
			return
		}
		select {
		case <-ack:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Replay) delay(prev, next time.Time) time.Duration {
	if r.speed == 0 {
		return 0
	}
	d := time.Duration(float64(next.Sub(prev)) / r.speed)
	if d < 0 {
		return 0
	}
	if r.maxDelay > 0 && d > r.maxDelay {
		return r.maxDelay
	}
	return d
}
