package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/internal/pipeline"
	"ProxyTrader/pkg/logger"
)

// ErrLeaseHeld is returned when another engine instance owns the benchmark.
var ErrLeaseHeld = errors.New("engine lease held by another instance")

// Lease guards a benchmark against two live engines writing the same state.
type Lease interface {
	Acquire(ctx context.Context, symbol string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, symbol string, ttl time.Duration) error
	Release(ctx context.Context, symbol string) error
}

// LiveRunner connects market data, subscribes the benchmark and both proxies
// and feeds the engine until ctx ends.
type LiveRunner struct {
	md       domrepo.MarketData
	feed     *pipeline.LiveFeed
	engine   *Engine
	recorder *TickRecorder
	log      *logger.Logger

	lease    Lease
	leaseTTL time.Duration

	benchmark string
	proxies   []string
}

type LiveRunnerOption func(*LiveRunner)

// WithRecorder archives every delivered tick.
func WithRecorder(rec *TickRecorder) LiveRunnerOption {
	return func(r *LiveRunner) { r.recorder = rec }
}

// WithLease holds lease for the benchmark while running, renewing it every
// ttl/3.
func WithLease(l Lease, ttl time.Duration) LiveRunnerOption {
	return func(r *LiveRunner) {
		r.lease = l
		r.leaseTTL = ttl
	}
}

func WithRunnerLogger(l *logger.Logger) LiveRunnerOption {
	return func(r *LiveRunner) {
		if l != nil {
			r.log = l
		}
	}
}

func NewLiveRunner(
	md domrepo.MarketData,
	feed *pipeline.LiveFeed,
	engine *Engine,
	benchmark string,
	proxies []string,
	opts ...LiveRunnerOption,
) *LiveRunner {
	r := &LiveRunner{
		md:        md,
		feed:      feed,
		engine:    engine,
		log:       logger.NewNop(),
		leaseTTL:  30 * time.Second,
		benchmark: benchmark,
		proxies:   proxies,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Component("live_runner")
	return r
}

func (r *LiveRunner) Run(ctx context.Context) error {
	if r.lease != nil {
		release, err := r.holdLease(ctx)
		if err != nil {
			return err
		}
		defer release()
	}
	if err := r.md.Connect(ctx); err != nil {
		return fmt.Errorf("connect market data: %w", err)
	}
	defer r.shutdown()

	if err := r.engine.Start(ctx); err != nil {
		return err
	}
	if err := r.feed.Subscribe(ctx, r.benchmark, true); err != nil {
		return err
	}
	for _, p := range r.proxies {
		if err := r.feed.Subscribe(ctx, p, false); err != nil {
			return err
		}
	}

	h := r.engine.Handle
	if r.recorder != nil {
		r.recorder.Start(ctx)
		h = r.recorder.Wrap(h)
	}
	r.log.Info("live trading started", logger.String("benchmark", r.benchmark), logger.Strings("proxies", r.proxies))
	err := r.feed.Run(ctx, h)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *LiveRunner) holdLease(ctx context.Context) (func(), error) {
	ok, err := r.lease.Acquire(ctx, r.benchmark, r.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", r.benchmark, ErrLeaseHeld)
	}

	renewCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(r.leaseTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-t.C:
				if err := r.lease.Renew(renewCtx, r.benchmark, r.leaseTTL); err != nil && renewCtx.Err() == nil {
					r.log.Error("lease renew failed", logger.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer relCancel()
		if err := r.lease.Release(relCtx, r.benchmark); err != nil {
			r.log.Warn("lease release failed", logger.Error(err))
		}
	}, nil
}

func (r *LiveRunner) shutdown() {
	r.feed.Close()
	if r.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.recorder.Stop(ctx); err != nil {
			r.log.Warn("tick recorder stop", logger.Error(err), logger.Int64("dropped", r.recorder.Dropped()))
		}
		cancel()
	}
	if err := r.md.Disconnect(); err != nil {
		r.log.Warn("market data disconnect", logger.Error(err))
	}
}

// ReplayRunner drives the engine from a finite replay.
type ReplayRunner struct {
	replay *pipeline.Replay
	engine *Engine
	log    *logger.Logger
}

func NewReplayRunner(replay *pipeline.Replay, engine *Engine, log *logger.Logger) *ReplayRunner {
	if log == nil {
		log = logger.NewNop()
	}
	return &ReplayRunner{replay: replay, engine: engine, log: log.Component("replay_runner")}
}

// Stats reports the replay counters of the last Run.
func (r *ReplayRunner) Stats() pipeline.Stats { return r.replay.Stats() }

// Run returns once every tick was delivered.
func (r *ReplayRunner) Run(ctx context.Context) error {
	if err := r.engine.Start(ctx); err != nil {
		return err
	}
	if err := r.replay.Run(ctx, r.engine.Handle); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	st := r.engine.Status()
	stats := r.replay.Stats()
	r.log.Info("replay complete",
		logger.Int("delivered", stats.Delivered),
		logger.Int("synthetic", stats.Synthetic),
		logger.Int("malformed", stats.Malformed),
		logger.Int("signals", st.Signals),
		logger.Int("trades", st.Trades),
		logger.String("realized_pnl", st.RealizedPnL.StringFixed(2)),
		logger.Stringer("position", st.Position.Direction))
	return nil
}
