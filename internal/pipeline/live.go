package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/internal/middleware"
	"ProxyTrader/pkg/logger"
)

// ErrFeedClosed is returned by Subscribe after Close.
var ErrFeedClosed = errors.New("live feed closed")

// LiveFeed fans per-symbol market data streams into one unbounded queue read
// by a single consumer.
type LiveFeed struct {
	md      domrepo.MarketData
	guard   *middleware.TickGuard
	log     *logger.Logger
	metrics domrepo.Metrics
	q       *tickQueue

	mu     sync.Mutex // guards subs and closed
	subs   map[string]context.CancelFunc
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type LiveOption func(*LiveFeed)

// WithGuard filters ticks before they reach the handler.
func WithGuard(g *middleware.TickGuard) LiveOption {
	return func(f *LiveFeed) { f.guard = g }
}

func WithLiveLogger(l *logger.Logger) LiveOption {
	return func(f *LiveFeed) {
		if l != nil {
			f.log = l
		}
	}
}

func WithLiveMetrics(m domrepo.Metrics) LiveOption {
	return func(f *LiveFeed) { f.metrics = m }
}

func NewLiveFeed(md domrepo.MarketData, opts ...LiveOption) *LiveFeed {
	f := &LiveFeed{
		md:   md,
		log:  logger.NewNop(),
		subs: make(map[string]context.CancelFunc),
		q:    newTickQueue(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.Component("live_feed")
	return f
}

// Subscribe starts forwarding symbol's ticks. Subscribing twice is a no-op.
func (f *LiveFeed) Subscribe(ctx context.Context, symbol string, isBenchmark bool) error {
	f.mu.Lock()
	_, exists := f.subs[symbol]
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return ErrFeedClosed
	}
	if exists {
		return nil
	}

	ch, err := f.md.Subscribe(ctx, symbol, isBenchmark)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		return ErrFeedClosed
	}
	f.subs[symbol] = cancel
	f.wg.Add(1)
	f.mu.Unlock()

	go f.forward(subCtx, ch)
	f.log.Info("subscribed", logger.String("symbol", symbol), logger.Bool("benchmark", isBenchmark))
	return nil
}

// Unsubscribe stops forwarding symbol's ticks.
func (f *LiveFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	cancel, ok := f.subs[symbol]
	delete(f.subs, symbol)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	if err := f.md.Unsubscribe(symbol); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", symbol, err)
	}
	return nil
}

// Symbols lists the active subscriptions.
func (f *LiveFeed) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for s := range f.subs {
		out = append(out, s)
	}
	return out
}

func (f *LiveFeed) forward(ctx context.Context, ch <-chan models.PriceTick) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			select {
			case f.q.in <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Run delivers queued ticks to h until ctx is cancelled, h fails, or the
// feed is closed and drained. Connection events and adapter errors are
// logged as they arrive.
func (f *LiveFeed) Run(ctx context.Context, h Handler) error {
	states := f.md.States()
	errs := f.md.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-f.q.out:
			if !ok {
				return nil
			}
			if f.guard != nil && !f.guard.Accept(t) {
				continue
			}
			if f.metrics != nil {
				f.metrics.RecordTick(t.Symbol, t.Synthetic)
			}
			if err := h(ctx, t); err != nil {
				return err
			}
		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			f.onState(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			f.log.Warn("market data error", logger.Error(err))
			if f.metrics != nil {
				f.metrics.RecordError("market_data")
			}
		}
	}
}

func (f *LiveFeed) onState(ev models.ConnectionEvent) {
	fields := []logger.Field{logger.String("state", string(ev.State)), logger.Time("at", ev.At)}
	if ev.Err != nil {
		fields = append(fields, logger.Error(ev.Err))
	}
	f.log.Info("market data connection", fields...)
	if ev.State == models.StateReconnecting && f.guard != nil {
		f.guard.Reset()
	}
}

// Close cancels all subscriptions and stops the queue. Ticks not yet read by
// Run are dropped.
func (f *LiveFeed) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		cancels := make([]context.CancelFunc, 0, len(f.subs))
		for sym, c := range f.subs {
			cancels = append(cancels, c)
			delete(f.subs, sym)
		}
		f.mu.Unlock()

		for _, c := range cancels {
			c()
		}
		f.wg.Wait()
		f.q.close()
		f.q.abandon()
	})
}
