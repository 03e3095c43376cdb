// Package kafkafeed is a MarketData backend that reads trade prints from a
// Kafka topic instead of a vendor socket.
package kafkafeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	pkgkafka "ProxyTrader/pkg/kafka"
	"ProxyTrader/pkg/logger"
)

// Runner is the part of *pkgkafka.Consumer the feed drives.
type Runner interface {
	RegisterHandler(h pkgkafka.MessageHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type subscription struct {
	ch          chan models.PriceTick
	isBenchmark bool
}

// Feed routes each decoded tick to the subscriber for its symbol. Messages
// for symbols nobody subscribed to are acknowledged and dropped, as are
// ticks for a subscriber whose buffer is full.
type Feed struct {
	topic   string
	runner  Runner
	history domrepo.PriceHistory
	metrics domrepo.Metrics
	log     *logger.Logger
	bufSize int

	mu      sync.RWMutex
	subs    map[string]*subscription
	running bool
	dropped atomic.Int64

	states chan models.ConnectionEvent
	errs   chan error
}

type Option func(*Feed)

// WithHistory serves GetHistoricalPrices from archived candles.
func WithHistory(h domrepo.PriceHistory) Option {
	return func(f *Feed) { f.history = h }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.log = l
		}
	}
}

func New(topic string, runner Runner, opts ...Option) *Feed {
	f := &Feed{
		topic:   topic,
		runner:  runner,
		log:     logger.NewNop(),
		bufSize: 1024,
		subs:    make(map[string]*subscription),
		states:  make(chan models.ConnectionEvent, 16),
		errs:    make(chan error, 16),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.Component("kafka_feed").With(logger.String("topic", topic))
	return f
}

func (f *Feed) Topic() string { return f.topic }

// tickMessage accepts the producer schema {symbol, t, c, v}; t may be in
// seconds or milliseconds.
type tickMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
}

// Handle implements pkgkafka.MessageHandler. It never blocks on a slow
// subscriber.
func (f *Feed) Handle(_ context.Context, b []byte) error {
	var m tickMessage
	if err := json.Unmarshal(b, &m); err != nil {
		err = fmt.Errorf("decode tick: %w", err)
		f.recordError("kafka_decode")
		f.emitErr(err)
		return pkgkafka.Permanent(err)
	}
	ts := time.Unix(m.T, 0)
	if m.T > 1e11 {
		ts = time.UnixMilli(m.T)
	}
	sym := strings.ToUpper(m.Symbol)

	f.mu.RLock()
	defer f.mu.RUnlock()
	sub, ok := f.subs[sym]
	if !ok {
		return nil
	}
	tick := models.PriceTick{
		Symbol:      sym,
		Price:       m.C,
		Volume:      m.V,
		IsBenchmark: sub.isBenchmark,
		Timestamp:   ts.UTC(),
		Source:      "kafka",
	}
	if f.metrics != nil {
		f.metrics.RecordLatency("kafka_ingest_lag", time.Since(tick.Timestamp).Seconds())
	}
	select {
	case sub.ch <- tick:
	default:
		f.dropped.Add(1)
		f.recordError("kafka_backpressure")
		f.log.Warn("dropping tick on backpressure", logger.String("symbol", sym))
	}
	return nil
}

// Dropped counts ticks discarded because a subscriber fell behind.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.mu.Unlock()

	f.emitState(models.StateConnecting, nil)
	f.runner.RegisterHandler(f)
	if err := f.runner.Start(ctx); err != nil {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		f.emitState(models.StateDisconnected, err)
		return fmt.Errorf("kafka feed start: %w", err)
	}
	f.emitState(models.StateConnected, nil)
	f.log.Info("consuming")
	return nil
}

func (f *Feed) Disconnect() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := f.runner.Stop(ctx)

	for _, sym := range f.Symbols() {
		_ = f.Unsubscribe(sym)
	}
	f.emitState(models.StateDisconnected, nil)
	f.log.Info("stopped", logger.Int64("dropped", f.Dropped()))
	return err
}

func (f *Feed) Subscribe(_ context.Context, symbol string, isBenchmark bool) (<-chan models.PriceTick, error) {
	symbol = strings.ToUpper(symbol)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil, domrepo.ErrNotConnected
	}
	if _, ok := f.subs[symbol]; ok {
		return nil, fmt.Errorf("already subscribed to %s", symbol)
	}
	sub := &subscription{
		ch:          make(chan models.PriceTick, f.bufSize),
		isBenchmark: isBenchmark,
	}
	f.subs[symbol] = sub
	return sub.ch, nil
}

func (f *Feed) Unsubscribe(symbol string) error {
	symbol = strings.ToUpper(symbol)
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[symbol]; ok {
		delete(f.subs, symbol)
		close(sub.ch)
	}
	return nil
}

// Symbols lists current subscriptions.
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.subs))
	for s := range f.subs {
		out = append(out, s)
	}
	return out
}

// GetHistoricalPrices reads one-minute closes from the archive when one is
// configured.
func (f *Feed) GetHistoricalPrices(ctx context.Context, symbol string, count int) ([]float64, error) {
	if f.history == nil {
		return nil, fmt.Errorf("kafka feed: no price history configured")
	}
	return f.history.LatestCloses(ctx, strings.ToUpper(symbol), count, domrepo.TF1m)
}

func (f *Feed) States() <-chan models.ConnectionEvent { return f.states }

func (f *Feed) Errors() <-chan error { return f.errs }

func (f *Feed) emitState(s models.ConnectionState, err error) {
	select {
	case f.states <- models.ConnectionEvent{State: s, At: time.Now().UTC(), Err: err}:
	default:
	}
}

func (f *Feed) emitErr(err error) {
	select {
	case f.errs <- err:
	default:
	}
}

func (f *Feed) recordError(kind string) {
	if f.metrics != nil {
		f.metrics.RecordError(kind)
	}
}

var (
	_ domrepo.MarketData      = (*Feed)(nil)
	_ pkgkafka.MessageHandler = (*Feed)(nil)
)
