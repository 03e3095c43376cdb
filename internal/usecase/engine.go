package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	domsvc "ProxyTrader/internal/domain/service"
	"ProxyTrader/internal/regime"
	"ProxyTrader/internal/risk"
	"ProxyTrader/pkg/config"
	"ProxyTrader/pkg/logger"
)

var (
	// ErrFlat is returned by Flatten when no position is open.
	ErrFlat = errors.New("no open position")
	// ErrNoQuote is returned when a proxy has no usable price.
	ErrNoQuote = errors.New("no proxy quote")
)

const recentSignals = 512

// HistoricalPrices is the seeding subset of MarketData.
type HistoricalPrices interface {
	GetHistoricalPrices(ctx context.Context, symbol string, count int) ([]float64, error)
}

// QuoteSink receives proxy trades, e.g. a paper broker.
type QuoteSink interface {
	UpdatePrice(symbol string, price float64, at time.Time)
}

type snapshotter interface {
	Snapshot() regime.Snapshot
}

type openPosition struct {
	dir      models.Direction
	symbol   string
	qty      int64
	entry    decimal.Decimal
	openedAt time.Time
}

// FlattenResult reports a manual flatten.
type FlattenResult struct {
	Symbol    string          `json:"symbol"`
	Requested int64           `json:"requested"`
	Filled    int64           `json:"filled"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	Remaining int64           `json:"remaining"`
}

// Engine turns benchmark ticks into proxy positions: classifier, then risk,
// then execution. Handle and Flatten are serialized; Status and
// RecentSignals may be called from any goroutine.
type Engine struct {
	cfg     config.TradingConfig
	signals domsvc.SignalSource
	stop    *risk.TrailingStop
	exec    domsvc.OrderExecutor
	broker  domrepo.Broker

	store   domrepo.StateStore
	pub     domrepo.SignalPublisher
	history HistoricalPrices
	quotes  QuoteSink
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	loop          sync.Mutex
	pos           openPosition
	lastSig       models.MarketRegime
	skipEntry     models.Direction
	realized      decimal.Decimal
	trades        int
	signalCount   int
	saved         models.TradingState
	pending       *models.TradingState
	lastBenchmark float64
	lastTick      time.Time
	recovered     bool

	statusMu sync.RWMutex
	status   Status
	ring     *signalRing
}

type EngineOption func(*Engine)

func WithStateStore(s domrepo.StateStore) EngineOption {
	return func(e *Engine) { e.store = s }
}

func WithSignalPublisher(p domrepo.SignalPublisher) EngineOption {
	return func(e *Engine) { e.pub = p }
}

// WithHistory seeds the classifier on Start.
func WithHistory(h HistoricalPrices) EngineOption {
	return func(e *Engine) { e.history = h }
}

// WithQuoteSink forwards proxy ticks, typically to a paper broker.
func WithQuoteSink(q QuoteSink) EngineOption {
	return func(e *Engine) { e.quotes = q }
}

func WithEngineMetrics(m domrepo.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	cfg config.TradingConfig,
	signals domsvc.SignalSource,
	stop *risk.TrailingStop,
	exec domsvc.OrderExecutor,
	broker domrepo.Broker,
	opts ...EngineOption,
) *Engine {
	cfg.BenchmarkSymbol = strings.ToUpper(cfg.BenchmarkSymbol)
	cfg.BullSymbol = strings.ToUpper(cfg.BullSymbol)
	cfg.BearSymbol = strings.ToUpper(cfg.BearSymbol)
	e := &Engine{
		cfg:     cfg,
		signals: signals,
		stop:    stop,
		exec:    exec,
		broker:  broker,
		log:     logger.NewNop(),
		now:     time.Now,
		ring:    newSignalRing(recentSignals),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Component("engine").With(logger.String("benchmark", cfg.BenchmarkSymbol))
	e.lastSig = models.MarketRegime{Symbol: cfg.BenchmarkSymbol}
	e.publishStatus()
	return e
}

// Start seeds indicators from history and restores the persisted risk
// snapshot. A snapshot whose stop is already breached is flattened here.
func (e *Engine) Start(ctx context.Context) error {
	e.loop.Lock()
	defer e.loop.Unlock()

	e.seed(ctx)
	err := e.recover(ctx)
	e.publishStatus()
	return err
}

func (e *Engine) seed(ctx context.Context) {
	if e.history == nil || e.cfg.SeedBars <= 0 {
		return
	}
	closes, err := e.history.GetHistoricalPrices(ctx, e.cfg.BenchmarkSymbol, e.cfg.SeedBars)
	if err != nil {
		e.log.Warn("seed history unavailable", logger.Error(err))
		e.recordError("seed")
		return
	}
	if len(closes) == 0 {
		return
	}
	e.signals.Seed(closes)
	e.lastBenchmark = closes[len(closes)-1]
}

func (e *Engine) recover(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	st, err := e.store.Load(ctx, e.cfg.BenchmarkSymbol)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	if st == nil {
		return nil
	}
	price := e.benchmarkPrice(ctx)
	if price <= 0 && st.PositionDirection.IsDirectional() {
		e.log.Warn("no benchmark price yet, restore deferred to first tick")
		e.pending = st
		return nil
	}
	return e.restore(ctx, *st, price)
}

func (e *Engine) benchmarkPrice(ctx context.Context) float64 {
	if e.lastBenchmark > 0 {
		return e.lastBenchmark
	}
	if p, ok := e.broker.GetLatestPrice(ctx, e.cfg.BenchmarkSymbol).Price(); ok {
		return p
	}
	return 0
}

func (e *Engine) restore(ctx context.Context, st models.TradingState, price float64) error {
	rec, err := e.stop.Restore(st, price)
	if errors.Is(err, risk.ErrInconsistentState) {
		e.log.Error("discarding persisted risk state", logger.Error(err))
		e.recordError("state_restore")
		if cerr := e.store.Clear(ctx, e.cfg.BenchmarkSymbol); cerr != nil {
			e.log.Warn("clear risk state failed", logger.Error(cerr))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore risk state: %w", err)
	}
	e.saved = stripped(e.stop.Snapshot())
	e.recovered = true

	if rec.Direction.IsDirectional() {
		symbol := e.proxyFor(rec.Direction)
		p, err := e.broker.GetPosition(ctx, symbol)
		if err != nil {
			return fmt.Errorf("load %s position: %w", symbol, err)
		}
		if p == nil || p.Quantity <= 0 {
			e.log.Warn("restored state has no broker position", logger.String("proxy", symbol))
			e.stop.Reset()
		} else {
			e.pos = openPosition{dir: rec.Direction, symbol: symbol, qty: p.Quantity, entry: p.AvgEntryPrice, openedAt: st.UpdatedAt}
		}
	}
	e.log.Info("risk state restored",
		logger.Stringer("position", rec.Direction),
		logger.Int64("qty", e.pos.qty),
		logger.Float64("stop", rec.Stop),
		logger.Bool("latched", st.IsStoppedOut))

	if rec.StopBreached && e.pos.qty > 0 {
		e.log.Error("emergency flatten of restored position", logger.String("proxy", e.pos.symbol))
		if _, err := e.exit(ctx, "recovery"); err != nil && !errors.Is(err, ErrNoQuote) {
			return fmt.Errorf("emergency flatten: %w", err)
		}
	}
	e.persist(ctx, e.now())
	return nil
}

// Handle processes one tick. Ticks for unrelated symbols are ignored. It
// only returns an error when ctx ends mid-trade or the restore fails.
func (e *Engine) Handle(ctx context.Context, t models.PriceTick) error {
	e.loop.Lock()
	defer e.loop.Unlock()

	start := time.Now()
	var err error
	switch t.Symbol {
	case e.cfg.BullSymbol, e.cfg.BearSymbol:
		if e.quotes != nil {
			e.quotes.UpdatePrice(t.Symbol, t.Price, t.Timestamp)
		}
	case e.cfg.BenchmarkSymbol:
		err = e.onBenchmark(ctx, t)
	default:
		return nil
	}
	if e.metrics != nil {
		e.metrics.RecordLastPrice(t.Symbol, t.Price)
		e.metrics.RecordLatency("engine_tick", time.Since(start).Seconds())
	}
	e.publishStatus()
	return err
}

func (e *Engine) onBenchmark(ctx context.Context, t models.PriceTick) error {
	if e.pending != nil {
		st := *e.pending
		e.pending = nil
		if err := e.restore(ctx, st, t.Price); err != nil {
			return err
		}
	}
	e.lastBenchmark = t.Price
	e.lastTick = t.Timestamp

	sig := e.signals.OnTick(t)
	in := risk.Input{Signal: sig, Price: t.Price, At: t.Timestamp, Position: e.pos.dir}
	if upper, lower, ok := e.signals.Bands(); ok {
		in.Bands = risk.Bands{Upper: upper, Lower: lower, Ready: true}
	}
	d := e.stop.Evaluate(in)
	if d.Triggered {
		e.signals.NotifyStopOut(e.pos.dir, t.Price, d.ReleaseAt)
		if e.metrics != nil {
			e.metrics.RecordStopTrigger(e.cfg.BenchmarkSymbol)
		}
	}
	if d.Blocked && e.metrics != nil {
		e.metrics.RecordLatchBlock(e.cfg.BenchmarkSymbol)
	}
	if d.LatchCleared {
		e.signals.ClearStopOut()
	}

	e.emit(ctx, d.Signal)
	err := e.apply(ctx, d.Signal)
	e.persist(ctx, t.Timestamp)
	return err
}

// emit records a signal when its direction changes.
func (e *Engine) emit(ctx context.Context, sig models.MarketRegime) {
	prev := e.lastSig.Direction
	e.lastSig = sig
	if sig.Direction != e.skipEntry {
		e.skipEntry = models.Neutral
	}
	if sig.Direction == prev {
		return
	}
	e.signalCount++
	e.statusMu.Lock()
	e.ring.push(sig)
	e.statusMu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordSignal(sig.Direction.String(), sig.StrategyMode.String())
	}
	e.log.Info("signal",
		logger.Stringer("from", prev),
		logger.Stringer("to", sig.Direction),
		logger.Stringer("mode", sig.StrategyMode),
		logger.String("phase", sig.Phase),
		logger.Bool("displacement", sig.IsDisplacementReentry),
		logger.Float64("price", sig.Price))
	if e.pub != nil {
		if err := e.pub.Publish(ctx, sig); err != nil {
			e.log.Warn("publish signal failed", logger.Error(err))
			e.recordError("publish")
		}
	}
}

// apply moves the book toward the signal: exit whatever is held if it is
// not the target proxy, then enter the target.
func (e *Engine) apply(ctx context.Context, sig models.MarketRegime) error {
	want := e.proxyFor(sig.Direction)
	if want == e.pos.symbol {
		return nil
	}
	plan := models.TradePlan{From: e.pos.dir, To: sig.Direction, Symbol: want}

	if e.pos.qty > 0 {
		if _, err := e.exit(ctx, "signal"); err != nil {
			return e.tradeErr(ctx, err)
		}
		if e.pos.qty > 0 {
			return nil
		}
	}
	if want == "" || e.skipEntry == sig.Direction {
		return nil
	}
	return e.tradeErr(ctx, e.enter(ctx, plan))
}

func (e *Engine) tradeErr(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrNoQuote) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (e *Engine) enter(ctx context.Context, plan models.TradePlan) error {
	px, err := e.proxyPrice(ctx, plan.Symbol)
	if err != nil {
		return err
	}
	plan.Qty = decimal.NewFromFloat(e.cfg.PositionSizeUSD).Div(decimal.NewFromFloat(px)).IntPart()
	if plan.Qty <= 0 {
		e.log.Warn("position size below one share",
			logger.String("proxy", plan.Symbol), logger.Float64("price", px))
		e.skipEntry = plan.To
		return nil
	}

	res := e.exec.Buy(ctx, plan.Symbol, plan.Qty, px)
	if res.FilledQty == 0 {
		e.skipEntry = plan.To
		e.log.Warn("entry not filled",
			logger.String("proxy", plan.Symbol),
			logger.Int64("qty", plan.Qty),
			logger.Int("attempts", res.AttemptsUsed),
			logger.Error(res.Err))
		return res.Err
	}
	e.pos = openPosition{
		dir:      plan.To,
		symbol:   plan.Symbol,
		qty:      res.FilledQty,
		entry:    res.AvgPrice,
		openedAt: e.lastTick,
	}
	e.trades++
	e.log.Info("position opened",
		logger.Stringer("direction", plan.To),
		logger.Bool("flip", plan.Flip()),
		logger.String("proxy", plan.Symbol),
		logger.Int64("qty", res.FilledQty),
		logger.Int64("target", plan.Qty),
		logger.String("avg_price", res.AvgPrice.String()))
	return res.Err
}

// exit sells the open position. A partial exit leaves the remainder open.
func (e *Engine) exit(ctx context.Context, reason string) (models.ChaseResult, error) {
	px, err := e.proxyPrice(ctx, e.pos.symbol)
	if err != nil {
		return models.ChaseResult{}, err
	}
	res := e.exec.Sell(ctx, e.pos.symbol, e.pos.qty, px)
	if res.FilledQty > 0 {
		pnl := res.AvgPrice.Sub(e.pos.entry).Mul(decimal.NewFromInt(res.FilledQty))
		e.realized = e.realized.Add(pnl)
		e.pos.qty -= res.FilledQty
		e.trades++
		e.log.Info("position reduced",
			logger.String("reason", reason),
			logger.String("proxy", e.pos.symbol),
			logger.Int64("filled", res.FilledQty),
			logger.Int64("remaining", e.pos.qty),
			logger.String("pnl", pnl.StringFixed(2)),
			logger.String("realized", e.realized.StringFixed(2)))
	}
	if e.pos.qty <= 0 {
		e.pos = openPosition{}
		e.stop.Reset()
	} else {
		e.log.Error("exit incomplete",
			logger.String("reason", reason),
			logger.String("proxy", e.pos.symbol),
			logger.Int64("remaining", e.pos.qty),
			logger.Error(res.Err))
		e.recordError("exit_incomplete")
	}
	return res, res.Err
}

func (e *Engine) proxyPrice(ctx context.Context, symbol string) (float64, error) {
	r := e.broker.GetLatestPrice(ctx, symbol)
	if px, ok := r.Price(); ok {
		return px, nil
	}
	e.log.Warn("proxy price not ready", logger.String("proxy", symbol), logger.String("reason", r.Reason()))
	e.recordError("proxy_price")
	return 0, fmt.Errorf("%w: %s: %s", ErrNoQuote, symbol, r.Reason())
}

func (e *Engine) proxyFor(d models.Direction) string {
	switch {
	case d == models.Bull:
		return e.cfg.BullSymbol
	case d.IsShort():
		return e.cfg.BearSymbol
	}
	return ""
}

// Flatten closes the open position outside the signal flow. The engine does
// not re-enter until the signal changes.
func (e *Engine) Flatten(ctx context.Context, reason string) (FlattenResult, error) {
	e.loop.Lock()
	defer e.loop.Unlock()

	if e.pos.qty == 0 {
		return FlattenResult{}, ErrFlat
	}
	out := FlattenResult{Symbol: e.pos.symbol, Requested: e.pos.qty}
	e.log.Warn("manual flatten", logger.String("reason", reason), logger.String("proxy", e.pos.symbol))

	res, err := e.exit(ctx, "manual")
	out.Filled = res.FilledQty
	out.AvgPrice = res.AvgPrice
	out.Remaining = e.pos.qty
	e.skipEntry = e.lastSig.Direction
	e.persist(ctx, e.now())
	e.publishStatus()
	return out, err
}

// persist saves the risk snapshot when it changed. Failures are retried on
// the next tick.
func (e *Engine) persist(ctx context.Context, at time.Time) {
	if e.store == nil {
		return
	}
	snap := stripped(e.stop.Snapshot())
	if snap == e.saved {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if snap.Empty() && !snap.PositionDirection.IsDirectional() {
		err = e.store.Clear(ctx, e.cfg.BenchmarkSymbol)
	} else {
		st := snap
		st.Symbol = e.cfg.BenchmarkSymbol
		st.UpdatedAt = at
		err = e.store.Save(ctx, st)
	}
	if err != nil {
		e.log.Warn("persist risk state failed", logger.Error(err))
		e.recordError("state_save")
		return
	}
	e.saved = snap
}

func stripped(s models.TradingState) models.TradingState {
	s.UpdatedAt = time.Time{}
	s.Symbol = ""
	return s
}

func (e *Engine) recordError(kind string) {
	if e.metrics != nil {
		e.metrics.RecordError(kind)
	}
}

func (e *Engine) publishStatus() {
	st := Status{
		Benchmark: e.cfg.BenchmarkSymbol,
		Position: PositionView{
			Direction:  e.pos.dir,
			Symbol:     e.pos.symbol,
			Quantity:   e.pos.qty,
			EntryPrice: e.pos.entry,
			OpenedAt:   e.pos.openedAt,
		},
		LastSignal:  e.lastSig,
		LastTick:    e.lastTick,
		LastPrice:   e.lastBenchmark,
		RealizedPnL: e.realized,
		Trades:      e.trades,
		Signals:     e.signalCount,
		Risk:        e.stop.Snapshot(),
		Recovered:   e.recovered,
	}
	if s, ok := e.signals.(snapshotter); ok {
		snap := s.Snapshot()
		st.Classifier = &snap
	}
	e.statusMu.Lock()
	e.status = st
	e.statusMu.Unlock()
}

func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// RecentSignals returns up to limit emitted signals, newest first. A nil dir
// matches every direction.
func (e *Engine) RecentSignals(limit int, dir *models.Direction) []models.MarketRegime {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.ring.recent(limit, dir)
}
