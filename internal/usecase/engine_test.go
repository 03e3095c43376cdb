package usecase

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/internal/execution"
	"ProxyTrader/internal/pipeline"
	"ProxyTrader/internal/regime"
	"ProxyTrader/internal/risk"
	"ProxyTrader/internal/service/paper"
	"ProxyTrader/pkg/config"
)

var base = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

type scriptedSignals struct {
	next     models.Direction
	stopouts []models.Direction
	cleared  int
	seeded   []float64
}

func (s *scriptedSignals) OnTick(t models.PriceTick) models.MarketRegime {
	return models.MarketRegime{Direction: s.next, Symbol: t.Symbol, Price: t.Price, Timestamp: t.Timestamp, Phase: "day"}
}

func (s *scriptedSignals) NotifyStopOut(dir models.Direction, _ float64, _ time.Time) {
	s.stopouts = append(s.stopouts, dir)
}

func (s *scriptedSignals) ClearStopOut()                          { s.cleared++ }
func (s *scriptedSignals) Bands() (upper, lower float64, ok bool) { return 0, 0, false }
func (s *scriptedSignals) Seed(closes []float64)                  { s.seeded = closes }

type memStore struct {
	mu     sync.Mutex
	states map[string]models.TradingState
	saves  int
}

func newMemStore() *memStore { return &memStore{states: map[string]models.TradingState{}} }

func (m *memStore) Load(_ context.Context, symbol string) (*models.TradingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[symbol]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *memStore) Save(_ context.Context, st models.TradingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Symbol] = st
	m.saves++
	return nil
}

func (m *memStore) Clear(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, symbol)
	return nil
}

type historyCloses []float64

func (c historyCloses) GetHistoricalPrices(context.Context, string, int) ([]float64, error) { return c, nil }

type capturedSignals struct{ sent []models.MarketRegime }

func (c *capturedSignals) Publish(_ context.Context, sig models.MarketRegime) error {
	c.sent = append(c.sent, sig)
	return nil
}

func (c *capturedSignals) Close() error { return nil }

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) inc(k string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[k]++
}

func (m *countingMetrics) get(k string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[k]
}

func (m *countingMetrics) RecordTick(string, bool)         {}
func (m *countingMetrics) RecordSignal(string, string)     { m.inc("signal") }
func (m *countingMetrics) RecordStopTrigger(string)        { m.inc("stop") }
func (m *countingMetrics) RecordLatchBlock(string)         { m.inc("latch_block") }
func (m *countingMetrics) RecordChase(string, int, bool)   { m.inc("chase") }
func (m *countingMetrics) RecordError(kind string)         { m.inc("error:" + kind) }
func (m *countingMetrics) RecordLastPrice(string, float64) {}
func (m *countingMetrics) RecordLatency(string, float64)   {}

type rig struct {
	engine  *Engine
	broker  *paper.Broker
	signals *scriptedSignals
	store   *memStore
	metrics *countingMetrics
	pub     *capturedSignals
}

func newRig(t *testing.T, opts ...EngineOption) *rig {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)

	broker := paper.New([]string{"TQQQ", "SQQQ"})
	require.NoError(t, broker.Connect(context.Background()))
	r := &rig{
		broker:  broker,
		signals: &scriptedSignals{},
		store:   newMemStore(),
		metrics: &countingMetrics{},
		pub:     &capturedSignals{},
	}
	stop := risk.New(config.RiskConfig{TrailingStopPercent: 0.01, Cooldown: 5 * time.Minute}, "QQQ", nil)
	chaser := execution.New(broker, cfg.Execution, execution.WithMetrics(r.metrics))
	opts = append([]EngineOption{
		WithStateStore(r.store),
		WithSignalPublisher(r.pub),
		WithQuoteSink(broker),
		WithEngineMetrics(r.metrics),
		WithEngineClock(func() time.Time { return base }),
	}, opts...)
	r.engine = NewEngine(cfg.Trading, r.signals, stop, chaser, broker, opts...)
	return r
}

func (r *rig) tick(t *testing.T, symbol string, at time.Duration, price float64) {
	t.Helper()
	require.NoError(t, r.engine.Handle(context.Background(), models.PriceTick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: base.Add(at),
	}))
}

func (r *rig) bench(t *testing.T, at time.Duration, price float64, dir models.Direction) {
	t.Helper()
	r.signals.next = dir
	r.tick(t, "QQQ", at, price)
}

func TestEngineEntersAndFlips(t *testing.T) {
	r := newRig(t)
	r.tick(t, "TQQQ", 0, 50)
	r.tick(t, "SQQQ", 0, 20)
	r.bench(t, time.Second, 100, models.Bull)

	st := r.engine.Status()
	assert.Equal(t, models.Bull, st.Position.Direction)
	assert.Equal(t, "TQQQ", st.Position.Symbol)
	assert.Equal(t, int64(200), st.Position.Quantity)
	assert.True(t, st.Position.EntryPrice.Equal(decimal.NewFromInt(50)))

	r.tick(t, "TQQQ", 2*time.Second, 51)
	r.bench(t, 3*time.Second, 99, models.Bear)

	st = r.engine.Status()
	assert.Equal(t, models.Bear, st.Position.Direction)
	assert.Equal(t, "SQQQ", st.Position.Symbol)
	assert.Equal(t, int64(500), st.Position.Quantity)
	assert.True(t, st.RealizedPnL.Equal(decimal.NewFromInt(200)), st.RealizedPnL.String())
	assert.Equal(t, 3, st.Trades)
	assert.Equal(t, 2, st.Signals)
	assert.Len(t, r.pub.sent, 2)

	pos, err := r.broker.GetPosition(context.Background(), "TQQQ")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Equal(t, 3, r.metrics.get("chase"))
}

func TestEngineMrShortHoldsBearProxy(t *testing.T) {
	r := newRig(t)
	r.tick(t, "SQQQ", 0, 20)
	r.bench(t, time.Second, 100, models.MrShort)
	r.bench(t, 2*time.Second, 100.1, models.Bear)

	st := r.engine.Status()
	assert.Equal(t, "SQQQ", st.Position.Symbol)
	assert.Equal(t, 1, st.Trades)

	r.bench(t, 3*time.Second, 100.2, models.MrFlat)
	st = r.engine.Status()
	assert.Empty(t, st.Position.Symbol)
	assert.Equal(t, 2, st.Trades)
}

func TestEngineTrailingStopAndLatch(t *testing.T) {
	r := newRig(t)
	r.tick(t, "TQQQ", 0, 50)
	r.bench(t, time.Second, 100, models.Bull)
	r.bench(t, 2*time.Second, 102, models.Bull)
	r.tick(t, "TQQQ", 3*time.Second, 49)
	r.bench(t, 4*time.Second, 100.5, models.Bull)

	st := r.engine.Status()
	assert.Empty(t, st.Position.Symbol, "stop should flatten")
	assert.True(t, st.Risk.IsStoppedOut)
	assert.InDelta(t, 100.98, st.Risk.WashoutLevel, 1e-9)
	assert.True(t, st.RealizedPnL.Equal(decimal.NewFromInt(-200)), st.RealizedPnL.String())
	assert.Equal(t, []models.Direction{models.Bull}, r.signals.stopouts)
	assert.Equal(t, 1, r.metrics.get("stop"))

	saved, err := r.store.Load(context.Background(), "QQQ")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.IsStoppedOut)

	// inside the cooldown the latch blocks re-entry
	r.bench(t, time.Minute, 101, models.Bull)
	assert.Empty(t, r.engine.Status().Position.Symbol)
	assert.Equal(t, 1, r.metrics.get("latch_block"))

	// cooled down and through the washout level
	r.bench(t, 6*time.Minute, 101.5, models.Bull)
	st = r.engine.Status()
	assert.False(t, st.Risk.IsStoppedOut)
	assert.Equal(t, 1, r.signals.cleared)
	assert.Equal(t, "TQQQ", st.Position.Symbol)
	assert.Equal(t, int64(204), st.Position.Quantity)
}

func TestEngineRecoveryFlattensBreachedStop(t *testing.T) {
	r := newRig(t, WithHistory(historyCloses{104, 105}))
	ctx := context.Background()

	r.broker.UpdatePrice("TQQQ", 50, base)
	limit := decimal.NewFromInt(50)
	_, err := r.broker.SubmitOrder(ctx, models.OrderRequest{
		Symbol: "TQQQ", Quantity: 100, Side: models.SideBuy,
		Type: models.OrderTypeLimit, TimeInForce: models.TimeInForceIOC, LimitPrice: &limit,
	})
	require.NoError(t, err)
	r.store.states["QQQ"] = models.TradingState{Symbol: "QQQ", PositionDirection: models.Bull, HighWaterMark: 110}

	require.NoError(t, r.engine.Start(ctx))

	assert.Equal(t, []float64{104, 105}, r.signals.seeded)
	pos, err := r.broker.GetPosition(ctx, "TQQQ")
	require.NoError(t, err)
	assert.Nil(t, pos)

	st := r.engine.Status()
	assert.True(t, st.Recovered)
	assert.Empty(t, st.Position.Symbol)
	assert.Equal(t, 1, st.Trades)
	_, kept := r.store.states["QQQ"]
	assert.False(t, kept)
}

func TestEngineDefersRestoreWithoutPrice(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.broker.UpdatePrice("TQQQ", 50, base)
	limit := decimal.NewFromInt(50)
	_, err := r.broker.SubmitOrder(ctx, models.OrderRequest{
		Symbol: "TQQQ", Quantity: 100, Side: models.SideBuy,
		Type: models.OrderTypeLimit, TimeInForce: models.TimeInForceIOC, LimitPrice: &limit,
	})
	require.NoError(t, err)
	r.store.states["QQQ"] = models.TradingState{Symbol: "QQQ", PositionDirection: models.Bull, HighWaterMark: 110}

	require.NoError(t, r.engine.Start(ctx))
	assert.False(t, r.engine.Status().Recovered)

	r.bench(t, time.Second, 109.5, models.Bull)
	st := r.engine.Status()
	assert.True(t, st.Recovered)
	assert.Equal(t, "TQQQ", st.Position.Symbol)
	assert.Equal(t, int64(100), st.Position.Quantity)
	assert.InDelta(t, 108.9, st.Risk.VirtualStopPrice, 1e-9)
	assert.Equal(t, 0, st.Trades)
}

func TestEngineDiscardsInconsistentState(t *testing.T) {
	r := newRig(t)
	r.store.states["QQQ"] = models.TradingState{Symbol: "QQQ", IsStoppedOut: true}

	require.NoError(t, r.engine.Start(context.Background()))
	_, kept := r.store.states["QQQ"]
	assert.False(t, kept)
	assert.Equal(t, 1, r.metrics.get("error:state_restore"))
}

func TestEngineFlatten(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.engine.Flatten(ctx, "nothing held")
	assert.ErrorIs(t, err, ErrFlat)

	r.tick(t, "TQQQ", 0, 50)
	r.tick(t, "SQQQ", 0, 20)
	r.bench(t, time.Second, 100, models.Bull)

	res, err := r.engine.Flatten(ctx, "operator")
	require.NoError(t, err)
	assert.Equal(t, "TQQQ", res.Symbol)
	assert.Equal(t, int64(200), res.Requested)
	assert.Equal(t, int64(200), res.Filled)
	assert.Zero(t, res.Remaining)

	// same signal does not re-enter
	r.bench(t, 2*time.Second, 100.1, models.Bull)
	assert.Empty(t, r.engine.Status().Position.Symbol)

	r.bench(t, 3*time.Second, 99.9, models.Bear)
	assert.Equal(t, "SQQQ", r.engine.Status().Position.Symbol)
}

func TestEngineSkipsTradeWithoutProxyQuote(t *testing.T) {
	r := newRig(t)
	r.bench(t, time.Second, 100, models.Bull)
	r.bench(t, 2*time.Second, 100, models.Neutral)
	r.bench(t, 3*time.Second, 100, models.Bear)

	st := r.engine.Status()
	assert.Zero(t, st.Trades)
	assert.Equal(t, 3, st.Signals)
	assert.Positive(t, r.metrics.get("error:proxy_price"))

	recent := r.engine.RecentSignals(10, nil)
	require.Len(t, recent, 3)
	assert.Equal(t, models.Bear, recent[0].Direction)
	assert.Equal(t, models.Neutral, recent[1].Direction)
	assert.Equal(t, models.Bull, recent[2].Direction)

	bull := models.Bull
	assert.Len(t, r.engine.RecentSignals(10, &bull), 1)
	assert.Len(t, r.engine.RecentSignals(1, nil), 1)
}

func TestEngineIgnoresUnrelatedSymbols(t *testing.T) {
	r := newRig(t)
	r.signals.next = models.Bull
	r.tick(t, "AAPL", time.Second, 180)
	assert.Zero(t, r.engine.Status().Signals)
}

func TestSignalRingWraps(t *testing.T) {
	ring := newSignalRing(3)
	for i := 0; i < 5; i++ {
		ring.push(models.MarketRegime{Price: float64(i)})
	}
	got := ring.recent(10, nil)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{4, 3, 2}, []float64{got[0].Price, got[1].Price, got[2].Price})
}

// sessionTicks builds a benchmark sine wave with leveraged proxies.
func sessionTicks() (bench, bull, bear []models.PriceTick) {
	for i := 0; i < 3*360; i++ {
		at := base.Add(time.Duration(i) * 10 * time.Second)
		r := 0.02 * math.Sin(2*math.Pi*float64(i)/360)
		bench = append(bench, models.PriceTick{Symbol: "QQQ", Price: 100 * (1 + r), Timestamp: at, IsBenchmark: true})
		bull = append(bull, models.PriceTick{Symbol: "TQQQ", Price: 50 * (1 + 3*r), Timestamp: at})
		bear = append(bear, models.PriceTick{Symbol: "SQQQ", Price: 20 * (1 - 3*r), Timestamp: at})
	}
	return bench, bull, bear
}

func replayOnce(t *testing.T) Status {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cc := cfg.Classifier
	cc.Timezone = "UTC"
	cc.SMAPeriod = 5
	cc.BandPeriod = 5
	cc.BandWidthAvgPeriod = 5
	cc.ChopPeriod = 5
	cc.ATRPeriod = 5
	cc.SlopePeriod = 5
	cc.Phases = []config.PhaseConfig{{Name: "day", Start: "00:00", Mode: "trend"}}

	classifier, err := regime.New(cc, "QQQ", nil)
	require.NoError(t, err)
	broker := paper.New([]string{"TQQQ", "SQQQ"})
	require.NoError(t, broker.Connect(context.Background()))
	engine := NewEngine(cfg.Trading, classifier,
		risk.New(cfg.Risk, "QQQ", nil),
		execution.New(broker, cfg.Execution),
		broker,
		WithQuoteSink(broker),
		WithStateStore(newMemStore()))

	bench, bull, bear := sessionTicks()
	replay := pipeline.NewReplay([]pipeline.Source{
		pipeline.NewSliceSource("bull", bull),
		pipeline.NewSliceSource("bear", bear),
		pipeline.NewSliceSource("bench", bench),
	})
	require.NoError(t, NewReplayRunner(replay, engine, nil).Run(context.Background()))
	return engine.Status()
}

func TestReplayIsDeterministic(t *testing.T) {
	first := replayOnce(t)
	second := replayOnce(t)

	assert.Greater(t, first.Signals, 0)
	assert.Equal(t, first.Signals, second.Signals)
	assert.Equal(t, first.Trades, second.Trades)
	assert.True(t, first.RealizedPnL.Equal(second.RealizedPnL))
	assert.Equal(t, first.Position.Symbol, second.Position.Symbol)
	assert.Equal(t, first.Position.Quantity, second.Position.Quantity)
	assert.Equal(t, first.Risk, second.Risk)
	assert.Equal(t, first.LastSignal, second.LastSignal)
}

func TestEngineDisplacementClearsLatchAfterCooldown(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cc := cfg.Classifier
	cc.Timezone = "UTC"
	cc.SMAPeriod = 5
	cc.BandPeriod = 5
	cc.BandWidthAvgPeriod = 5
	cc.ChopPeriod = 5
	cc.ATRPeriod = 5
	cc.SlopePeriod = 5
	cc.Displacement.BBWExpansion = false
	cc.Phases = []config.PhaseConfig{{Name: "day", Start: "00:00", Mode: "trend"}}

	classifier, err := regime.New(cc, "QQQ", nil)
	require.NoError(t, err)
	broker := paper.New([]string{"TQQQ", "SQQQ"})
	require.NoError(t, broker.Connect(context.Background()))
	engine := NewEngine(cfg.Trading, classifier,
		risk.New(config.RiskConfig{TrailingStopPercent: 0.001, Cooldown: 30 * time.Second}, "QQQ", nil),
		execution.New(broker, cfg.Execution),
		broker,
		WithQuoteSink(broker),
		WithStateStore(newMemStore()))

	feed := func(symbol string, at time.Duration, price float64) {
		t.Helper()
		require.NoError(t, engine.Handle(context.Background(), models.PriceTick{
			Symbol: symbol, Price: price, Timestamp: base.Add(at),
		}))
	}

	feed("TQQQ", 0, 50)
	for i := 0; i < 12; i++ {
		feed("QQQ", time.Duration(i)*time.Minute, 100+0.1*float64(i))
	}
	require.Equal(t, "TQQQ", engine.Status().Position.Symbol)

	// one tick under the trailing stop
	feed("QQQ", 12*time.Minute, 100.8)
	st := engine.Status()
	require.Empty(t, st.Position.Symbol)
	require.True(t, st.Risk.IsStoppedOut)
	washout := st.Risk.WashoutLevel
	require.Greater(t, washout, 101.1)

	// a displacement-sized move inside the cooldown is not spent
	feed("QQQ", 12*time.Minute+10*time.Second, 101.5)
	st = engine.Status()
	assert.Empty(t, st.Position.Symbol)
	assert.True(t, st.Risk.IsStoppedOut)
	assert.True(t, classifier.Snapshot().DisplacementPending)
	assert.False(t, classifier.Snapshot().DisplacementUsed)

	// after the cooldown, still under the washout level
	feed("QQQ", 12*time.Minute+40*time.Second, 101.1)
	st = engine.Status()
	assert.False(t, st.Risk.IsStoppedOut)
	assert.True(t, st.LastSignal.IsDisplacementReentry)
	assert.Equal(t, models.Bull, st.LastSignal.Direction)
	assert.Equal(t, "TQQQ", st.Position.Symbol)
	assert.True(t, classifier.Snapshot().DisplacementUsed)
	assert.False(t, classifier.Snapshot().DisplacementPending)
}
