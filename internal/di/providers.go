package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/internal/execution"
	"ProxyTrader/internal/handler/api"
	"ProxyTrader/internal/middleware"
	"ProxyTrader/internal/pipeline"
	"ProxyTrader/internal/regime"
	internalrepo "ProxyTrader/internal/repository"
	"ProxyTrader/internal/risk"
	"ProxyTrader/internal/service/finnhub"
	"ProxyTrader/internal/service/kafkafeed"
	"ProxyTrader/internal/service/paper"
	"ProxyTrader/internal/service/ratelimit"
	"ProxyTrader/internal/usecase"
	"ProxyTrader/pkg/cache"
	pkgch "ProxyTrader/pkg/clickhouse"
	"ProxyTrader/pkg/config"
	xhttp "ProxyTrader/pkg/http"
	pkgkafka "ProxyTrader/pkg/kafka"
	"ProxyTrader/pkg/logger"
	"ProxyTrader/pkg/metrics"
	"ProxyTrader/pkg/server"
)

func noop() {}

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment), logger.String("mode", cfg.Mode)), nil
}

// ProvideMetrics registers the Prometheus recorder on the default registry,
// or a no-op recorder when metrics are disabled.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.NewNop()
	}
	return metrics.New(nil)
}

// ProvideClickHouseClient connects and creates the tick schema. It returns
// nil when ClickHouse is disabled.
func ProvideClickHouseClient(ctx context.Context, cfg *config.Config) (*pkgch.Client, func(), error) {
	ch := cfg.ClickHouse
	if !ch.Enabled {
		return nil, noop, nil
	}
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.InitSchema(schemaCtx, pkgch.TickSchema(ch.Database, ch.TicksTable)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideTickArchive is nil when ClickHouse is disabled.
func ProvideTickArchive(client *pkgch.Client, cfg *config.Config, log *logger.Logger) domrepo.TickArchive {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseTicks(client.DB(), cfg.ClickHouse.Database, cfg.ClickHouse.TicksTable, log)
}

// ProvidePriceHistory is nil when ClickHouse is disabled.
func ProvidePriceHistory(client *pkgch.Client, cfg *config.Config, log *logger.Logger) domrepo.PriceHistory {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseTicks(client.DB(), cfg.ClickHouse.Database, cfg.ClickHouse.TicksTable, log)
}

// ProvideCache backs the state store: Redis for the redis backend, an
// in-process cache otherwise.
func ProvideCache(ctx context.Context, cfg *config.Config) (cache.Service, func(), error) {
	if cfg.State.Backend != "redis" {
		mc := cache.NewMemoryCache()
		return mc, func() { _ = mc.Close() }, nil
	}
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

func ProvideStateStore(cfg *config.Config, kv cache.Service) (domrepo.StateStore, error) {
	if cfg.State.Backend == "file" {
		fs, err := internalrepo.NewFileStateStore(cfg.State.Dir)
		if err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		return fs, nil
	}
	return internalrepo.NewCacheStateStore(kv, cfg.State.TTL), nil
}

// ProvideLease is only set for the shared redis backend.
func ProvideLease(cfg *config.Config, kv cache.Service) usecase.Lease {
	if cfg.State.Backend != "redis" {
		return nil
	}
	return internalrepo.NewCacheStateStore(kv, cfg.State.TTL)
}

// ProvideJournal opens the SQLite fill journal. It returns nil when disabled.
func ProvideJournal(cfg *config.Config) (domrepo.FillJournal, func(), error) {
	if !cfg.Journal.Enabled {
		return nil, noop, nil
	}
	j, err := internalrepo.NewSQLiteJournal(cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: %w", err)
	}
	return j, func() { _ = j.Close() }, nil
}

// ProvideSignalPublisher emits signals to Kafka when enabled.
func ProvideSignalPublisher(cfg *config.Config) (domrepo.SignalPublisher, func(), error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NopSignalPublisher{}, noop, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaSignalPublisher(producer, k.SignalsTopic)
	return pub, func() { _ = pub.Close() }, nil
}

// ProvideMarketData picks the live quote backend. Replay mode has none.
func ProvideMarketData(
	cfg *config.Config,
	log *logger.Logger,
	m domrepo.Metrics,
	history domrepo.PriceHistory,
) (domrepo.MarketData, error) {
	if cfg.Mode != "live" {
		return nil, nil
	}
	if cfg.MarketData.Backend == "finnhub" {
		return finnhub.New(cfg.Finnhub, log), nil
	}

	k := cfg.Kafka
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(k.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(k.Consumer.MinBytes, k.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		After: func(_ context.Context, _ kafka.Message, err error) {
			if err != nil {
				m.RecordError("kafka_handle")
			}
		},
	})
	opts := []kafkafeed.Option{kafkafeed.WithMetrics(m), kafkafeed.WithLogger(log)}
	if history != nil {
		opts = append(opts, kafkafeed.WithHistory(history))
	}
	return kafkafeed.New(k.TicksTopic, consumer, opts...), nil
}

// ProvidePaperBroker simulates fills for both proxies.
func ProvidePaperBroker(ctx context.Context, cfg *config.Config, log *logger.Logger) (*paper.Broker, func(), error) {
	b := paper.New([]string{cfg.Trading.BullSymbol, cfg.Trading.BearSymbol},
		paper.WithCash(decimal.NewFromFloat(cfg.Trading.PaperCashUSD)),
		paper.WithPartialFillCap(cfg.Execution.PartialFillCap),
		paper.WithLogger(log),
	)
	if err := b.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("paper broker: %w", err)
	}
	return b, func() { _ = b.Disconnect() }, nil
}

func ProvideClassifier(cfg *config.Config, log *logger.Logger) (*regime.Classifier, error) {
	c, err := regime.New(cfg.Classifier, cfg.Trading.BenchmarkSymbol, log)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return c, nil
}

func ProvideTrailingStop(cfg *config.Config, log *logger.Logger) *risk.TrailingStop {
	return risk.New(cfg.Risk, cfg.Trading.BenchmarkSymbol, log)
}

func ProvideChaser(
	cfg *config.Config,
	broker *paper.Broker,
	journal domrepo.FillJournal,
	m domrepo.Metrics,
	log *logger.Logger,
) *execution.Chaser {
	opts := []execution.Option{execution.WithMetrics(m), execution.WithLogger(log)}
	if journal != nil {
		opts = append(opts, execution.WithJournal(journal))
	}
	return execution.New(broker, cfg.Execution, opts...)
}

func ProvideEngine(
	cfg *config.Config,
	classifier *regime.Classifier,
	stop *risk.TrailingStop,
	chaser *execution.Chaser,
	broker *paper.Broker,
	store domrepo.StateStore,
	pub domrepo.SignalPublisher,
	md domrepo.MarketData,
	m domrepo.Metrics,
	log *logger.Logger,
) *usecase.Engine {
	opts := []usecase.EngineOption{
		usecase.WithStateStore(store),
		usecase.WithSignalPublisher(pub),
		usecase.WithQuoteSink(broker),
		usecase.WithEngineMetrics(m),
		usecase.WithEngineLogger(log),
	}
	if md != nil {
		opts = append(opts, usecase.WithHistory(md))
	}
	return usecase.NewEngine(cfg.Trading, classifier, stop, chaser, broker, opts...)
}

// ProvideReplay builds the replay pipeline from CSV files or the ClickHouse
// archive for the configured session date.
func ProvideReplay(
	cfg *config.Config,
	history domrepo.PriceHistory,
	m domrepo.Metrics,
	log *logger.Logger,
) (*pipeline.Replay, error) {
	rc := cfg.Pipeline.Replay
	bench := cfg.Trading.BenchmarkSymbol

	var sources []pipeline.Source
	switch rc.Source {
	case "clickhouse":
		if history == nil {
			return nil, fmt.Errorf("replay source clickhouse: archive not configured")
		}
		if rc.Date == "" {
			return nil, fmt.Errorf("replay source clickhouse: pipeline.replay.date is required")
		}
		loc, err := time.LoadLocation(cfg.Classifier.Timezone)
		if err != nil {
			return nil, fmt.Errorf("replay timezone: %w", err)
		}
		day, err := time.ParseInLocation("2006-01-02", rc.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("replay date: %w", err)
		}
		for _, sym := range cfg.ReplaySymbols() {
			sources = append(sources, pipeline.NewHistorySource(history, sym, sym == bench, day, day.AddDate(0, 0, 1)))
		}
	default:
		for _, sym := range cfg.ReplaySymbols() {
			path := pipeline.CSVPath(filepath.Clean(rc.Dir), sym, rc.Date)
			sources = append(sources, pipeline.NewCSVSource(path, sym, sym == bench, log))
		}
	}

	opts := []pipeline.ReplayOption{
		pipeline.WithSpeed(rc.Speed),
		pipeline.WithMaxDelay(rc.MaxDelay),
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
	}
	if ic := cfg.Pipeline.Interpolation; ic.Enabled {
		opts = append(opts, pipeline.WithBridge(pipeline.NewBridge(pipeline.BridgeConfig{
			GapThreshold: ic.GapThreshold,
			Step:         ic.Step,
			Volatility:   ic.Volatility,
			Seed:         ic.Seed,
		})))
	}
	return pipeline.NewReplay(sources, opts...), nil
}

func ProvideReplayRunner(replay *pipeline.Replay, engine *usecase.Engine, log *logger.Logger) *usecase.ReplayRunner {
	return usecase.NewReplayRunner(replay, engine, log)
}

// ProvideRunner returns the workload for the configured mode.
func ProvideRunner(
	cfg *config.Config,
	engine *usecase.Engine,
	md domrepo.MarketData,
	archive domrepo.TickArchive,
	history domrepo.PriceHistory,
	lease usecase.Lease,
	m domrepo.Metrics,
	log *logger.Logger,
) (server.Runner, error) {
	if cfg.Mode != "live" {
		replay, err := ProvideReplay(cfg, history, m, log)
		if err != nil {
			return nil, err
		}
		return usecase.NewReplayRunner(replay, engine, log), nil
	}

	guard := middleware.NewTickGuard(m, middleware.WithMaxRPS(cfg.Pipeline.Live.MaxRPS))
	feed := pipeline.NewLiveFeed(md,
		pipeline.WithGuard(guard),
		pipeline.WithLiveLogger(log),
		pipeline.WithLiveMetrics(m),
	)
	opts := []usecase.LiveRunnerOption{usecase.WithRunnerLogger(log)}
	if live := cfg.Pipeline.Live; live.Archive && archive != nil {
		rec := usecase.NewTickRecorder(archive, m, log, live.ArchiveBatchSize, live.ArchiveFlushPeriod)
		opts = append(opts, usecase.WithRecorder(rec))
	}
	if lease != nil {
		opts = append(opts, usecase.WithLease(lease, cfg.State.LeaseTTL))
	}
	t := cfg.Trading
	return usecase.NewLiveRunner(md, feed, engine, t.BenchmarkSymbol, []string{t.BullSymbol, t.BearSymbol}, opts...), nil
}

func ProvideHistoryUseCase(journal domrepo.FillJournal, archive domrepo.TickArchive) *usecase.HistoryUseCase {
	return usecase.NewHistoryUseCase(journal, archive)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ProvideAPIHandler registers a health probe for every configured backend.
func ProvideAPIHandler(
	engine *usecase.Engine,
	history *usecase.HistoryUseCase,
	chClient *pkgch.Client,
	kv cache.Service,
	journal domrepo.FillJournal,
	log *logger.Logger,
) *api.EngineEchoHandler {
	h := api.NewEngineEchoHandler(log, engine, history, ratelimit.New(3, 0.1))
	if chClient != nil {
		h.AddHealthCheck("clickhouse", chClient.Health)
	}
	if p, ok := kv.(pinger); ok {
		h.AddHealthCheck("redis", p.Ping)
	}
	if p, ok := journal.(pinger); ok {
		h.AddHealthCheck("journal", p.Ping)
	}
	return h
}

// ProvideHTTPServer is nil when the server is disabled.
func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, h *api.EngineEchoHandler) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	s := cfg.Server
	return xhttp.NewServer(log, []xhttp.Handler{h},
		xhttp.WithPort(s.Port),
		xhttp.WithTimeouts(s.ReadTimeout, s.WriteTimeout, s.ShutdownTimeout),
		xhttp.WithMetrics(cfg.Metrics.Enabled, nil),
	)
}

func ProvideApp(cfg *config.Config, runner server.Runner, srv *xhttp.Server, log *logger.Logger) *server.App {
	return server.New(runner, srv, log, cfg.Server.ShutdownTimeout)
}

// ReplaySession is one self-contained replay: a fresh engine and the runner
// that drives it.
type ReplaySession struct {
	Runner *usecase.ReplayRunner
	Engine *usecase.Engine
}

func ProvideReplaySession(r *usecase.ReplayRunner, e *usecase.Engine) *ReplaySession {
	return &ReplaySession{Runner: r, Engine: e}
}
