package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Mode        string           `yaml:"mode" default:"replay" validate:"oneof=live replay"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Log         LogConfig        `yaml:"log"`
	Trading     TradingConfig    `yaml:"trading"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Risk        RiskConfig       `yaml:"risk"`
	Execution   ExecutionConfig  `yaml:"execution"`
	State       StateConfig      `yaml:"state"`
	MarketData  MarketDataConfig `yaml:"market_data"`
	Finnhub     FinnhubConfig    `yaml:"finnhub"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
	Journal     JournalConfig    `yaml:"journal"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type TradingConfig struct {
	BenchmarkSymbol string  `yaml:"benchmark_symbol" default:"QQQ" validate:"required"`
	BullSymbol      string  `yaml:"bull_symbol" default:"TQQQ" validate:"required"`
	BearSymbol      string  `yaml:"bear_symbol" default:"SQQQ" validate:"required,nefield=BullSymbol"`
	PositionSizeUSD float64 `yaml:"position_size_usd" default:"10000" validate:"gt=0"`
	SeedBars        int     `yaml:"seed_bars" default:"60" validate:"gte=0"`
	PaperCashUSD    float64 `yaml:"paper_cash_usd" default:"100000" validate:"gt=0"`
}

type PipelineConfig struct {
	Replay        ReplayConfig        `yaml:"replay"`
	Interpolation InterpolationConfig `yaml:"interpolation"`
	Live          LiveConfig          `yaml:"live"`
}

type ReplayConfig struct {
	Source   string        `yaml:"source" default:"csv" validate:"oneof=csv clickhouse"`
	Dir      string        `yaml:"dir" default:"data/ticks"`
	Date     string        `yaml:"date" validate:"omitempty,datetime=2006-01-02"`
	Symbols  []string      `yaml:"symbols"`
	Speed    float64       `yaml:"speed" default:"0" validate:"gte=0"`
	MaxDelay time.Duration `yaml:"max_delay" default:"5s"`
}

type InterpolationConfig struct {
	Enabled      bool          `yaml:"enabled" default:"true"`
	GapThreshold time.Duration `yaml:"gap_threshold" default:"2s"`
	Step         time.Duration `yaml:"step" default:"1s"`
	// Volatility is sigma per sqrt(second) as a fraction of price; 0 estimates it per source.
	Volatility float64 `yaml:"volatility" default:"0" validate:"gte=0"`
	Seed       uint64  `yaml:"seed" default:"42"`
}

type LiveConfig struct {
	Archive            bool          `yaml:"archive" default:"false"`
	ArchiveBatchSize   int           `yaml:"archive_batch_size" default:"500" validate:"gt=0"`
	ArchiveFlushPeriod time.Duration `yaml:"archive_flush_period" default:"5s"`
	MaxRPS             int           `yaml:"max_rps" default:"50" validate:"gte=0"`
}

type ClassifierConfig struct {
	CandleInterval     string             `yaml:"candle_interval" default:"1m" validate:"oneof=1s 1m 5m"`
	Timezone           string             `yaml:"timezone" default:"America/New_York"`
	SMAPeriod          int                `yaml:"sma_period" default:"20" validate:"gte=2"`
	BandPeriod         int                `yaml:"band_period" default:"20" validate:"gte=2"`
	BandStdDev         float64            `yaml:"band_std_dev" default:"2" validate:"gt=0"`
	BandWidthAvgPeriod int                `yaml:"band_width_avg_period" default:"20" validate:"gte=2"`
	ChopPeriod         int                `yaml:"chop_period" default:"14" validate:"gte=2"`
	ATRPeriod          int                `yaml:"atr_period" default:"14" validate:"gte=1"`
	SlopePeriod        int                `yaml:"slope_period" default:"10" validate:"gte=2"`
	Trend              TrendConfig        `yaml:"trend"`
	Rescue             RescueConfig       `yaml:"rescue"`
	Displacement       DisplacementConfig `yaml:"displacement"`
	Phases             []PhaseConfig      `yaml:"phases" validate:"dive"`
}

type TrendConfig struct {
	EntryBand   float64 `yaml:"entry_band" default:"0.001" validate:"gte=0"`
	ExitBand    float64 `yaml:"exit_band" default:"0.0005" validate:"gte=0,ltefield=EntryBand"`
	MinVelocity float64 `yaml:"min_velocity" default:"0" validate:"gte=0"`
}

type RescueConfig struct {
	Enter float64 `yaml:"enter" default:"38.2" validate:"gte=0,lte=100"`
	Exit  float64 `yaml:"exit" default:"61.8" validate:"lte=100,gtfield=Enter"`
}

type DisplacementConfig struct {
	Enabled           bool    `yaml:"enabled" default:"true"`
	ATRMultiple       float64 `yaml:"atr_multiple" default:"2" validate:"gt=0"`
	FallbackPercent   float64 `yaml:"fallback_percent" default:"0.005" validate:"gt=0,lt=1"`
	ChopThreshold     float64 `yaml:"chop_threshold" default:"50" validate:"gte=0,lte=100"`
	BBWExpansion      bool    `yaml:"bbw_expansion" default:"true"`
	MinSlope          float64 `yaml:"min_slope" default:"0.0002" validate:"gte=0"`
	ScrambleChopRatio float64 `yaml:"scramble_chop_ratio" default:"0.8" validate:"gt=0,lte=1"`
}

type PhaseConfig struct {
	Name  string `yaml:"name" validate:"required"`
	Start string `yaml:"start" validate:"required,datetime=15:04"`
	Mode  string `yaml:"mode" default:"trend" validate:"oneof=trend mean_reversion"`
	// KeepIndicators opts out of the indicator reset on entering the phase.
	KeepIndicators bool `yaml:"keep_indicators"`
}

type RiskConfig struct {
	TrailingStopPercent float64       `yaml:"trailing_stop_percent" default:"0.005" validate:"gt=0,lt=1"`
	Cooldown            time.Duration `yaml:"cooldown" default:"5m"`
}

type ExecutionConfig struct {
	PriceStep           float64       `yaml:"price_step" default:"0.01" validate:"gt=0"`
	MaxRetries          int           `yaml:"max_retries" default:"10" validate:"gte=1"`
	MaxDeviationPercent float64       `yaml:"max_deviation_percent" default:"0.005" validate:"gt=0,lt=1"`
	PollInterval        time.Duration `yaml:"poll_interval" default:"200ms"`
	PollAttempts        int           `yaml:"poll_attempts" default:"3" validate:"gte=0"`
	PartialFillCap      int64         `yaml:"partial_fill_cap" default:"0" validate:"gte=0"`
}

type StateConfig struct {
	Backend  string        `yaml:"backend" default:"file" validate:"oneof=file redis memory"`
	Dir      string        `yaml:"dir" default:"state"`
	TTL      time.Duration `yaml:"ttl" default:"72h"`
	// LeaseTTL bounds how long a crashed instance blocks a successor (redis only).
	LeaseTTL time.Duration `yaml:"lease_ttl" default:"30s" validate:"gte=3s"`
}

type MarketDataConfig struct {
	Backend string `yaml:"backend" default:"finnhub" validate:"oneof=finnhub kafka"`
}

type FinnhubConfig struct {
	APIKey         string        `yaml:"api_key"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io" validate:"url"`
	RESTURL        string        `yaml:"rest_url" default:"https://finnhub.io/api/v1" validate:"url"`
	HistoryWindow  time.Duration `yaml:"history_window" default:"96h"`
	BufferSize     int           `yaml:"buffer_size" default:"1024" validate:"gt=0"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled" default:"false"`
	Brokers      []string `yaml:"brokers"`
	TicksTopic   string   `yaml:"ticks_topic" default:"trader.ticks"`
	SignalsTopic string   `yaml:"signals_topic" default:"trader.signals"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async" default:"true"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"proxytrader"`
		Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled" default:"false"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"trader"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	TicksTable       string        `yaml:"ticks_table" default:"ticks"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type RedisConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" default:"0"`
	Prefix   string `yaml:"prefix" default:"proxytrader"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"state/journal.db"`
}

var validate = validator.New()

// DefaultPhases is the regular-session schedule used when none is configured.
func DefaultPhases() []PhaseConfig {
	return []PhaseConfig{
		{Name: "open", Start: "09:30", Mode: "trend"},
		{Name: "base", Start: "10:30", Mode: "trend"},
		{Name: "close", Start: "15:00", Mode: "mean_reversion"},
	}
}

// Default returns a config populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.Classifier.Phases = DefaultPhases()
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes YAML on top and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(c.Classifier.Phases) == 0 {
		c.Classifier.Phases = DefaultPhases()
	}
	for i := range c.Classifier.Phases {
		if err := defaults.Set(&c.Classifier.Phases[i]); err != nil {
			return nil, fmt.Errorf("apply phase defaults: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads an optional .env file, the YAML config, then applies
// environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("TRADER_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REPLAY_DIR"); v != "" {
		c.Pipeline.Replay.Dir = v
	}
	if v := os.Getenv("REPLAY_DATE"); v != "" {
		c.Pipeline.Replay.Date = v
	}
	if v := os.Getenv("REPLAY_SPEED"); v != "" {
		speed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("REPLAY_SPEED: %w", err)
		}
		c.Pipeline.Replay.Speed = speed
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags and cross-section rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Classifier.Timezone); err != nil {
		return fmt.Errorf("classifier.timezone: %w", err)
	}
	if err := c.validatePhases(); err != nil {
		return err
	}
	if c.Mode == "live" {
		switch c.MarketData.Backend {
		case "finnhub":
			if c.Finnhub.APIKey == "" {
				return fmt.Errorf("finnhub.api_key is required for live mode")
			}
		case "kafka":
			if !c.Kafka.Enabled || len(c.Kafka.Brokers) == 0 {
				return fmt.Errorf("market_data.backend 'kafka' requires kafka.enabled and kafka.brokers")
			}
		}
		if c.Pipeline.Live.Archive && !c.ClickHouse.Enabled {
			return fmt.Errorf("pipeline.live.archive requires clickhouse.enabled")
		}
	}
	if c.Mode == "replay" && c.Pipeline.Replay.Source == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("pipeline.replay.source 'clickhouse' requires clickhouse.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

func (c *Config) validatePhases() error {
	prev := -1
	for i, p := range c.Classifier.Phases {
		t, err := time.Parse("15:04", p.Start)
		if err != nil {
			return fmt.Errorf("classifier.phases[%d].start: %w", i, err)
		}
		mins := t.Hour()*60 + t.Minute()
		if mins <= prev {
			return fmt.Errorf("classifier.phases must be in ascending start order, got %s after index %d", p.Start, i-1)
		}
		prev = mins
	}
	return nil
}

// ReplaySymbols returns the configured replay symbols, defaulting to the
// benchmark plus both proxies.
func (c *Config) ReplaySymbols() []string {
	if len(c.Pipeline.Replay.Symbols) > 0 {
		return c.Pipeline.Replay.Symbols
	}
	return []string{c.Trading.BenchmarkSymbol, c.Trading.BullSymbol, c.Trading.BearSymbol}
}
