// Package regime classifies the benchmark's market regime and emits one
// trading signal per tick.
//
// Indicators advance on candle close; signals are evaluated on every tick
// against the most recent indicator values. A Classifier is owned by a single
// goroutine.
package regime

import (
	"fmt"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/internal/indicator"
	"ProxyTrader/pkg/config"
	"ProxyTrader/pkg/logger"
)

// Classifier is the regime state machine for one benchmark symbol.
type Classifier struct {
	cfg       config.ClassifierConfig
	benchmark string
	log       *logger.Logger

	schedule *Schedule
	candles  *candleBuilder

	sma   *indicator.SMA
	bands *indicator.BandWidth
	chop  *indicator.Chop
	atr   *indicator.ATR
	slope *indicator.Slope
	all   []indicator.Indicator

	session string
	phase   Phase
	mode    models.StrategyMode
	rescue  schmitt

	trendDir models.Direction
	mrDir    models.Direction
	disp     displacement

	last models.MarketRegime
}

// New builds a classifier for benchmark from cfg.
func New(cfg config.ClassifierConfig, benchmark string, log *logger.Logger) (*Classifier, error) {
	phases := cfg.Phases
	if len(phases) == 0 {
		phases = config.DefaultPhases()
	}
	sched, err := NewSchedule(cfg.Timezone, phases)
	if err != nil {
		return nil, fmt.Errorf("build schedule: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	tf := domrepo.NormalizeTimeframe(cfg.CandleInterval)
	c := &Classifier{
		cfg:       cfg,
		benchmark: benchmark,
		log:       log.Component("regime").With(logger.String("symbol", benchmark)),
		schedule:  sched,
		candles:   newCandleBuilder(tf.Duration()),
		sma:       indicator.NewSMA(cfg.SMAPeriod),
		bands:     indicator.NewBandWidth(cfg.BandPeriod, cfg.BandStdDev, cfg.BandWidthAvgPeriod),
		chop:      indicator.NewChop(cfg.ChopPeriod),
		atr:       indicator.NewATR(cfg.ATRPeriod),
		slope:     indicator.NewSlope(cfg.SlopePeriod),
		phase:     Phase{Name: PreMarket},
		rescue:    schmitt{enter: cfg.Rescue.Enter, exit: cfg.Rescue.Exit},
		last:      models.MarketRegime{Symbol: benchmark},
	}
	c.all = []indicator.Indicator{c.sma, c.bands, c.chop, c.atr, c.slope}
	return c, nil
}

// OnTick advances the state machine with a benchmark tick and returns the
// signal for it. Ticks for other symbols return the previous signal.
func (c *Classifier) OnTick(t models.PriceTick) models.MarketRegime {
	if t.Symbol != c.benchmark || !t.Valid() {
		return c.last
	}

	c.advanceClock(t.Timestamp)

	if closed, ok := c.candles.add(t); ok {
		if closed.Valid() {
			c.updateIndicators(closed)
		} else {
			c.log.Debug("skipping malformed candle", logger.Time("open_time", closed.OpenTime))
		}
	}

	c.updateMode()

	dir := c.trendSignal(t.Price)
	if c.mode == models.MeanReversion {
		dir = c.meanReversionSignal(t.Price)
	} else {
		c.mrDir = models.Neutral
	}

	sig := models.MarketRegime{
		Direction:    dir,
		StrategyMode: c.mode,
		Symbol:       t.Symbol,
		Price:        t.Price,
		Phase:        c.phase.Name,
		Timestamp:    t.Timestamp,
	}
	if d, ok := c.evaluateDisplacement(t.Price, t.Timestamp); ok {
		sig.Direction = d
		sig.IsDisplacementReentry = true
		c.trendDir = d
	}
	c.last = sig
	return sig
}

func (c *Classifier) advanceClock(ts time.Time) {
	session, phase := c.schedule.At(ts)
	switch {
	case c.session == "":
		c.session = session
		c.phase = phase
	case session != c.session:
		c.log.Info("new session", logger.String("session", session), logger.String("previous", c.session))
		c.session = session
		c.phase = phase
		c.resetAll()
	case phase.Name != c.phase.Name:
		c.log.Info("phase change",
			logger.String("from", c.phase.Name), logger.String("to", phase.Name),
			logger.Stringer("default_mode", phase.Mode))
		c.phase = phase
		c.disp.guardUsed = false
		if !phase.KeepIndicators {
			c.resetIndicators()
		}
	}
}

func (c *Classifier) updateIndicators(k models.Candle) {
	c.sma.Update(k.Close)
	c.bands.Update(k.Close)
	c.chop.Update(k)
	c.atr.Update(k)
	c.slope.Update(k.Close)
}

// schmitt is a two-threshold latch: on below enter, off only above exit.
type schmitt struct {
	enter, exit float64
	on          bool
}

// update feeds v and reports whether the latch changed state.
func (s *schmitt) update(v float64) bool {
	switch {
	case !s.on && v < s.enter:
		s.on = true
		return true
	case s.on && v > s.exit:
		s.on = false
		return true
	}
	return false
}

func (c *Classifier) updateMode() {
	if c.chop.Ready() && c.rescue.update(c.chop.Value()) {
		c.log.Info("trend rescue toggled",
			logger.Bool("active", c.rescue.on), logger.Float64("chop", c.chop.Value()))
	}
	if c.rescue.on {
		c.mode = models.Trend
	} else {
		c.mode = c.phase.Mode
	}
}

// trendSignal enters beyond the entry band with slope agreement and holds
// until price falls back inside the narrower exit band.
func (c *Classifier) trendSignal(price float64) models.Direction {
	if !c.sma.Ready() {
		c.trendDir = models.Neutral
		return c.trendDir
	}
	ma := c.sma.Value()
	tc := c.cfg.Trend

	switch c.trendDir {
	case models.Bull:
		if price < ma*(1-tc.ExitBand) {
			c.trendDir = models.Neutral
		}
	case models.Bear:
		if price > ma*(1+tc.ExitBand) {
			c.trendDir = models.Neutral
		}
	}
	if c.trendDir == models.Neutral {
		switch {
		case price > ma*(1+tc.EntryBand) && c.velocityAgrees(1):
			c.trendDir = models.Bull
		case price < ma*(1-tc.EntryBand) && c.velocityAgrees(-1):
			c.trendDir = models.Bear
		}
	}
	return c.trendDir
}

func (c *Classifier) velocityAgrees(sign float64) bool {
	if !c.slope.Ready() {
		return false
	}
	v := c.slope.Value() * sign
	return v > 0 && v >= c.cfg.Trend.MinVelocity
}

// meanReversionSignal fades the band extremes and goes flat at the middle.
func (c *Classifier) meanReversionSignal(price float64) models.Direction {
	if c.mrDir == models.Neutral {
		c.mrDir = models.MrFlat
	}
	if !c.bands.Ready() {
		return c.mrDir
	}
	switch {
	case price <= c.bands.Lower():
		c.mrDir = models.Bull
	case price >= c.bands.Upper():
		c.mrDir = models.MrShort
	case c.mrDir == models.Bull && price >= c.bands.Middle():
		c.mrDir = models.MrFlat
	case c.mrDir == models.MrShort && price <= c.bands.Middle():
		c.mrDir = models.MrFlat
	}
	return c.mrDir
}

func (c *Classifier) resetIndicators() {
	c.candles.reset()
	for _, ind := range c.all {
		ind.Reset()
	}
	c.rescue.on = false
	c.trendDir = models.Neutral
	c.mrDir = models.Neutral
}

func (c *Classifier) resetAll() {
	c.resetIndicators()
	c.disp = displacement{}
}

func (c *Classifier) warm() bool {
	for _, ind := range c.all {
		if !ind.Ready() {
			return false
		}
	}
	return true
}

// Seed warms the close-driven indicators from historical bucket closes,
// oldest first.
func (c *Classifier) Seed(closes []float64) {
	if len(closes) == 0 {
		return
	}
	c.sma.Seed(closes)
	c.bands.Seed(closes)
	c.slope.Seed(closes)
	c.log.Info("indicators seeded", logger.Int("closes", len(closes)), logger.Bool("sma_ready", c.sma.Ready()))
}

// Bands returns the current band extremes once the band is warm.
func (c *Classifier) Bands() (upper, lower float64, ok bool) {
	if !c.bands.Ready() {
		return 0, 0, false
	}
	return c.bands.Upper(), c.bands.Lower(), true
}

// Last returns the most recent signal.
func (c *Classifier) Last() models.MarketRegime { return c.last }

// Snapshot is a read-only view of classifier internals.
type Snapshot struct {
	Session             string              `json:"session"`
	Phase               string              `json:"phase"`
	Mode                models.StrategyMode `json:"mode"`
	TrendRescueActive   bool                `json:"trend_rescue_active"`
	TrendDirection      models.Direction    `json:"trend_direction"`
	MRDirection         models.Direction    `json:"mr_direction"`
	SMA                 float64             `json:"sma"`
	Upper               float64             `json:"band_upper"`
	Middle              float64             `json:"band_middle"`
	Lower               float64             `json:"band_lower"`
	BandWidth           float64             `json:"band_width"`
	BandWidthAvg        float64             `json:"band_width_avg"`
	Chop                float64             `json:"chop"`
	ATR                 float64             `json:"atr"`
	Slope               float64             `json:"slope"`
	Warm                bool                `json:"warm"`
	DisplacementPending bool                `json:"displacement_pending"`
	DisplacementUsed    bool                `json:"displacement_used"`
}

func (c *Classifier) Snapshot() Snapshot {
	return Snapshot{
		Session:             c.session,
		Phase:               c.phase.Name,
		Mode:                c.mode,
		TrendRescueActive:   c.rescue.on,
		TrendDirection:      c.trendDir,
		MRDirection:         c.mrDir,
		SMA:                 c.sma.Value(),
		Upper:               c.bands.Upper(),
		Middle:              c.bands.Middle(),
		Lower:               c.bands.Lower(),
		BandWidth:           c.bands.Value(),
		BandWidthAvg:        c.bands.Average(),
		Chop:                c.chop.Value(),
		ATR:                 c.atr.Value(),
		Slope:               c.slope.Value(),
		Warm:                c.warm(),
		DisplacementPending: c.disp.pending,
		DisplacementUsed:    c.disp.guardUsed,
	}
}
