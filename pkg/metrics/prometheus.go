// Package metrics records engine activity in Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements the domain Metrics interface.
type Recorder struct {
	ticks         *prometheus.CounterVec
	signals       *prometheus.CounterVec
	stopTriggers  *prometheus.CounterVec
	latchBlocks   *prometheus.CounterVec
	chases        *prometheus.CounterVec
	chaseAttempts prometheus.Histogram
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
}

// New registers the collectors on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proxytrader_ticks_total",
			Help: "Ticks delivered to the engine",
		}, []string{"symbol", "synthetic"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proxytrader_signals_total",
			Help: "Signal changes emitted by the classifier",
		}, []string{"direction", "mode"}),
		stopTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proxytrader_stop_triggers_total",
			Help: "Trailing stop triggers",
		}, []string{"symbol"}),
		latchBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proxytrader_latch_blocks_total",
			Help: "Directional signals suppressed by the washout latch",
		}, []string{"symbol"}),
		chases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proxytrader_chases_total",
			Help: "Completed chase operations",
		}, []string{"side", "aborted"}),
		chaseAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "proxytrader_chase_attempts",
			Help:    "Order submissions per chase",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proxytrader_errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxytrader_last_price",
			Help: "Last price seen per symbol",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxytrader_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordTick(symbol string, synthetic bool) {
	r.ticks.WithLabelValues(symbol, strconv.FormatBool(synthetic)).Inc()
}

func (r *Recorder) RecordSignal(direction, mode string) {
	r.signals.WithLabelValues(direction, mode).Inc()
}

func (r *Recorder) RecordStopTrigger(symbol string) {
	r.stopTriggers.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordLatchBlock(symbol string) {
	r.latchBlocks.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordChase(side string, attempts int, aborted bool) {
	r.chases.WithLabelValues(side, strconv.FormatBool(aborted)).Inc()
	r.chaseAttempts.Observe(float64(attempts))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) RecordTick(string, bool)         {}
func (Nop) RecordSignal(string, string)     {}
func (Nop) RecordStopTrigger(string)        {}
func (Nop) RecordLatchBlock(string)         {}
func (Nop) RecordChase(string, int, bool)   {}
func (Nop) RecordError(string)              {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64)   {}
