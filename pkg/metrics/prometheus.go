package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	tradesIngested *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	reconnects     prometheus.Counter
	gapSeconds     prometheus.Histogram
	windowsClosed  *prometheus.CounterVec
	windowSymbols  prometheus.Gauge
	matches        *prometheus.CounterVec
	lastMatches    *prometheus.GaugeVec
	bufferDepth    prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		tradesIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscreen_trades_ingested_total",
				Help: "Total number of trades accepted from the feed",
			},
			[]string{"symbol"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscreen_ingest_dropped_total",
				Help: "Total number of trades dropped before aggregation",
			},
			[]string{"reason"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscreen_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		reconnects: f.NewCounter(
			prometheus.CounterOpts{
				Name: "finscreen_feed_reconnects_total",
				Help: "Total number of feed reconnect attempts",
			},
		),
		gapSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finscreen_feed_gap_seconds",
				Help:    "Duration of closed ingestion gaps",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
		),
		windowsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscreen_windows_closed_total",
				Help: "Total number of aggregation windows closed",
			},
			[]string{"gap"},
		),
		windowSymbols: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "finscreen_window_instruments",
				Help: "Instruments in the last closed window",
			},
		),
		matches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscreen_matches_total",
				Help: "Total number of screening matches",
			},
			[]string{"rule"},
		),
		lastMatches: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscreen_last_window_matches",
				Help: "Matches in the last screened window",
			},
			[]string{"rule"},
		),
		bufferDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "finscreen_trade_buffer_depth",
				Help: "Trades queued between the feed and the aggregator",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finscreen_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTradeIngested(symbol string) {
	r.tradesIngested.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordDropped(reason string) {
	r.dropped.WithLabelValues(reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordReconnect() {
	r.reconnects.Inc()
}

// RecordGap observes the length of a closed ingestion gap.
func (r *Recorder) RecordGap(seconds float64) {
	r.gapSeconds.Observe(seconds)
}

func (r *Recorder) RecordWindowClosed(instruments int, gap bool) {
	r.windowsClosed.WithLabelValues(strconv.FormatBool(gap)).Inc()
	r.windowSymbols.Set(float64(instruments))
}

func (r *Recorder) RecordMatches(rule string, n int) {
	r.matches.WithLabelValues(rule).Add(float64(n))
	r.lastMatches.WithLabelValues(rule).Set(float64(n))
}

func (r *Recorder) RecordBufferDepth(n int) {
	r.bufferDepth.Set(float64(n))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordTradeIngested(string)     {}
func (Nop) RecordDropped(string)           {}
func (Nop) RecordError(string)             {}
func (Nop) RecordReconnect()               {}
func (Nop) RecordGap(float64)              {}
func (Nop) RecordWindowClosed(int, bool)   {}
func (Nop) RecordMatches(string, int)      {}
func (Nop) RecordBufferDepth(int)          {}
func (Nop) RecordLatency(string, float64)  {}
