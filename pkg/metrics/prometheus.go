package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chartfeed"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cacheRequests *prometheus.CounterVec
	aggregations  *prometheus.HistogramVec
	outputBars    *prometheus.HistogramVec
	inputBars     *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	backfills     *prometheus.CounterVec
	seriesBars    *prometheus.GaugeVec
	seriesLoads   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New registers the engine collectors on reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cacheRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query_cache",
				Name:      "requests_total",
				Help:      "Query cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		aggregations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "aggregator",
				Name:      "duration_seconds",
				Help:      "Time spent resampling base bars",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"timeframe"},
		),
		outputBars: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "aggregator",
				Name:      "output_bars",
				Help:      "Bars produced per aggregation",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"timeframe"},
		),
		inputBars: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "aggregator",
				Name:      "input_bars_total",
				Help:      "Base bars consumed by aggregation",
			},
			[]string{"timeframe"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "range_guard",
				Name:      "rejections_total",
				Help:      "Queries rejected or short-circuited by the range guard",
			},
			[]string{"reason"},
		),
		backfills: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backfill",
				Name:      "evaluations_total",
				Help:      "Backfill trigger evaluations by outcome",
			},
			[]string{"outcome"},
		),
		seriesBars: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "series",
				Name:      "bars",
				Help:      "Base bars held per series",
			},
			[]string{"series"},
		),
		seriesLoads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "series",
				Name:      "loads_total",
				Help:      "Series loads by source",
			},
			[]string{"series", "source"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordCacheHit(tier string) {
	r.cacheRequests.WithLabelValues(tier, "hit").Inc()
}

func (r *Recorder) RecordCacheMiss(tier string) {
	r.cacheRequests.WithLabelValues(tier, "miss").Inc()
}

// RecordAggregation records one resample pass.
func (r *Recorder) RecordAggregation(tf string, inBars, outBars int, seconds float64) {
	r.aggregations.WithLabelValues(tf).Observe(seconds)
	r.outputBars.WithLabelValues(tf).Observe(float64(outBars))
	r.inputBars.WithLabelValues(tf).Add(float64(inBars))
}

func (r *Recorder) RecordRangeRejected(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordBackfill(outcome string) {
	r.backfills.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordSeriesLoad(seriesID, source string, bars int) {
	r.seriesLoads.WithLabelValues(seriesID, source).Inc()
	r.seriesBars.WithLabelValues(seriesID).Set(float64(bars))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop satisfies the same method set and records nothing.
type Nop struct{}

func (Nop) RecordCacheHit(string) {}
func (Nop) RecordCacheMiss(string) {}
func (Nop) RecordAggregation(string, int, int, float64) {}
func (Nop) RecordRangeRejected(string) {}
func (Nop) RecordBackfill(string) {}
func (Nop) RecordSeriesLoad(string, string, int) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
