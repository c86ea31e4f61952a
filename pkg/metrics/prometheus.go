package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal     *prometheus.CounterVec
	evaluatedTotal *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	triggersTotal  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	staleSkips     *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	deadLetters    prometheus.Counter
	queueDepth     prometheus.Gauge
	overflows      prometheus.Counter
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trighub_evaluation_ticks_total",
				Help: "Evaluation ticks per symbol:timeframe group",
			},
			[]string{"group"},
		),
		evaluatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trighub_conditions_evaluated_total",
				Help: "Conditions evaluated per group",
			},
			[]string{"group"},
		),
		tickDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trighub_tick_duration_seconds",
				Help:    "Duration of one evaluation tick",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"group"},
		),
		triggersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trighub_triggers_total",
				Help: "Trigger events emitted per symbol",
			},
			[]string{"symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trighub_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		staleSkips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trighub_stale_skips_total",
				Help: "Condition evaluations skipped for stale or missing data",
			},
			[]string{"group"},
		),
		dispatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trighub_dispatches_total",
				Help: "Delivery attempts by result",
			},
			[]string{"result"},
		),
		deadLetters: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "trighub_dead_letters_total",
				Help: "Deliveries routed to the dead letter queue",
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "trighub_dispatch_queue_depth",
				Help: "Current dispatch queue depth",
			},
		),
		overflows: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "trighub_dispatch_overflow_total",
				Help: "Deliveries dropped because the dispatch queue was full",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trighub_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTick records one evaluation pass over a symbol:timeframe group.
func (r *Recorder) RecordTick(group string, seconds float64, evaluated int) {
	r.ticksTotal.WithLabelValues(group).Inc()
	r.tickDuration.WithLabelValues(group).Observe(seconds)
	r.evaluatedTotal.WithLabelValues(group).Add(float64(evaluated))
}

// RecordTrigger records an emitted trigger event.
func (r *Recorder) RecordTrigger(symbol string) {
	r.triggersTotal.WithLabelValues(symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordStaleSkip records a condition skipped for stale or missing data.
func (r *Recorder) RecordStaleSkip(group string) {
	r.staleSkips.WithLabelValues(group).Inc()
}

// RecordDispatch records a delivery attempt outcome.
func (r *Recorder) RecordDispatch(result string) {
	r.dispatches.WithLabelValues(result).Inc()
}

// RecordDeadLetter records a delivery abandoned to the DLQ.
func (r *Recorder) RecordDeadLetter() {
	r.deadLetters.Inc()
}

// RecordQueueDepth records the dispatch queue depth.
func (r *Recorder) RecordQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// RecordOverflow records a delivery dropped on queue overflow.
func (r *Recorder) RecordOverflow() {
	r.overflows.Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
