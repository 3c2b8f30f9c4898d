// Package middleware provides cross-cutting observability for the ranking
// pipeline.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/castrank/internal/ports"
)

const unknownLabel = "unknown"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Known metric names are routed to dedicated instruments; anything else lands
// on generic vectors keyed by metric name.
type PrometheusMetrics struct {
	aggregationRuns  *prometheus.CounterVec
	processingErrors *prometheus.CounterVec
	leaderboardVotes *prometheus.GaugeVec
	corpusSize       *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec

	operationLatency *prometheus.HistogramVec
	storeLatency     *prometheus.HistogramVec

	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
	valueHistogram   *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers all
// instruments with reg under namespace. A nil reg registers with the global
// default registry.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Leaderboard metrics.
		aggregationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricAggregationRuns,
				Help:      "Total number of leaderboard recomputations by outcome.",
			},
			[]string{ports.LabelEvent, ports.LabelStatus},
		),
		processingErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricProcessingErrors,
				Help:      "Total number of malformed submissions skipped during aggregation.",
			},
			[]string{ports.LabelEvent},
		),
		leaderboardVotes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      ports.MetricLeaderboardVotes,
				Help:      "Number of well-formed ballots behind the last published leaderboard.",
			},
			[]string{ports.LabelEvent},
		),
		corpusSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      ports.MetricCorpusSize,
				Help:      "Number of submissions scanned by one aggregation run.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{ports.LabelEvent},
		),

		// Notification metrics.
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricNotifications,
				Help:      "Total number of notification candidates by type and outcome.",
			},
			[]string{ports.LabelType, ports.LabelOutcome},
		),
		dispatchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      ports.MetricDispatchFailures,
				Help:      "Total number of trigger handler invocations that failed or panicked.",
			},
			[]string{ports.LabelHandler},
		),

		// Latency.
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Execution time of pipeline operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{ports.LabelOperation, ports.LabelComponent},
		),
		storeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Execution time of document store calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{ports.LabelBackend, ports.LabelOperation, ports.LabelStatus},
		),

		// Fallbacks for names without a dedicated instrument.
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Generic counters recorded by pipeline components.",
			},
			[]string{"metric", ports.LabelComponent},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_state",
				Help:      "Generic gauges recorded by pipeline components.",
			},
			[]string{"metric", ports.LabelComponent},
		),
		valueHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "observed_values",
				Help:      "Generic distributions recorded by pipeline components.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric", ports.LabelComponent},
		),
	}
}

// label returns labels[key], or "unknown" when it is missing or empty.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return unknownLabel
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	if operation == ports.OpStore {
		pm.storeLatency.WithLabelValues(
			label(labels, ports.LabelBackend),
			label(labels, ports.LabelOperation),
			label(labels, ports.LabelStatus),
		).Observe(duration.Seconds())
		return
	}
	pm.operationLatency.WithLabelValues(operation, label(labels, ports.LabelComponent)).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricAggregationRuns:
		pm.aggregationRuns.WithLabelValues(label(labels, ports.LabelEvent), label(labels, ports.LabelStatus)).Add(value)
	case ports.MetricProcessingErrors:
		pm.processingErrors.WithLabelValues(label(labels, ports.LabelEvent)).Add(value)
	case ports.MetricNotifications:
		pm.notifications.WithLabelValues(label(labels, ports.LabelType), label(labels, ports.LabelOutcome)).Add(value)
	case ports.MetricDispatchFailures:
		pm.dispatchFailures.WithLabelValues(label(labels, ports.LabelHandler)).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric, label(labels, ports.LabelComponent)).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricLeaderboardVotes:
		pm.leaderboardVotes.WithLabelValues(label(labels, ports.LabelEvent)).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric, label(labels, ports.LabelComponent)).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricCorpusSize:
		pm.corpusSize.WithLabelValues(label(labels, ports.LabelEvent)).Observe(value)
	default:
		pm.valueHistogram.WithLabelValues(metric, label(labels, ports.LabelComponent)).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
