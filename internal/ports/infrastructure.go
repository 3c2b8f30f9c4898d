package ports

import (
	"time"
)

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like processing errors or
	// suppressed notifications.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like the vote count of the last
	// published leaderboard.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like corpus sizes or
	// fan-out widths.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// Clock supplies the current time. Aggregation stamps results with it, so
// tests pass a fixed clock to make reductions reproducible.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts an ordinary function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// IDGenerator mints document IDs for newly created records.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts an ordinary function to the IDGenerator interface.
type IDGeneratorFunc func() string

// NewID calls f.
func (f IDGeneratorFunc) NewID() string { return f() }
