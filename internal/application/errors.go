package application

import (
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/castrank/internal/ports"
)

// Application-level errors.
var (
	// ErrUnknownEvent indicates a ranking-event ID outside the allowlist.
	ErrUnknownEvent = errors.New("unknown ranking event")

	// ErrNotificationNotFound indicates that no notification has the given ID.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrDuplicateHandler indicates a handler name registered twice.
	ErrDuplicateHandler = errors.New("duplicate handler")

	// ErrHandlerPanic indicates a handler that panicked while processing an event.
	ErrHandlerPanic = errors.New("handler panicked")
)

// Stages at which a leaderboard recomputation can fail.
const (
	StageScan    = "scan"
	StagePublish = "publish"
)

// AggregationError reports a recomputation that published nothing.
// Only the named event is affected; other events keep their results.
type AggregationError struct {
	// EventID is the ranking event whose recomputation failed.
	EventID string

	// Stage is StageScan or StagePublish.
	Stage string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for AggregationError.
func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation error: event=%s, stage=%s, err=%v", e.EventID, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *AggregationError) Unwrap() error { return e.Err }

// NewAggregationError creates a new AggregationError with the given details.
func NewAggregationError(eventID, stage string, err error) *AggregationError {
	return &AggregationError{EventID: eventID, Stage: stage, Err: err}
}

// nopMetrics discards everything. It stands in when no collector is wired.
type nopMetrics struct{}

func (nopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (nopMetrics) RecordCounter(string, float64, map[string]string)       {}
func (nopMetrics) RecordGauge(string, float64, map[string]string)         {}
func (nopMetrics) RecordHistogram(string, float64, map[string]string)     {}

func resolveMetrics(m ports.MetricsCollector) ports.MetricsCollector {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
