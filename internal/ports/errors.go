package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during store and feed
// interactions.
var (
	// ErrRateLimited indicates that a request was refused by a local or
	// remote rate limiter.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that the backing service is unreachable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidDocument indicates that a stored payload could not be
	// decoded into a document.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrSubscriptionClosed indicates that a change feed stopped delivering.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// StoreError represents a failed document store operation.
// It records which backend, operation and document were involved.
type StoreError struct {
	// Backend names the store implementation, for example "postgres".
	Backend string

	// Operation is the store method that failed: get, list or set.
	Operation string

	// Collection is the collection being accessed.
	Collection string

	// DocumentID is the document key, empty for collection scans.
	DocumentID string

	// Err is the underlying error that occurred.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("store error: backend=%s, operation=%s, collection=%s", e.Backend, e.Operation, e.Collection)
	if e.DocumentID != "" {
		msg += fmt.Sprintf(", id=%s", e.DocumentID)
	}
	return msg + fmt.Sprintf(", err=%v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is temporary and the operation
// can be retried.
func (e *StoreError) IsRetryable() bool {
	// Only transport-level failures are retryable; decode errors are not.
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrServiceUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(backend, operation, collection, id string, err error) *StoreError {
	return &StoreError{
		Backend:    backend,
		Operation:  operation,
		Collection: collection,
		DocumentID: id,
		Err:        err,
	}
}

// MetricsError represents an error from metrics collection operations.
type MetricsError struct {
	// Metric is the name of the metric that was being collected when the
	// error occurred.
	Metric string

	// Operation is the name of the metrics operation that failed.
	Operation string

	// Err is the underlying error that caused the metrics operation to fail.
	Err error
}

// Error implements the error interface for MetricsError.
func (e *MetricsError) Error() string {
	return fmt.Sprintf("metrics error: operation=%s, metric=%s, err=%v", e.Operation, e.Metric, e.Err)
}

// Unwrap returns the underlying error.
func (e *MetricsError) Unwrap() error { return e.Err }

// NewMetricsError creates a new MetricsError with the given details.
func NewMetricsError(metric, operation string, err error) *MetricsError {
	return &MetricsError{
		Metric:    metric,
		Operation: operation,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
