package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStoreError tests the functionality of the StoreError error type.
// It covers error creation, message formatting, and retryable logic.
func TestStoreError(t *testing.T) {
	t.Run("document operation", func(t *testing.T) {
		err := NewStoreError("postgres", "get", "userLists", "list-1", ErrServiceUnavailable)

		assert.Equal(t, "store error: backend=postgres, operation=get, collection=userLists, id=list-1, err=service unavailable", err.Error())
		assert.Equal(t, "userLists", err.Collection)
		assert.True(t, errors.Is(err, ErrServiceUnavailable))
	})

	t.Run("collection scan omits id", func(t *testing.T) {
		err := NewStoreError("redis", "list", "userGlobalRankings", "", ErrTimeout)

		assert.Equal(t, "store error: backend=redis, operation=list, collection=userGlobalRankings, err=operation timed out", err.Error())
	})

	t.Run("retryable errors", func(t *testing.T) {
		for _, baseErr := range []error{ErrRateLimited, ErrServiceUnavailable, ErrTimeout} {
			err := NewStoreError("mongo", "set", "c", "id", baseErr)
			assert.True(t, err.IsRetryable(), "%v should be retryable", baseErr)
		}

		for _, baseErr := range []error{ErrInvalidDocument, errors.New("duplicate key")} {
			err := NewStoreError("mongo", "set", "c", "id", baseErr)
			assert.False(t, err.IsRetryable(), "%v should not be retryable", baseErr)
		}
	})
}

// TestMetricsError tests the functionality of the MetricsError error type.
// It ensures that the error message is formatted correctly and includes the necessary context.
func TestMetricsError(t *testing.T) {
	err := NewMetricsError("store_latency", "RecordHistogram", errors.New("duplicate registration"))

	assert.Equal(t, "metrics error: operation=RecordHistogram, metric=store_latency, err=duplicate registration", err.Error())
	assert.Equal(t, "store_latency", err.Metric)
	assert.Equal(t, "RecordHistogram", err.Operation)
}

// TestConfigError tests the functionality of the ConfigError error type.
// It verifies that the error message is formatted correctly and contains the relevant configuration key.
func TestConfigError(t *testing.T) {
	err := NewConfigError("store.postgres.dsn", ErrConfigNotFound)

	assert.Equal(t, "config error: key=store.postgres.dsn, err=configuration not found", err.Error())
	assert.Equal(t, "store.postgres.dsn", err.ConfigKey)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

// TestCommonInfrastructureErrors tests that the common infrastructure errors are defined.
// It checks that each error has the expected error message.
func TestCommonInfrastructureErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrRateLimited, "rate limited"},
		{ErrServiceUnavailable, "service unavailable"},
		{ErrTimeout, "operation timed out"},
		{ErrInvalidDocument, "invalid document"},
		{ErrSubscriptionClosed, "subscription closed"},
		{ErrConfigNotFound, "configuration not found"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

// TestErrorUnwrapping tests that all custom error types in the package support unwrapping.
func TestErrorUnwrapping(t *testing.T) {
	baseErr := errors.New("underlying error")

	errorList := []interface {
		error
		Unwrap() error
	}{
		NewStoreError("memory", "op", "c", "k", baseErr),
		NewMetricsError("metric", "op", baseErr),
		NewConfigError("key", baseErr),
	}

	for _, err := range errorList {
		unwrapped := err.Unwrap()
		assert.Equal(t, baseErr, unwrapped, "%T should unwrap to base error", err)
		assert.True(t, errors.Is(err, baseErr), "%T should match base error with Is", err)
	}
}
