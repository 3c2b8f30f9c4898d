package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a call without
// reaching the backend.
var ErrCircuitOpen = errors.New("store circuit breaker is open")

// Metric names recorded by the circuit breaker.
const (
	MetricCircuitState = "store_circuit_state"
	MetricCircuitTrips = "store_circuit_trips_total"
)

// CircuitState is the current state of a circuit breaker.
type CircuitState int

// Circuit breaker states.
const (
	// StateClosed lets every call through.
	StateClosed CircuitState = iota

	// StateOpen rejects calls until the cooldown expires.
	StateOpen

	// StateHalfOpen lets a single trial call through to test recovery.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker opens after maxFailures consecutive transient failures and
// stays open for cooldown before letting one trial call through. Calls run
// outside the lock; only admission and bookkeeping are serialized.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        CircuitState
	failureCount int
	probing      bool
	openedAt     time.Time

	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// allow reports whether a call may proceed and moves an expired open
// circuit to half-open.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// record updates the state from a call's result and reports whether the
// circuit tripped. Permanent errors such as invalid documents say nothing
// about backend health and count as successes.
func (cb *CircuitBreaker) record(err error) (tripped bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && isTransient(err)
	if cb.state == StateHalfOpen {
		cb.probing = false
		if failed {
			cb.state = StateOpen
			cb.openedAt = cb.now()
			return true
		}
		cb.state = StateClosed
		cb.failureCount = 0
		return false
	}

	if !failed {
		cb.failureCount = 0
		return false
	}
	cb.failureCount++
	if cb.state == StateClosed && cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		return true
	}
	return false
}

// breakerStore fails fast while the backend is unhealthy.
type breakerStore struct {
	next    ports.DocumentStore
	cb      *CircuitBreaker
	backend string
	metrics ports.MetricsCollector
}

// CircuitBreakerMiddleware creates middleware that stops calling the
// backend after maxFailures consecutive transient failures. A
// non-positive maxFailures returns the store unchanged. metrics may be nil.
func CircuitBreakerMiddleware(cb *CircuitBreaker, backend string, metrics ports.MetricsCollector) Middleware {
	return func(next ports.DocumentStore) ports.DocumentStore {
		if cb == nil || cb.maxFailures <= 0 {
			return next
		}
		return &breakerStore{next: next, cb: cb, backend: backend, metrics: metrics}
	}
}

func (b *breakerStore) call(op func() error) error {
	if !b.cb.allow() {
		return ErrCircuitOpen
	}
	err := op()
	tripped := b.cb.record(err)
	if b.metrics != nil {
		labels := map[string]string{ports.LabelComponent: "store", ports.LabelBackend: b.backend}
		if tripped {
			b.metrics.RecordCounter(MetricCircuitTrips, 1, labels)
		}
		b.metrics.RecordGauge(MetricCircuitState, float64(b.cb.State()), labels)
	}
	return err
}

func (b *breakerStore) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	var (
		doc domain.Document
		ok  bool
	)
	err := b.call(func() error {
		var err error
		doc, ok, err = b.next.Get(ctx, collection, id)
		return err
	})
	return doc, ok, err
}

func (b *breakerStore) List(ctx context.Context, collection string) ([]domain.Document, error) {
	var docs []domain.Document
	err := b.call(func() error {
		var err error
		docs, err = b.next.List(ctx, collection)
		return err
	})
	return docs, err
}

func (b *breakerStore) Set(ctx context.Context, collection string, doc domain.Document) error {
	return b.call(func() error { return b.next.Set(ctx, collection, doc) })
}
