// Package store provides the cross-cutting layers shared by every
// ports.DocumentStore implementation: middleware and payload encoding.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

// Middleware wraps a DocumentStore with additional behavior.
type Middleware func(ports.DocumentStore) ports.DocumentStore

// Chain applies middleware so the first one listed is the outermost.
func Chain(base ports.DocumentStore, middleware ...Middleware) ports.DocumentStore {
	s := base
	for i := len(middleware) - 1; i >= 0; i-- {
		s = middleware[i](s)
	}
	return s
}

// timeoutStore bounds every call so a stalled backend cannot hang a handler.
type timeoutStore struct {
	next    ports.DocumentStore
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces a per-call deadline.
// A non-positive timeout returns the store unchanged.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next ports.DocumentStore) ports.DocumentStore {
		if timeout <= 0 {
			return next
		}
		return &timeoutStore{next: next, timeout: timeout}
	}
}

func (t *timeoutStore) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	doc, ok, err := t.next.Get(ctx, collection, id)
	return doc, ok, asTimeout(ctx, err)
}

func (t *timeoutStore) List(ctx context.Context, collection string) ([]domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	docs, err := t.next.List(ctx, collection)
	return docs, asTimeout(ctx, err)
}

func (t *timeoutStore) Set(ctx context.Context, collection string, doc domain.Document) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return asTimeout(ctx, t.next.Set(ctx, collection, doc))
}

// asTimeout tags errors caused by our own deadline so retry logic can
// recognize them.
func asTimeout(ctx context.Context, err error) error {
	if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, ports.ErrTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
}

// rateLimitedStore paces calls with a token bucket shared by all operations.
type rateLimitedStore struct {
	next    ports.DocumentStore
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using
// a token bucket. A non-positive limit returns the store unchanged.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	return func(next ports.DocumentStore) ports.DocumentStore {
		if limit <= 0 {
			return next
		}
		return &rateLimitedStore{next: next, limiter: rate.NewLimiter(limit, burst)}
	}
}

func (r *rateLimitedStore) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrRateLimited, err)
	}
	return nil
}

func (r *rateLimitedStore) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	if err := r.wait(ctx); err != nil {
		return domain.Document{}, false, err
	}
	return r.next.Get(ctx, collection, id)
}

func (r *rateLimitedStore) List(ctx context.Context, collection string) ([]domain.Document, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.List(ctx, collection)
}

func (r *rateLimitedStore) Set(ctx context.Context, collection string, doc domain.Document) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.Set(ctx, collection, doc)
}

// retryStore re-attempts calls that failed with a transient error, using
// exponential backoff with jitter.
type retryStore struct {
	next       ports.DocumentStore
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries transient failures.
// Only errors wrapping ports.ErrTimeout, ports.ErrRateLimited or
// ports.ErrServiceUnavailable are retried. Zero retries returns the store
// unchanged.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next ports.DocumentStore) ports.DocumentStore {
		if maxRetries <= 0 {
			return next
		}
		return &retryStore{next: next, maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
	}
}

func (r *retryStore) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	var (
		doc domain.Document
		ok  bool
	)
	err := r.do(ctx, func() error {
		var err error
		doc, ok, err = r.next.Get(ctx, collection, id)
		return err
	})
	return doc, ok, err
}

func (r *retryStore) List(ctx context.Context, collection string) ([]domain.Document, error) {
	var docs []domain.Document
	err := r.do(ctx, func() error {
		var err error
		docs, err = r.next.List(ctx, collection)
		return err
	})
	return docs, err
}

func (r *retryStore) Set(ctx context.Context, collection string, doc domain.Document) error {
	return r.do(ctx, func() error { return r.next.Set(ctx, collection, doc) })
}

func (r *retryStore) do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) || ctx.Err() != nil || attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
			// Continue to next attempt.
		}
	}
	return lastErr
}

func isTransient(err error) bool {
	return errors.Is(err, ports.ErrTimeout) ||
		errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, ports.ErrServiceUnavailable)
}

func (r *retryStore) calculateDelay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	// #nosec G115 - attempt is bounded between 0 and 30
	delay := r.baseDelay * time.Duration(1<<uint(attempt))

	// Add jitter (±25%)
	// #nosec G404 - Using weak RNG is acceptable for jitter calculation
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - (delay / 4)

	if r.maxDelay > 0 && delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

// metricsStore records latency and outcome of every call.
type metricsStore struct {
	next      ports.DocumentStore
	backend   string
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that records per-operation latency
// labelled with the backend name.
func MetricsMiddleware(backend string, collector ports.MetricsCollector) Middleware {
	return func(next ports.DocumentStore) ports.DocumentStore {
		if collector == nil {
			return next
		}
		return &metricsStore{next: next, backend: backend, collector: collector}
	}
}

func (m *metricsStore) observe(operation, collection string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.collector.RecordLatency(ports.OpStore, time.Since(start), map[string]string{
		ports.LabelComponent: "store",
		ports.LabelBackend:   m.backend,
		ports.LabelOperation: operation,
		ports.LabelStatus:    status,
		"collection":         collection,
	})
}

func (m *metricsStore) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	start := time.Now()
	doc, ok, err := m.next.Get(ctx, collection, id)
	m.observe("get", collection, start, err)
	return doc, ok, err
}

func (m *metricsStore) List(ctx context.Context, collection string) ([]domain.Document, error) {
	start := time.Now()
	docs, err := m.next.List(ctx, collection)
	m.observe("list", collection, start, err)
	return docs, err
}

func (m *metricsStore) Set(ctx context.Context, collection string, doc domain.Document) error {
	start := time.Now()
	err := m.next.Set(ctx, collection, doc)
	m.observe("set", collection, start, err)
	return err
}

// tracedStore wraps every call in a span.
type tracedStore struct {
	next    ports.DocumentStore
	backend string
	tracer  trace.Tracer
}

// TracingMiddleware creates middleware that adds an OpenTelemetry span to
// every store call.
func TracingMiddleware(backend string) Middleware {
	return func(next ports.DocumentStore) ports.DocumentStore {
		return &tracedStore{next: next, backend: backend, tracer: otel.Tracer("document-store")}
	}
}

func (t *tracedStore) start(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.backend),
			attribute.String("db.collection", collection),
		),
	)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store call failed")
	}
	span.End()
}

func (t *tracedStore) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	ctx, span := t.start(ctx, "get", collection)
	span.SetAttributes(attribute.String("db.document_id", id))
	doc, ok, err := t.next.Get(ctx, collection, id)
	span.SetAttributes(attribute.Bool("db.found", ok))
	end(span, err)
	return doc, ok, err
}

func (t *tracedStore) List(ctx context.Context, collection string) ([]domain.Document, error) {
	ctx, span := t.start(ctx, "list", collection)
	docs, err := t.next.List(ctx, collection)
	span.SetAttributes(attribute.Int("db.document_count", len(docs)))
	end(span, err)
	return docs, err
}

func (t *tracedStore) Set(ctx context.Context, collection string, doc domain.Document) error {
	ctx, span := t.start(ctx, "set", collection)
	span.SetAttributes(attribute.String("db.document_id", doc.ID()))
	err := t.next.Set(ctx, collection, doc)
	end(span, err)
	return err
}
