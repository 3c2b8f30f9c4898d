package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/castrank/internal/ports"
)

// Dispatcher routes change events to the trigger handlers registered for
// their collection. It stands in for a hosting platform's trigger wiring:
// every delivery runs each matching handler as an independent unit of work.
type Dispatcher struct {
	// handlers maps collection names to their handlers in registration order.
	handlers map[string][]ports.TriggerHandler
	// names tracks registered handler names for duplicate detection.
	names map[string]struct{}
	// mu protects concurrent access to handlers and names.
	mu sync.RWMutex

	metrics ports.MetricsCollector
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(metrics ports.MetricsCollector, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]ports.TriggerHandler),
		names:    make(map[string]struct{}),
		metrics:  resolveMetrics(metrics),
		logger:   ResolveLogger(logger),
		tracer:   otel.Tracer("dispatcher"),
	}
}

// Register adds a handler after validating it. Handler names must be
// unique across collections.
func (d *Dispatcher) Register(h ports.TriggerHandler) error {
	if h == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if h.Name() == "" {
		return fmt.Errorf("handler name cannot be empty")
	}
	if err := h.Validate(); err != nil {
		return fmt.Errorf("handler %s failed validation: %w", h.Name(), err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.names[h.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Name())
	}
	d.names[h.Name()] = struct{}{}
	d.handlers[h.Collection()] = append(d.handlers[h.Collection()], h)
	return nil
}

// Collections returns the watched collections in sorted order.
func (d *Dispatcher) Collections() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.handlers))
	for c := range d.handlers {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Dispatch delivers event to every handler of its collection. Handlers run
// one after another and a failing or panicking handler does not prevent
// the rest from running; their errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, event ports.ChangeEvent) error {
	d.mu.RLock()
	handlers := slices.Clone(d.handlers[event.Collection])
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := d.run(ctx, h, event); err != nil {
			errs = append(errs, fmt.Errorf("handler %s: %w", h.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run(ctx context.Context, h ports.TriggerHandler, event ports.ChangeEvent) (err error) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Dispatch",
		trace.WithAttributes(
			attribute.String("handler", h.Name()),
			attribute.String("collection", event.Collection),
			attribute.String("doc_id", event.DocumentID),
			attribute.String("change.kind", string(event.Kind())),
		),
	)
	defer span.End()

	labels := map[string]string{ports.LabelComponent: "dispatcher", ports.LabelHandler: h.Name()}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			d.logger.ErrorContext(ctx, "trigger handler panicked",
				"event", "trigger_handler_panicked",
				"module", logModule,
				"layer", layerWorker,
				"handler", h.Name(),
				"doc_id", event.DocumentID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
		d.metrics.RecordLatency(ports.OpDispatch, time.Since(start), labels)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
			d.metrics.RecordCounter(ports.MetricDispatchFailures, 1, labels)
		}
	}()

	if err = h.Handle(ctx, event); err != nil {
		d.logger.ErrorContext(ctx, "trigger handler failed",
			"event", "trigger_handler_failed",
			"module", logModule,
			"layer", layerWorker,
			"handler", h.Name(),
			"collection", event.Collection,
			"doc_id", event.DocumentID,
			"error", err.Error(),
		)
	}
	return err
}

// Start subscribes Dispatch to every watched collection. Subscriptions end
// when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, subscriber ports.ChangeSubscriber) error {
	for _, collection := range d.Collections() {
		if err := subscriber.Subscribe(ctx, collection, d.Dispatch); err != nil {
			d.logger.Error("change feed subscribe failed",
				"event", "dispatcher_subscribe_failed",
				"module", logModule,
				"layer", layerWorker,
				"collection", collection,
				"error", err.Error(),
			)
			return fmt.Errorf("subscribing to %s: %w", collection, err)
		}
		d.logger.Info("change feed subscription active",
			"event", "dispatcher_subscribed",
			"module", logModule,
			"layer", layerWorker,
			"collection", collection,
		)
	}
	return nil
}
