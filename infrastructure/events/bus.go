// Package events provides an in-process change feed for stores that have no
// native one.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ahrav/castrank/internal/ports"
)

// DefaultBufferSize is the per-subscription queue length.
const DefaultBufferSize = 128

var (
	_ ports.ChangePublisher  = (*Bus)(nil)
	_ ports.ChangeSubscriber = (*Bus)(nil)
)

// Bus fans published change events out to every subscription for the
// event's collection. Each subscription has its own queue and goroutine, so
// handlers for one collection run sequentially while different
// subscriptions proceed independently.
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[string][]chan ports.ChangeEvent
	bufferSize   int
	dropWhenFull bool
	logger       *slog.Logger
	wg           sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscription queue length.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDropWhenFull makes Publish discard events for subscriptions whose
// queue is full instead of waiting for room.
func WithDropWhenFull() Option {
	return func(b *Bus) { b.dropWhenFull = true }
}

// WithLogger sets the logger used for drops and handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string][]chan ports.ChangeEvent),
		bufferSize:  DefaultBufferSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues event for every subscription to event.Collection. By
// default it waits for queue space until ctx is done; with
// WithDropWhenFull it never blocks.
func (b *Bus) Publish(ctx context.Context, event ports.ChangeEvent) error {
	b.mu.RLock()
	subs := append([]chan ports.ChangeEvent(nil), b.subscribers[event.Collection]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if b.dropWhenFull {
			select {
			case sub <- event:
			default:
				b.logger.Warn("dropping change event for slow subscriber",
					"event", "bus_publish_drop",
					"module", "castrank/events",
					"layer", "platform",
					"collection", event.Collection,
					"document_id", event.DocumentID,
					"change_id", event.ID,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish change %s: %w", event.ID, ctx.Err())
		case sub <- event:
		}
	}

	b.logger.Debug("change event published",
		"event", "bus_publish",
		"module", "castrank/events",
		"layer", "platform",
		"collection", event.Collection,
		"document_id", event.DocumentID,
		"change_kind", string(event.Kind()),
		"subscribers", len(subs),
	)
	return nil
}

// Subscribe registers handler for collection and returns immediately.
// Delivery stops and the subscription is removed once ctx is done; events
// still queued at that point are discarded.
func (b *Bus) Subscribe(ctx context.Context, collection string, handler ports.ChangeHandler) error {
	if handler == nil {
		return fmt.Errorf("subscribe %s: nil handler", collection)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("subscribe %s: %w", collection, ports.ErrSubscriptionClosed)
	}

	ch := make(chan ports.ChangeEvent, b.bufferSize)

	b.mu.Lock()
	b.subscribers[collection] = append(b.subscribers[collection], ch)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(collection, ch)
				return
			case event := <-ch:
				if err := handler(ctx, event); err != nil {
					b.logger.Error("change handler failed",
						"event", "bus_consume_failed",
						"module", "castrank/events",
						"layer", "platform",
						"collection", collection,
						"document_id", event.DocumentID,
						"change_id", event.ID,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// Wait blocks until every subscription goroutine has exited.
func (b *Bus) Wait() { b.wg.Wait() }

// Subscribers reports how many live subscriptions collection has.
func (b *Bus) Subscribers(collection string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[collection])
}

func (b *Bus) removeSubscriber(collection string, target chan ports.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[collection]
	if len(items) == 0 {
		return
	}
	filtered := make([]chan ports.ChangeEvent, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	if len(filtered) == 0 {
		delete(b.subscribers, collection)
		return
	}
	b.subscribers[collection] = filtered
}
