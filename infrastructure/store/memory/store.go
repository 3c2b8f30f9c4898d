// Package memory provides an in-process DocumentStore for tests and
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

var _ ports.DocumentStore = (*Store)(nil)

// Store keeps documents in nested maps keyed by collection and ID. Writes
// are published to an optional ChangePublisher after the lock is released,
// so handlers that write back to the store cannot deadlock it.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]domain.Document

	clock     ports.Clock
	ids       ports.IDGenerator
	publisher ports.ChangePublisher
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp writes.
func WithClock(clock ports.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublisher makes every Set and Delete emit a ChangeEvent.
func WithPublisher(p ports.ChangePublisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithIDGenerator sets how change event IDs are minted.
func WithIDGenerator(ids ports.IDGenerator) Option {
	return func(s *Store) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]domain.Document),
		clock:       ports.SystemClock,
		ids:         ports.IDGeneratorFunc(uuid.NewString),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, false, ports.NewStoreError("memory", "get", collection, id, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	return doc, ok, nil
}

// List returns the documents of a collection ordered by ID.
func (s *Store) List(ctx context.Context, collection string) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, ports.NewStoreError("memory", "list", collection, "", err)
	}
	s.mu.RLock()
	docs := make([]domain.Document, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	slices.SortFunc(docs, func(a, b domain.Document) int { return strings.Compare(a.ID(), b.ID()) })
	return docs, nil
}

// Set replaces the document stored under doc.ID().
func (s *Store) Set(ctx context.Context, collection string, doc domain.Document) error {
	if doc.ID() == "" {
		return ports.NewStoreError("memory", "set", collection, "", ports.ErrInvalidDocument)
	}
	if err := ctx.Err(); err != nil {
		return ports.NewStoreError("memory", "set", collection, doc.ID(), err)
	}

	now := s.clock.Now()
	doc = doc.WithUpdatedAt(now)

	s.mu.Lock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]domain.Document)
		s.collections[collection] = docs
	}
	before, existed := docs[doc.ID()]
	docs[doc.ID()] = doc
	s.mu.Unlock()

	event := ports.ChangeEvent{Collection: collection, DocumentID: doc.ID(), After: &doc}
	if existed {
		event.Before = &before
	}
	return s.publish(ctx, event)
}

// Delete removes a document. Deleting a missing document is a no-op.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return ports.NewStoreError("memory", "delete", collection, id, err)
	}

	s.mu.Lock()
	before, existed := s.collections[collection][id]
	delete(s.collections[collection], id)
	s.mu.Unlock()

	if !existed {
		return nil
	}
	return s.publish(ctx, ports.ChangeEvent{Collection: collection, DocumentID: id, Before: &before})
}

func (s *Store) publish(ctx context.Context, event ports.ChangeEvent) error {
	if s.publisher == nil {
		return nil
	}
	event.ID = s.ids.NewID()
	event.OccurredAt = s.clock.Now()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "change publish failed",
			"event", "store_change_publish_failed",
			"module", "castrank/store",
			"layer", "adapter",
			"backend", "memory",
			"collection", event.Collection,
			"document_id", event.DocumentID,
			"error", err.Error(),
		)
		return fmt.Errorf("document written but change not published: %w", err)
	}
	return nil
}
