package ports

import (
	"context"
	"time"

	"github.com/ahrav/castrank/internal/domain"
)

// DocumentStore is the shared document store every pipeline stage reads
// from and writes to. Implementations exist for memory, PostgreSQL, Redis
// and MongoDB; all of them must make Set an atomic full replace.
type DocumentStore interface {
	// Get reads one document by key. The boolean is false when the
	// document does not exist, which is not an error.
	Get(ctx context.Context, collection, id string) (domain.Document, bool, error)

	// List returns every document of a collection. Callers must not rely
	// on the order of the result.
	List(ctx context.Context, collection string) ([]domain.Document, error)

	// Set replaces the document stored under doc.ID() wholesale. Fields
	// absent from doc are removed from the stored copy.
	Set(ctx context.Context, collection string, doc domain.Document) error
}

// ChangeKind classifies a ChangeEvent by which snapshots it carries.
type ChangeKind string

// Supported change kinds.
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent is one delivery from a change feed: the state of a document
// immediately before and after a write. Before is nil for creations and
// After is nil for deletions.
type ChangeEvent struct {
	// ID identifies the delivery. Redeliveries of the same write may carry
	// different IDs.
	ID string

	// Collection is the collection the written document belongs to.
	Collection string

	// DocumentID is the key of the written document.
	DocumentID string

	Before *domain.Document
	After  *domain.Document

	// OccurredAt is when the store observed the write.
	OccurredAt time.Time
}

// Kind reports whether the event is a creation, an update or a deletion.
func (e ChangeEvent) Kind() ChangeKind {
	switch {
	case e.Before == nil:
		return ChangeCreated
	case e.After == nil:
		return ChangeDeleted
	default:
		return ChangeUpdated
	}
}

// ChangeHandler consumes change events. A returned error is logged by the
// feed and does not stop delivery of later events.
type ChangeHandler func(ctx context.Context, event ChangeEvent) error

// ChangeSubscriber is a source of change events.
type ChangeSubscriber interface {
	// Subscribe delivers every write to collection to handler until ctx is
	// cancelled. Deliveries for one subscription arrive sequentially;
	// nothing is guaranteed across subscriptions.
	Subscribe(ctx context.Context, collection string, handler ChangeHandler) error
}

// ChangePublisher accepts change events, typically from a store that does
// not have a native change feed.
type ChangePublisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}
