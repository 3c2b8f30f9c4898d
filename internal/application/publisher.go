package application

import (
	"context"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

// AggregatePublisher persists leaderboards keyed by ranking-event ID.
type AggregatePublisher struct {
	store      ports.DocumentStore
	collection string
}

// NewAggregatePublisher creates a publisher writing to collection.
func NewAggregatePublisher(store ports.DocumentStore, collection string) *AggregatePublisher {
	return &AggregatePublisher{store: store, collection: collection}
}

// Publish replaces the stored result for result.EventID in one write.
// Publishing the same result twice leaves the store unchanged.
func (p *AggregatePublisher) Publish(ctx context.Context, result domain.AggregateResult) error {
	if err := p.store.Set(ctx, p.collection, result.Document()); err != nil {
		return NewAggregationError(result.EventID, StagePublish, err)
	}
	return nil
}
