package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

var _ ports.ChangeSubscriber = (*ChangeFeed)(nil)

// changeDocument is the subset of a change stream event the feed reads.
type changeDocument struct {
	ID            bson.Raw `bson:"_id"`
	OperationType string   `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.M              `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M              `bson:"fullDocumentBeforeChange"`
	ClusterTime              primitive.Timestamp `bson:"clusterTime"`
}

var (
	// errNoPreImage marks updates whose before-image the server did not
	// supply. Delivering them would make every like look new.
	errNoPreImage = errors.New("change stream event has no pre-image")
	// errNoPostImage marks updates whose after-image the server did not
	// supply, either because post-images are disabled or have expired.
	errNoPostImage = errors.New("change stream event has no post-image")
)

// toChangeEvent converts a raw stream event. The boolean is false for
// operations that do not describe a single document write.
func (c changeDocument) toChangeEvent(collection string) (ports.ChangeEvent, bool, error) {
	event := ports.ChangeEvent{
		ID:         c.ID.String(),
		Collection: collection,
		DocumentID: idString(c.DocumentKey.ID),
		OccurredAt: time.Unix(int64(c.ClusterTime.T), 0).UTC(),
	}

	var before, after *domain.Document
	if c.FullDocumentBeforeChange != nil {
		doc := fromBSON(c.FullDocumentBeforeChange)
		before = &doc
	}
	if c.FullDocument != nil {
		doc := fromBSON(c.FullDocument)
		after = &doc
	}

	switch c.OperationType {
	case "insert":
		if after == nil {
			return ports.ChangeEvent{}, false, nil
		}
		event.After = after
	case "update", "replace":
		if after == nil {
			return ports.ChangeEvent{}, false, errNoPostImage
		}
		if before == nil {
			return ports.ChangeEvent{}, false, errNoPreImage
		}
		event.Before, event.After = before, after
	case "delete":
		if before == nil {
			empty := domain.NewDocument(event.DocumentID, nil)
			before = &empty
		}
		event.Before = before
	default:
		return ports.ChangeEvent{}, false, nil
	}
	return event, true, nil
}

// ChangeFeed delivers MongoDB change stream events as ChangeEvents.
// Updates carry the point-in-time images on both sides of the write, so
// collections must have changeStreamPreAndPostImages enabled. Updates
// arriving without either image are logged and skipped.
type ChangeFeed struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewChangeFeed creates a feed over db.
func NewChangeFeed(db *mongo.Database, logger *slog.Logger) *ChangeFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeFeed{db: db, logger: logger}
}

// Subscribe opens a change stream on collection and delivers events to
// handler from a background goroutine until ctx is done.
func (f *ChangeFeed) Subscribe(ctx context.Context, collection string, handler ports.ChangeHandler) error {
	if handler == nil {
		return fmt.Errorf("subscribe %s: nil handler", collection)
	}

	stream, err := f.db.Collection(collection).Watch(ctx, mongo.Pipeline{}, changeStreamOptions())
	if err != nil {
		return fmt.Errorf("open change stream on %s: %w", collection, classify(err))
	}

	go f.consume(ctx, collection, stream, handler)
	return nil
}

// changeStreamOptions asks for stored post-images rather than an update
// lookup, which would return the document as of the lookup and could
// already include later writes.
func changeStreamOptions() *options.ChangeStreamOptions {
	return options.ChangeStream().
		SetFullDocument(options.WhenAvailable).
		SetFullDocumentBeforeChange(options.WhenAvailable)
}

func (f *ChangeFeed) consume(ctx context.Context, collection string, stream *mongo.ChangeStream, handler ports.ChangeHandler) {
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var raw changeDocument
		if err := stream.Decode(&raw); err != nil {
			f.logger.Error("change stream decode failed",
				"event", "mongo_feed_decode_failed",
				"module", "castrank/store",
				"layer", "adapter",
				"collection", collection,
				"error", err.Error(),
			)
			continue
		}

		event, ok, err := raw.toChangeEvent(collection)
		if err != nil {
			f.logger.Warn("change stream event skipped",
				"event", "mongo_feed_event_skipped",
				"module", "castrank/store",
				"layer", "adapter",
				"collection", collection,
				"document_id", idString(raw.DocumentKey.ID),
				"operation", raw.OperationType,
				"error", err.Error(),
			)
			continue
		}
		if !ok {
			continue
		}
		if err := handler(ctx, event); err != nil {
			f.logger.Error("change handler failed",
				"event", "mongo_feed_consume_failed",
				"module", "castrank/store",
				"layer", "adapter",
				"collection", collection,
				"document_id", event.DocumentID,
				"error", err.Error(),
			)
		}
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		f.logger.Error("change stream ended",
			"event", "mongo_feed_stream_failed",
			"module", "castrank/store",
			"layer", "adapter",
			"collection", collection,
			"error", err.Error(),
		)
	}
}
