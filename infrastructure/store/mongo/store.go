// Package mongostore persists documents in MongoDB, one collection per
// document collection, and exposes the server's change streams as a
// change feed.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

const backend = "mongo"

// Reserved top-level keys. Everything else is the document payload.
const (
	keyID        = "_id"
	keyUpdatedAt = "_updatedAt"
)

var _ ports.DocumentStore = (*Store)(nil)

// Connect opens a client and verifies it with a ping to the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("mongo uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Store is a DocumentStore backed by a MongoDB database.
type Store struct {
	db     *mongo.Database
	clock  ports.Clock
	logger *slog.Logger
}

// NewStore wraps a database handle. A nil clock uses the system clock.
func NewStore(db *mongo.Database, clock ports.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = ports.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, clock: clock, logger: logger}
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{keyID: id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, s.logError("mongo_store_get_failed",
			ports.NewStoreError(backend, "get", collection, id, classify(err)))
	}
	return fromBSON(raw), true, nil
}

// List returns every document of a collection ordered by ID.
func (s *Store) List(ctx context.Context, collection string) ([]domain.Document, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: keyID, Value: 1}}))
	if err != nil {
		return nil, s.logError("mongo_store_list_failed",
			ports.NewStoreError(backend, "list", collection, "", classify(err)))
	}
	defer cursor.Close(ctx)

	var docs []domain.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, ports.NewStoreError(backend, "list", collection, "",
				fmt.Errorf("%w: %w", ports.ErrInvalidDocument, err))
		}
		docs = append(docs, fromBSON(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, s.logError("mongo_store_list_failed",
			ports.NewStoreError(backend, "list", collection, "", classify(err)))
	}
	return docs, nil
}

// Set replaces the stored document wholesale, inserting it when absent.
func (s *Store) Set(ctx context.Context, collection string, doc domain.Document) error {
	if doc.ID() == "" {
		return ports.NewStoreError(backend, "set", collection, "", ports.ErrInvalidDocument)
	}

	_, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{keyID: doc.ID()},
		toBSON(doc, s.clock.Now()),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return s.logError("mongo_store_set_failed",
			ports.NewStoreError(backend, "set", collection, doc.ID(), classify(err)))
	}
	return nil
}

// toBSON flattens a document into a BSON record.
func toBSON(doc domain.Document, now time.Time) bson.M {
	out := doc.Fields()
	out[keyID] = doc.ID()
	out[keyUpdatedAt] = now
	return out
}

// fromBSON converts a decoded record into a Document, normalizing driver
// specific types to the plain Go values domain readers expect.
func fromBSON(raw bson.M) domain.Document {
	var (
		id        string
		updatedAt time.Time
	)
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case keyID:
			id = idString(v)
		case keyUpdatedAt:
			updatedAt, _ = normalize(v).(time.Time)
		default:
			fields[k] = normalize(v)
		}
	}
	return domain.NewDocument(id, fields).WithUpdatedAt(updatedAt)
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(v)
	}
}

func normalize(v any) any {
	switch val := v.(type) {
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	case int32:
		return int64(val)
	case primitive.ObjectID:
		return val.Hex()
	default:
		return v
	}
}

// classify maps driver failures onto the shared transient sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	case mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %w", ports.ErrServiceUnavailable, err)
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorLabel("RetryableWriteError") {
		return fmt.Errorf("%w: %w", ports.ErrServiceUnavailable, err)
	}
	return err
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "castrank/store",
		"layer", "adapter",
		"backend", backend,
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("document store operation failed", fields...)
	return err
}
