// Package redisstore keeps each collection in one Redis hash keyed by
// document ID.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ahrav/castrank/infrastructure/store"
	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

const backend = "redis"

// maxTxAttempts bounds optimistic retries when a watched hash changes
// between the read of the previous value and the write.
const maxTxAttempts = 5

var _ ports.DocumentStore = (*Store)(nil)

// envelope is the stored hash value.
type envelope struct {
	Fields    json.RawMessage `json:"fields"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func encode(doc domain.Document, now time.Time) ([]byte, error) {
	fields, err := store.EncodeFields(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Fields: fields, UpdatedAt: now})
}

func decode(id string, data []byte) (domain.Document, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Document{}, fmt.Errorf("decode envelope %q: %w", id, err)
	}
	doc, err := store.DecodeDocument(id, env.Fields)
	if err != nil {
		return domain.Document{}, err
	}
	return doc.WithUpdatedAt(env.UpdatedAt.UTC()), nil
}

// Store is a DocumentStore backed by Redis hashes.
type Store struct {
	client    *redis.Client
	prefix    string
	clock     ports.Clock
	publisher ports.ChangePublisher
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces the hash keys.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = strings.TrimSuffix(prefix, ":") }
}

// WithClock sets the clock used to stamp writes.
func WithClock(clock ports.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPublisher makes every committed Set emit a ChangeEvent.
func WithPublisher(p ports.ChangePublisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Connect creates a client and verifies it with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewStore wraps a connected client.
func NewStore(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		clock:  ports.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(collection string) string {
	if s.prefix == "" {
		return collection
	}
	return s.prefix + ":" + collection
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	data, err := s.client.HGet(ctx, s.key(collection), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, s.logError("redis_store_get_failed",
			ports.NewStoreError(backend, "get", collection, id, classify(err)))
	}

	doc, err := decode(id, data)
	if err != nil {
		return domain.Document{}, false, ports.NewStoreError(backend, "get", collection, id,
			fmt.Errorf("%w: %w", ports.ErrInvalidDocument, err))
	}
	return doc, true, nil
}

// List returns every document of a collection ordered by ID.
func (s *Store) List(ctx context.Context, collection string) ([]domain.Document, error) {
	all, err := s.client.HGetAll(ctx, s.key(collection)).Result()
	if err != nil {
		return nil, s.logError("redis_store_list_failed",
			ports.NewStoreError(backend, "list", collection, "", classify(err)))
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	docs := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := decode(id, []byte(all[id]))
		if err != nil {
			return nil, ports.NewStoreError(backend, "list", collection, id,
				fmt.Errorf("%w: %w", ports.ErrInvalidDocument, err))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Set replaces the hash field for doc. The previous value is read under
// WATCH so the published before-image matches what the write replaced.
func (s *Store) Set(ctx context.Context, collection string, doc domain.Document) error {
	if doc.ID() == "" {
		return ports.NewStoreError(backend, "set", collection, "", ports.ErrInvalidDocument)
	}

	now := s.clock.Now()
	payload, err := encode(doc, now)
	if err != nil {
		return ports.NewStoreError(backend, "set", collection, doc.ID(), fmt.Errorf("%w: %w", ports.ErrInvalidDocument, err))
	}

	key := s.key(collection)
	var prev []byte
	txf := func(tx *redis.Tx) error {
		prev = nil
		data, err := tx.HGet(ctx, key, doc.ID()).Bytes()
		switch {
		case err == nil:
			prev = data
		case errors.Is(err, redis.Nil):
		default:
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, doc.ID(), payload)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return s.logError("redis_store_set_failed",
			ports.NewStoreError(backend, "set", collection, doc.ID(), classify(err)))
	}

	if s.publisher == nil {
		return nil
	}
	after := doc.WithUpdatedAt(now)
	event := ports.ChangeEvent{
		ID:         uuid.NewString(),
		Collection: collection,
		DocumentID: doc.ID(),
		After:      &after,
		OccurredAt: now,
	}
	if prev != nil {
		if before, err := decode(doc.ID(), prev); err == nil {
			event.Before = &before
		}
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return s.logError("redis_store_publish_failed", fmt.Errorf("document written but change not published: %w", err))
	}
	return nil
}

// classify maps client failures onto the shared transient sentinels.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ports.ErrServiceUnavailable, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) || errors.Is(err, redis.TxFailedErr) {
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
