// Package postgresstore persists documents as jsonb rows through gorm.
package postgresstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahrav/castrank/infrastructure/store"
	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

const backend = "postgres"

// DefaultTable is used when no table name is configured.
const DefaultTable = "documents"

var _ ports.DocumentStore = (*Store)(nil)

// documentRow is one document. Every collection shares the table and is
// distinguished by the first half of the composite key.
type documentRow struct {
	Collection string         `gorm:"column:collection;primaryKey"`
	ID         string         `gorm:"column:id;primaryKey"`
	Fields     datatypes.JSON `gorm:"column:fields;type:jsonb;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

func rowFromDocument(collection string, doc domain.Document, now time.Time) (documentRow, error) {
	data, err := store.EncodeFields(doc)
	if err != nil {
		return documentRow{}, err
	}
	return documentRow{
		Collection: collection,
		ID:         doc.ID(),
		Fields:     datatypes.JSON(data),
		UpdatedAt:  now,
	}, nil
}

func (r documentRow) toDocument() (domain.Document, error) {
	doc, err := store.DecodeDocument(r.ID, r.Fields)
	if err != nil {
		return domain.Document{}, err
	}
	return doc.WithUpdatedAt(r.UpdatedAt.UTC()), nil
}

// Connect opens a gorm connection and verifies it with a ping.
func Connect(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store is a DocumentStore backed by a single PostgreSQL table.
type Store struct {
	db        *gorm.DB
	table     string
	clock     ports.Clock
	publisher ports.ChangePublisher
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(s *Store) {
		if strings.TrimSpace(table) != "" {
			s.table = strings.TrimSpace(table)
		}
	}
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

// NewStore wraps an open connection.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		table:  DefaultTable,
		clock:  ports.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or updates the document table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.table).AutoMigrate(&documentRow{}); err != nil {
		return s.logError("postgres_store_migrate_failed", ports.NewStoreError(backend, "migrate", "", "", err))
	}
	return nil
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	var row documentRow
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("collection = ? AND id = ?", collection, id).
		Take(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, s.logError("postgres_store_get_failed",
			ports.NewStoreError(backend, "get", collection, id, classify(err)))
	}

	doc, err := row.toDocument()
	if err != nil {
		return domain.Document{}, false, ports.NewStoreError(backend, "get", collection, id,
			fmt.Errorf("%w: %w", ports.ErrInvalidDocument, err))
	}
	return doc, true, nil
}

// List returns every document of a collection ordered by ID.
func (s *Store) List(ctx context.Context, collection string) ([]domain.Document, error) {
	var rows []documentRow
	if err := s.db.WithContext(ctx).
		Table(s.table).
		Where("collection = ?", collection).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, s.logError("postgres_store_list_failed",
			ports.NewStoreError(backend, "list", collection, "", classify(err)))
	}

	docs := make([]domain.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toDocument()
		if err != nil {
			return nil, ports.NewStoreError(backend, "list", collection, row.ID,
				fmt.Errorf("%w: %w", ports.ErrInvalidDocument, err))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Set upserts the document. The previous row is read under a row lock in
// the same transaction so the published before-image matches what the
// write replaced.
func (s *Store) Set(ctx context.Context, collection string, doc domain.Document) error {
	if doc.ID() == "" {
		return ports.NewStoreError(backend, "set", collection, "", ports.ErrInvalidDocument)
	}

	now := s.clock.Now()
	row, err := rowFromDocument(collection, doc, now)
	if err != nil {
		return ports.NewStoreError(backend, "set", collection, doc.ID(), fmt.Errorf("%w: %w", ports.ErrInvalidDocument, err))
	}

	var (
		prev    documentRow
		existed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookup := tx.Table(s.table).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND id = ?", collection, doc.ID()).
			Take(&prev)
		switch {
		case lookup.Error == nil:
			existed = true
		case errors.Is(lookup.Error, gorm.ErrRecordNotFound):
		default:
			return lookup.Error
		}

		return tx.Table(s.table).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "collection"}, {Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"fields":     row.Fields,
				"updated_at": row.UpdatedAt,
			}),
		}).Create(&row).Error
	})
	if err != nil {
		return s.logError("postgres_store_set_failed",
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
	if existed {
		before, err := prev.toDocument()
		if err == nil {
			event.Before = &before
		}
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return s.logError("postgres_store_publish_failed", fmt.Errorf("document written but change not published: %w", err))
	}
	return nil
}

// classify maps driver failures onto the shared transient sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	case errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%w: %w", ports.ErrServiceUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// Class 08: connection exception. 40001/40P01: serialization
		// failure and deadlock, both safe to retry.
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "40001", pgErr.Code == "40P01":
			return fmt.Errorf("%w: %w", ports.ErrServiceUnavailable, err)
		case pgErr.Code == "57014":
			return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
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
