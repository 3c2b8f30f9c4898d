package application

import (
	"context"
	"fmt"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

// MarkNotificationRead flips a notification from new to read. Reading an
// already read notification is a no-op and performs no write. Fields other
// than isNew are preserved as stored.
func MarkNotificationRead(ctx context.Context, store ports.DocumentStore, collection, id string) error {
	doc, ok, err := store.Get(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("reading notification %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}

	n, err := domain.DecodeNotification(doc)
	if err != nil {
		return err
	}
	if !n.IsNew {
		return nil
	}

	updated := domain.With(doc, domain.NewField[bool](domain.FieldIsNew), n.MarkRead().IsNew)
	if err := store.Set(ctx, collection, updated); err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}
