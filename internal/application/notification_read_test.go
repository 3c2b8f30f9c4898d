package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/castrank/infrastructure/store/memory"
	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
	"github.com/ahrav/castrank/internal/testutils"
)

func storedNotification(isNew bool) domain.Notification {
	return domain.Notification{
		ID:               "n-1",
		RecipientUserID:  "owner",
		Type:             domain.NotificationCommentReply,
		ActorID:          "fan-1",
		ActorDisplayName: "Parvati",
		IsNew:            isNew,
		CreatedAt:        testNow,
		ListID:           "list-1",
		CommentID:        "c-2",
		ParentCommentID:  "c-1",
	}
}

func TestMarkNotificationRead(t *testing.T) {
	ctx := context.Background()

	t.Run("marks a new notification read", func(t *testing.T) {
		store := testutils.NewFaultyStore(memory.NewStore())
		require.NoError(t, store.Set(ctx, notificationsCollection, storedNotification(true).Document()))

		require.NoError(t, MarkNotificationRead(ctx, store, notificationsCollection, "n-1"))

		doc, found, err := store.Get(ctx, notificationsCollection, "n-1")
		require.NoError(t, err)
		require.True(t, found)
		got, err := domain.DecodeNotification(doc)
		require.NoError(t, err)

		want := storedNotification(false)
		assert.False(t, got.IsNew)
		assert.Equal(t, want.RecipientUserID, got.RecipientUserID)
		assert.Equal(t, want.ParentCommentID, got.ParentCommentID)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("reading twice writes once", func(t *testing.T) {
		store := testutils.NewFaultyStore(memory.NewStore())
		require.NoError(t, store.Set(ctx, notificationsCollection, storedNotification(true).Document()))

		require.NoError(t, MarkNotificationRead(ctx, store, notificationsCollection, "n-1"))
		require.NoError(t, MarkNotificationRead(ctx, store, notificationsCollection, "n-1"))
		assert.Equal(t, 2, store.Calls("set", notificationsCollection), "One seed write plus one mark.")
	})

	t.Run("keeps extra fields", func(t *testing.T) {
		store := memory.NewStore()
		doc := storedNotification(true).Document().WithRaw("channel", "push")
		require.NoError(t, store.Set(ctx, notificationsCollection, doc))

		require.NoError(t, MarkNotificationRead(ctx, store, notificationsCollection, "n-1"))

		stored, _, err := store.Get(ctx, notificationsCollection, "n-1")
		require.NoError(t, err)
		assert.Equal(t, "push", stored.Fields()["channel"])
	})

	t.Run("unknown id", func(t *testing.T) {
		err := MarkNotificationRead(ctx, memory.NewStore(), notificationsCollection, "nope")
		assert.ErrorIs(t, err, ErrNotificationNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		store := testutils.NewFaultyStore(memory.NewStore())
		store.FailAlways("get", notificationsCollection, ports.ErrTimeout)
		err := MarkNotificationRead(ctx, store, notificationsCollection, "n-1")
		assert.ErrorIs(t, err, ports.ErrTimeout)
	})
}

