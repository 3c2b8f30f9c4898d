package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotification_Document(t *testing.T) {
	created := time.Date(2026, 7, 4, 18, 30, 0, 0, time.UTC)
	n := Notification{
		ID:               "n-1",
		RecipientUserID:  "owner",
		Type:             NotificationCommentReply,
		ActorID:          "actor",
		ActorDisplayName: "Boston Rob",
		IsNew:            true,
		CreatedAt:        created,
		ListID:           "list-1",
		CommentID:        "c-2",
		ParentCommentID:  "c-1",
	}

	doc := n.Document()
	assert.Equal(t, "n-1", doc.ID())

	decoded, err := DecodeNotification(doc)
	require.NoError(t, err)
	assert.Equal(t, n, decoded)
}

func TestNotification_OmitsEmptyReferences(t *testing.T) {
	doc := Notification{
		ID:              "n-2",
		RecipientUserID: "owner",
		Type:            NotificationListLike,
		ActorID:         "actor",
		ListID:          "list-1",
	}.Document()

	assert.True(t, doc.Has(FieldListID))
	assert.False(t, doc.Has(FieldCommentID))
	assert.False(t, doc.Has(FieldParentCommentID))
}

func TestNotification_MarkRead(t *testing.T) {
	n := Notification{IsNew: true}
	read := n.MarkRead()

	assert.True(t, n.IsNew, "MarkRead() must not modify the receiver.")
	assert.False(t, read.IsNew)
	assert.False(t, read.MarkRead().IsNew, "Reading twice stays read.")
}

func TestDecodeNotification_MissingFields(t *testing.T) {
	_, err := DecodeNotification(NewDocument("n", map[string]any{FieldType: "comment"}))
	assert.ErrorIs(t, err, ErrFieldNotFound)

	_, err = DecodeNotification(NewDocument("n", map[string]any{FieldRecipientUserID: "r"}))
	assert.ErrorIs(t, err, ErrFieldNotFound)
}
