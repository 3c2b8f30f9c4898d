package domain

import (
	"time"
)

// NotificationType names what happened to the recipient's content.
type NotificationType string

// Supported notification types.
const (
	// NotificationListLike is sent to a list owner when someone upvotes the list.
	NotificationListLike NotificationType = "list_like"

	// NotificationCommentLike is sent to a comment author when someone upvotes the comment.
	NotificationCommentLike NotificationType = "comment_like"

	// NotificationComment is sent to a list owner when someone comments on the list.
	NotificationComment NotificationType = "comment"

	// NotificationCommentReply is sent to a comment author when someone replies.
	NotificationCommentReply NotificationType = "comment_reply"
)

// String returns the string representation of the notification type.
func (t NotificationType) String() string { return string(t) }

// Stored field names of a notification document.
const (
	FieldRecipientUserID  = "recipientUserId"
	FieldType             = "type"
	FieldActorID          = "actorId"
	FieldActorDisplayName = "actorDisplayName"
	FieldIsNew            = "isNew"
	FieldCommentID        = "commentId"
	FieldParentCommentID  = "parentCommentId"
)

// Notification tells one user that another user acted on their content.
// It is created once with IsNew set and later only flipped to read.
type Notification struct {
	ID               string           `validate:"required"`
	RecipientUserID  string           `validate:"required,nefield=ActorID"`
	Type             NotificationType `validate:"required,oneof=list_like comment_like comment comment_reply"`
	ActorID          string           `validate:"required"`
	ActorDisplayName string           `validate:"required"`
	IsNew            bool
	CreatedAt        time.Time `validate:"required"`

	// Type-specific references; empty values are not stored.
	ListID          string
	CommentID       string
	ParentCommentID string
}

// MarkRead returns the notification in its read state. Reading is a
// one-way transition.
func (n Notification) MarkRead() Notification {
	n.IsNew = false
	return n
}

// Document returns the stored form of the notification.
func (n Notification) Document() Document {
	fields := map[string]any{
		FieldRecipientUserID:  n.RecipientUserID,
		FieldType:             string(n.Type),
		FieldActorID:          n.ActorID,
		FieldActorDisplayName: n.ActorDisplayName,
		FieldIsNew:            n.IsNew,
		FieldCreatedAt:        n.CreatedAt,
	}
	if n.ListID != "" {
		fields[FieldListID] = n.ListID
	}
	if n.CommentID != "" {
		fields[FieldCommentID] = n.CommentID
	}
	if n.ParentCommentID != "" {
		fields[FieldParentCommentID] = n.ParentCommentID
	}
	return NewDocument(n.ID, fields)
}

// DecodeNotification reads a stored notification.
func DecodeNotification(doc Document) (Notification, error) {
	n := Notification{ID: doc.ID()}

	recipient, ok := Get(doc, NewField[string](FieldRecipientUserID))
	if !ok {
		return Notification{}, NewDocumentError(doc.ID(), FieldRecipientUserID, ErrFieldNotFound)
	}
	kind, ok := Get(doc, NewField[string](FieldType))
	if !ok {
		return Notification{}, NewDocumentError(doc.ID(), FieldType, ErrFieldNotFound)
	}
	n.RecipientUserID = recipient
	n.Type = NotificationType(kind)
	n.ActorID, _ = Get(doc, NewField[string](FieldActorID))
	n.ActorDisplayName, _ = Get(doc, NewField[string](FieldActorDisplayName))
	n.IsNew, _ = Get(doc, NewField[bool](FieldIsNew))
	n.CreatedAt, _ = Get(doc, NewField[time.Time](FieldCreatedAt))
	n.ListID, _ = Get(doc, NewField[string](FieldListID))
	n.CommentID, _ = Get(doc, NewField[string](FieldCommentID))
	n.ParentCommentID, _ = Get(doc, NewField[string](FieldParentCommentID))
	return n, nil
}
