package domain

import (
	"slices"
	"time"
)

// Stored field names shared by list, comment and profile documents.
const (
	FieldUserID      = "userId"
	FieldListID      = "listId"
	FieldParentID    = "parentId"
	FieldText        = "text"
	FieldUpvotes     = "upvotes"
	FieldDownvotes   = "downvotes"
	FieldCreatedAt   = "createdAt"
	FieldDisplayName = "displayName"
	FieldListName    = "name"
)

// UserList is a user's personal ranked list. Only the fields the
// notification pipeline reads are decoded.
type UserList struct {
	ID      string
	OwnerID string
	Name    string
	// Upvoters is in the order votes were cast.
	Upvoters []string
}

// DecodeUserList reads a list document. A list without an owner decodes
// successfully with an empty OwnerID.
func DecodeUserList(doc Document) (UserList, error) {
	list := UserList{ID: doc.ID()}
	list.OwnerID, _ = Get(doc, NewField[string](FieldUserID))
	list.Name, _ = Get(doc, NewField[string](FieldListName))

	upvoters, err := stringSet(doc, FieldUpvotes)
	if err != nil {
		return UserList{}, err
	}
	list.Upvoters = upvoters
	return list, nil
}

// Comment is a remark on a list or a ranking event. A comment with a
// ParentID is a reply; replies are not nested further.
type Comment struct {
	ID        string
	ListID    string
	AuthorID  string
	ParentID  string
	Text      string
	Upvotes   []string
	Downvotes []string
	CreatedAt time.Time
}

// IsReply reports whether the comment answers another comment.
func (c Comment) IsReply() bool { return c.ParentID != "" }

// DecodeComment reads a comment document.
func DecodeComment(doc Document) (Comment, error) {
	c := Comment{ID: doc.ID()}

	author, ok := Get(doc, NewField[string](FieldUserID))
	if !ok || author == "" {
		return Comment{}, NewDocumentError(doc.ID(), FieldUserID, ErrEmptyValue)
	}
	c.AuthorID = author
	c.ListID, _ = Get(doc, NewField[string](FieldListID))
	c.ParentID, _ = Get(doc, NewField[string](FieldParentID))
	c.Text, _ = Get(doc, NewField[string](FieldText))
	c.CreatedAt, _ = Get(doc, NewField[time.Time](FieldCreatedAt))

	var err error
	if c.Upvotes, err = stringSet(doc, FieldUpvotes); err != nil {
		return Comment{}, err
	}
	if c.Downvotes, err = stringSet(doc, FieldDownvotes); err != nil {
		return Comment{}, err
	}
	return c, nil
}

// UserProfile is the public face of a user.
type UserProfile struct {
	UserID      string
	DisplayName string
}

// DecodeUserProfile reads a profile document.
func DecodeUserProfile(doc Document) UserProfile {
	name, _ := Get(doc, NewField[string](FieldDisplayName))
	return UserProfile{UserID: doc.ID(), DisplayName: name}
}

// stringSet reads a vote-like field. Stores hand sets back either as a
// sequence of user IDs or as a record keyed by user ID with truthy values.
// An absent field is an empty set.
func stringSet(doc Document, name string) ([]string, error) {
	raw, exists := doc.Raw(name)
	if !exists || raw == nil {
		return nil, nil
	}
	if ids, ok := AsStrings(raw); ok {
		return ids, nil
	}
	if record, ok := AsRecord(raw); ok {
		ids := make([]string, 0, len(record))
		for id, v := range record {
			if b, isBool := v.(bool); isBool && !b {
				continue
			}
			ids = append(ids, id)
		}
		slices.Sort(ids)
		return ids, nil
	}
	return nil, NewDocumentError(doc.ID(), name, ErrTypeMismatch)
}

// Added returns the members of after that are not in before, keeping the
// order of after and dropping duplicates.
func Added(before, after []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, id := range before {
		seen[id] = struct{}{}
	}
	var out []string
	for _, id := range after {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
