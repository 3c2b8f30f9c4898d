// Package testutils provides document builders and test doubles shared by
// the pipeline's test suites.
package testutils

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ahrav/castrank/internal/domain"
)

// Entry builds a real ranking entry with a derived name and image.
func Entry(id string) map[string]any {
	return map[string]any{
		domain.FieldEntryID:       id,
		domain.FieldEntryName:     "Name " + id,
		domain.FieldEntryImageURL: "https://img.example/" + id,
		domain.FieldEntryIsEmpty:  false,
	}
}

// Placeholder builds an unfilled ranking slot.
func Placeholder() map[string]any {
	return map[string]any{
		domain.FieldEntryID:       "",
		domain.FieldEntryName:     "",
		domain.FieldEntryImageURL: "",
		domain.FieldEntryIsEmpty:  true,
	}
}

// Ranking builds one event's sub-record from entries in rank order. An
// empty string stands for a placeholder.
func Ranking(ids ...string) map[string]any {
	ranking := make([]any, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			ranking = append(ranking, Placeholder())
			continue
		}
		ranking = append(ranking, Entry(id))
	}
	return map[string]any{
		domain.FieldRanking:     ranking,
		domain.FieldSubmittedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Submission builds a user's submission document. Values of events are
// stored as given, so malformed sub-records can be injected directly.
func Submission(userID string, events map[string]any) domain.Document {
	return domain.NewDocument(userID, events)
}

// List builds a user list document.
func List(id, owner string, upvoters ...string) domain.Document {
	fields := map[string]any{
		domain.FieldListName: "List " + id,
		domain.FieldUpvotes:  toAny(upvoters),
	}
	if owner != "" {
		fields[domain.FieldUserID] = owner
	}
	return domain.NewDocument(id, fields)
}

// Comment builds a comment document. An empty parentID makes it top-level.
func Comment(id, author, listID, parentID string, upvotes ...string) domain.Document {
	fields := map[string]any{
		domain.FieldUserID:    author,
		domain.FieldListID:    listID,
		domain.FieldText:      "comment " + id,
		domain.FieldUpvotes:   toAny(upvotes),
		domain.FieldDownvotes: []any{},
		domain.FieldCreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if parentID != "" {
		fields[domain.FieldParentID] = parentID
	}
	return domain.NewDocument(id, fields)
}

// Profile builds a user profile document.
func Profile(userID, displayName string) domain.Document {
	return domain.NewDocument(userID, map[string]any{domain.FieldDisplayName: displayName})
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// RandomCorpus generates a reproducible submission corpus for eventID.
// Each user ranks up to domain.MaxRankingLength distinct entities drawn
// from a pool of entityCount, with occasional placeholders.
func RandomCorpus(seed int64, users, entityCount int, eventID string) []domain.Document {
	// #nosec G404 - deterministic fixtures do not need a secure source
	rng := rand.New(rand.NewSource(seed))

	docs := make([]domain.Document, 0, users)
	for u := 0; u < users; u++ {
		n := min(domain.MaxRankingLength, entityCount)
		perm := rng.Perm(entityCount)[:n]
		ids := make([]string, n)
		for i, p := range perm {
			if rng.Intn(8) == 0 {
				continue
			}
			ids[i] = fmt.Sprintf("entity-%03d", p)
		}
		docs = append(docs, Submission(fmt.Sprintf("user-%04d", u), map[string]any{eventID: Ranking(ids...)}))
	}
	return docs
}
