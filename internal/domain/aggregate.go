package domain

import (
	"fmt"
	"time"
)

// Stored field names of an aggregate result document.
const (
	FieldTop10            = "top10"
	FieldTotalVotes       = "totalVotes"
	FieldCalculatedAt     = "calculatedAt"
	FieldProcessingErrors = "processingErrors"

	FieldTotalScore = "totalScore"
	FieldVoteCount  = "voteCount"
)

// DefaultTopK is the length of a published leaderboard.
const DefaultTopK = 10

// DefaultMaxPoints is what a first-place vote is worth.
const DefaultMaxPoints = 10

// ScoredEntity is one contestant's consensus standing for a ranking event.
type ScoredEntity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ImageURL   string `json:"imageUrl"`
	TotalScore int    `json:"totalScore"`
	VoteCount  int    `json:"voteCount"`
}

// AggregateResult is the derived leaderboard for one ranking event. It is
// always replaced wholesale, never merged.
type AggregateResult struct {
	// EventID is the ranking event the result belongs to. It is the
	// document key and is not repeated in the stored fields.
	EventID string `json:"-"`

	// Top is sorted by TotalScore descending, then ID ascending.
	Top []ScoredEntity `json:"top10"`

	// TotalVotes counts submissions that contributed a valid ranking.
	TotalVotes int `json:"totalVotes"`

	// CalculatedAt is when the reduction ran.
	CalculatedAt time.Time `json:"calculatedAt"`

	// ProcessingErrors counts submissions skipped because they were malformed.
	ProcessingErrors int `json:"processingErrors"`
}

// BordaPoints converts a zero-based rank into points: rank 0 earns
// maxPoints, each later rank one fewer, never below zero.
func BordaPoints(rank, maxPoints int) int {
	return max(0, maxPoints-rank)
}

// Document returns the stored form of the result keyed by its event ID.
func (r AggregateResult) Document() Document {
	top := make([]any, 0, len(r.Top))
	for _, e := range r.Top {
		top = append(top, map[string]any{
			FieldEntryID:       e.ID,
			FieldEntryName:     e.Name,
			FieldEntryImageURL: e.ImageURL,
			FieldTotalScore:    e.TotalScore,
			FieldVoteCount:     e.VoteCount,
		})
	}
	return NewDocument(r.EventID, map[string]any{
		FieldTop10:            top,
		FieldTotalVotes:       r.TotalVotes,
		FieldCalculatedAt:     r.CalculatedAt,
		FieldProcessingErrors: r.ProcessingErrors,
	})
}

// DecodeAggregateResult reads a stored aggregate result.
func DecodeAggregateResult(doc Document) (AggregateResult, error) {
	out := AggregateResult{EventID: doc.ID()}

	votes, ok := Get(doc, NewField[int](FieldTotalVotes))
	if !ok {
		return AggregateResult{}, NewDocumentError(doc.ID(), FieldTotalVotes, ErrFieldNotFound)
	}
	out.TotalVotes = votes
	out.ProcessingErrors, _ = Get(doc, NewField[int](FieldProcessingErrors))
	out.CalculatedAt, _ = Get(doc, NewField[time.Time](FieldCalculatedAt))

	items, ok := Get(doc, NewField[[]any](FieldTop10))
	if !ok {
		return AggregateResult{}, NewDocumentError(doc.ID(), FieldTop10, ErrFieldNotFound)
	}
	out.Top = make([]ScoredEntity, 0, len(items))
	for i, item := range items {
		fields, ok := AsRecord(item)
		if !ok {
			return AggregateResult{}, NewDocumentError(doc.ID(), fmt.Sprintf("%s.%d", FieldTop10, i), ErrTypeMismatch)
		}
		var e ScoredEntity
		e.ID, _ = fields[FieldEntryID].(string)
		e.Name, _ = fields[FieldEntryName].(string)
		e.ImageURL, _ = fields[FieldEntryImageURL].(string)
		score, _ := AsInt(fields[FieldTotalScore])
		count, _ := AsInt(fields[FieldVoteCount])
		e.TotalScore, e.VoteCount = int(score), int(count)
		out.Top = append(out.Top, e)
	}
	return out, nil
}
