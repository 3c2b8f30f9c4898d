package domain

import (
	"fmt"
	"time"
)

// Field names of a ranking submission's per-event sub-record and of its
// entries, as stored by the client.
const (
	FieldRanking     = "ranking"
	FieldSubmittedAt = "submittedAt"

	FieldEntryID       = "id"
	FieldEntryName     = "name"
	FieldEntryImageURL = "imageUrl"
	FieldEntryIsEmpty  = "isEmpty"
)

// MaxRankingLength is the number of slots a client offers per ranking.
const MaxRankingLength = 10

// RankedEntry is one slot in a user's ranking. A placeholder (IsEmpty)
// occupies a position but never names an entity.
type RankedEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	IsEmpty  bool   `json:"isEmpty"`
}

// RankingRecord is one user's submission for a single ranking event.
type RankingRecord struct {
	// Ranking is ordered best first and may contain placeholders.
	Ranking []RankedEntry

	// SubmittedAt is the client's submission time, zero when missing.
	SubmittedAt time.Time
}

// Contestants returns the non-placeholder entries with their rank index.
func (r RankingRecord) Contestants() []RankedPosition {
	out := make([]RankedPosition, 0, len(r.Ranking))
	for i, entry := range r.Ranking {
		if entry.IsEmpty {
			continue
		}
		out = append(out, RankedPosition{Rank: i, Entry: entry})
	}
	return out
}

// RankedPosition pairs an entry with its zero-based rank.
type RankedPosition struct {
	Rank  int
	Entry RankedEntry
}

// RankingSubmission is the per-user document mapping ranking-event IDs to
// sub-records. Its document ID is the submitting user's ID.
type RankingSubmission struct {
	doc Document
}

// NewRankingSubmission wraps a stored submission document.
func NewRankingSubmission(doc Document) RankingSubmission {
	return RankingSubmission{doc: doc}
}

// UserID returns the owner of the submission.
func (s RankingSubmission) UserID() string { return s.doc.ID() }

// HasEvent reports whether the submission carries a sub-record for eventID.
func (s RankingSubmission) HasEvent(eventID string) bool { return s.doc.Has(eventID) }

// RawRanking returns the undecoded ranking value for eventID. The second
// result is false when the submission has no sub-record for the event.
func (s RankingSubmission) RawRanking(eventID string) (any, bool) {
	raw, ok := s.doc.Raw(eventID)
	if !ok {
		return nil, false
	}
	record, ok := AsRecord(raw)
	if !ok {
		return raw, true
	}
	return record[FieldRanking], true
}

// Record decodes the sub-record for eventID. The boolean is false when the
// submission has no entry for the event at all; an error means the entry
// exists but is malformed.
func (s RankingSubmission) Record(eventID string) (RankingRecord, bool, error) {
	raw, ok := s.doc.Raw(eventID)
	if !ok {
		return RankingRecord{}, false, nil
	}
	record, err := DecodeRankingRecord(raw)
	if err != nil {
		return RankingRecord{}, true, NewDocumentError(s.doc.ID(), eventID, err)
	}
	return record, true, nil
}

// DecodeRankingRecord decodes a per-event sub-record. The ranking must be an
// ordered sequence of records, and every non-placeholder entry must carry an
// id; anything else is reported as ErrMalformedRanking.
func DecodeRankingRecord(raw any) (RankingRecord, error) {
	record, ok := AsRecord(raw)
	if !ok {
		return RankingRecord{}, fmt.Errorf("%w: sub-record is %T, not a record", ErrMalformedRanking, raw)
	}

	rankingRaw, exists := record[FieldRanking]
	if !exists {
		return RankingRecord{}, fmt.Errorf("%w: %s is missing", ErrMalformedRanking, FieldRanking)
	}
	items, ok := AsSlice(rankingRaw)
	if !ok {
		return RankingRecord{}, fmt.Errorf("%w: %s is %T, not a sequence", ErrMalformedRanking, FieldRanking, rankingRaw)
	}

	entries := make([]RankedEntry, 0, len(items))
	for i, item := range items {
		entry, err := decodeRankedEntry(item)
		if err != nil {
			return RankingRecord{}, fmt.Errorf("%w: entry %d: %v", ErrMalformedRanking, i, err)
		}
		entries = append(entries, entry)
	}

	out := RankingRecord{Ranking: entries}
	if submitted, ok := AsTime(record[FieldSubmittedAt]); ok {
		out.SubmittedAt = submitted
	}
	return out, nil
}

func decodeRankedEntry(item any) (RankedEntry, error) {
	fields, ok := AsRecord(item)
	if !ok {
		return RankedEntry{}, fmt.Errorf("%w: entry is %T", ErrTypeMismatch, item)
	}

	var entry RankedEntry
	if v, exists := fields[FieldEntryIsEmpty]; exists && v != nil {
		b, ok := v.(bool)
		if !ok {
			return RankedEntry{}, fmt.Errorf("%w: %s is %T", ErrTypeMismatch, FieldEntryIsEmpty, v)
		}
		entry.IsEmpty = b
	}

	var err error
	if entry.ID, err = optionalString(fields, FieldEntryID); err != nil {
		return RankedEntry{}, err
	}
	if entry.Name, err = optionalString(fields, FieldEntryName); err != nil {
		return RankedEntry{}, err
	}
	if entry.ImageURL, err = optionalString(fields, FieldEntryImageURL); err != nil {
		return RankedEntry{}, err
	}

	if !entry.IsEmpty && entry.ID == "" {
		return RankedEntry{}, fmt.Errorf("%w: non-placeholder entry without %s", ErrEmptyValue, FieldEntryID)
	}
	return entry, nil
}

func optionalString(fields map[string]any, name string) (string, error) {
	v, exists := fields[name]
	if !exists || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T", ErrTypeMismatch, name, v)
	}
	return s, nil
}

// EncodeRankingRecord is the stored form of a sub-record.
func EncodeRankingRecord(r RankingRecord) map[string]any {
	ranking := make([]any, 0, len(r.Ranking))
	for _, e := range r.Ranking {
		ranking = append(ranking, map[string]any{
			FieldEntryID:       e.ID,
			FieldEntryName:     e.Name,
			FieldEntryImageURL: e.ImageURL,
			FieldEntryIsEmpty:  e.IsEmpty,
		})
	}
	out := map[string]any{FieldRanking: ranking}
	if !r.SubmittedAt.IsZero() {
		out[FieldSubmittedAt] = r.SubmittedAt
	}
	return out
}
