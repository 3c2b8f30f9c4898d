package application

import (
	"bytes"
	"encoding/json"

	"github.com/ahrav/castrank/internal/domain"
)

// ChangeDetector decides which ranking events a submission write touched.
// It is a pure function of the allowlist and the two snapshots.
type ChangeDetector struct {
	events []string
}

// NewChangeDetector creates a detector for the given allowlist. Result
// order follows the allowlist order.
func NewChangeDetector(events []string) *ChangeDetector {
	seen := make(map[string]struct{}, len(events))
	ordered := make([]string, 0, len(events))
	for _, id := range events {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	return &ChangeDetector{events: ordered}
}

// Events returns the allowlist.
func (d *ChangeDetector) Events() []string {
	return append([]string(nil), d.events...)
}

// Allowed reports whether eventID is on the allowlist.
func (d *ChangeDetector) Allowed(eventID string) bool {
	for _, id := range d.events {
		if id == eventID {
			return true
		}
	}
	return false
}

// Changed returns the allowlisted event IDs present in after whose ranking
// differs from before. A nil before means the submission is new, so every
// present event counts as changed. Events removed from a submission are not
// reported.
func (d *ChangeDetector) Changed(before, after *domain.Document) []string {
	if after == nil {
		return nil
	}
	var beforeSub, afterSub domain.RankingSubmission
	afterSub = domain.NewRankingSubmission(*after)
	if before != nil {
		beforeSub = domain.NewRankingSubmission(*before)
	}

	var changed []string
	for _, id := range d.events {
		if !afterSub.HasEvent(id) {
			continue
		}
		if before == nil || !beforeSub.HasEvent(id) {
			changed = append(changed, id)
			continue
		}
		prev, _ := beforeSub.RawRanking(id)
		next, _ := afterSub.RawRanking(id)
		if !sameRanking(prev, next) {
			changed = append(changed, id)
		}
	}
	return changed
}

// sameRanking compares two rankings by their JSON encoding, which is
// order-sensitive for sequences and key-sorted for records. Values that
// cannot be encoded are treated as changed.
func sameRanking(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
