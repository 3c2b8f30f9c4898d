package application

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

// ProfileResolver turns user IDs into display names. Concurrent lookups of
// the same user share one store read.
type ProfileResolver struct {
	store      ports.DocumentStore
	collection string
	fallback   string
	logger     *slog.Logger
	// sf collapses simultaneous reads of one profile into a single Get.
	sf singleflight.Group
}

// NewProfileResolver creates a resolver reading profiles from collection.
// fallback labels users without a readable display name.
func NewProfileResolver(store ports.DocumentStore, collection, fallback string, logger *slog.Logger) *ProfileResolver {
	return &ProfileResolver{
		store:      store,
		collection: collection,
		fallback:   fallback,
		logger:     ResolveLogger(logger),
	}
}

// DisplayName returns the user's display name, or the fallback label when
// the profile is missing, has no name, or cannot be read. A read failure
// is logged and never returned.
func (r *ProfileResolver) DisplayName(ctx context.Context, userID string) string {
	v, err, _ := r.sf.Do(userID, func() (any, error) {
		doc, ok, err := r.store.Get(ctx, r.collection, userID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		return normalizeName(domain.DecodeUserProfile(doc).DisplayName), nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, "profile lookup failed, using fallback name",
			"event", "profile_lookup_failed",
			"module", logModule,
			"layer", layerApplication,
			"user_id", userID,
			"error", err.Error(),
		)
		return r.fallback
	}
	if name, _ := v.(string); name != "" {
		return name
	}
	return r.fallback
}

// normalizeName composes the name to NFC so names typed on different
// platforms render the same, and drops surrounding whitespace.
func normalizeName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}
