package application

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

// BordaAggregator reduces ranking submissions into a leaderboard with a
// Borda count. It holds no state; the same inputs always produce the same
// result.
type BordaAggregator struct {
	// TopK is the leaderboard length.
	TopK int
	// MaxPoints is the value of a first-place vote.
	MaxPoints int
}

// DefaultBordaAggregator returns the 10-deep, 10-point configuration.
func DefaultBordaAggregator() BordaAggregator {
	return BordaAggregator{TopK: domain.DefaultTopK, MaxPoints: domain.DefaultMaxPoints}
}

// Reduce scores eventID across docs. Submissions without a sub-record for
// the event are skipped silently. Malformed submissions are skipped, counted
// in ProcessingErrors and returned as *domain.SubmissionError values so the
// caller can log them; they never stop the reduction.
//
// Entities are ranked by total score descending with ties broken by ID
// ascending, and the first TopK are kept.
func (a BordaAggregator) Reduce(eventID string, docs []domain.Document, now time.Time) (domain.AggregateResult, []error) {
	ordered := slices.Clone(docs)
	slices.SortFunc(ordered, func(x, y domain.Document) int { return cmp.Compare(x.ID(), y.ID()) })

	result := domain.AggregateResult{EventID: eventID, CalculatedAt: now}
	tallies := make(map[string]*domain.ScoredEntity)
	var errs []error

	for _, doc := range ordered {
		sub := domain.NewRankingSubmission(doc)
		record, present, err := sub.Record(eventID)
		if !present {
			continue
		}
		if err != nil {
			result.ProcessingErrors++
			errs = append(errs, domain.NewSubmissionError(sub.UserID(), eventID, err))
			continue
		}

		result.TotalVotes++
		for _, pos := range record.Contestants() {
			e, ok := tallies[pos.Entry.ID]
			if !ok {
				e = &domain.ScoredEntity{ID: pos.Entry.ID}
				tallies[pos.Entry.ID] = e
			}
			e.TotalScore += domain.BordaPoints(pos.Rank, a.maxPoints())
			e.VoteCount++
			// Display fields follow the most recently seen non-empty value.
			if pos.Entry.Name != "" {
				e.Name = pos.Entry.Name
			}
			if pos.Entry.ImageURL != "" {
				e.ImageURL = pos.Entry.ImageURL
			}
		}
	}

	entities := make([]domain.ScoredEntity, 0, len(tallies))
	for _, e := range tallies {
		entities = append(entities, *e)
	}
	slices.SortFunc(entities, compareScored)
	if k := a.topK(); len(entities) > k {
		entities = entities[:k]
	}
	result.Top = entities
	return result, errs
}

func compareScored(x, y domain.ScoredEntity) int {
	if c := cmp.Compare(y.TotalScore, x.TotalScore); c != 0 {
		return c
	}
	return cmp.Compare(x.ID, y.ID)
}

func (a BordaAggregator) topK() int {
	if a.TopK <= 0 {
		return domain.DefaultTopK
	}
	return a.TopK
}

func (a BordaAggregator) maxPoints() int {
	if a.MaxPoints <= 0 {
		return domain.DefaultMaxPoints
	}
	return a.MaxPoints
}

// ScoreAggregator is the store-facing shell around BordaAggregator: it
// scans the submission collection fresh on every call and reduces it.
type ScoreAggregator struct {
	store      ports.DocumentStore
	collection string
	reducer    BordaAggregator
	clock      ports.Clock
	metrics    ports.MetricsCollector
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewScoreAggregator creates a ScoreAggregator reading submissions from
// collection. Nil clock, metrics and logger fall back to defaults.
func NewScoreAggregator(
	store ports.DocumentStore,
	collection string,
	reducer BordaAggregator,
	clock ports.Clock,
	metrics ports.MetricsCollector,
	logger *slog.Logger,
) *ScoreAggregator {
	if clock == nil {
		clock = ports.SystemClock
	}
	return &ScoreAggregator{
		store:      store,
		collection: collection,
		reducer:    reducer,
		clock:      clock,
		metrics:    resolveMetrics(metrics),
		logger:     ResolveLogger(logger),
		tracer:     otel.Tracer("score-aggregator"),
	}
}

// Aggregate computes the current leaderboard for eventID. A failed scan
// returns an *AggregationError and no result.
func (s *ScoreAggregator) Aggregate(ctx context.Context, eventID string) (domain.AggregateResult, error) {
	ctx, span := s.tracer.Start(ctx, "ScoreAggregator.Aggregate",
		trace.WithAttributes(attribute.String("ranking.event_id", eventID)),
	)
	defer span.End()

	start := time.Now()
	docs, err := s.store.List(ctx, s.collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		s.logger.Error("ranking corpus scan failed",
			"event", "ranking_aggregation_scan_failed",
			"module", logModule,
			"layer", layerApplication,
			"ranking_event_id", eventID,
			"error", err.Error(),
		)
		return domain.AggregateResult{}, NewAggregationError(eventID, StageScan, err)
	}

	result, subErrs := s.reducer.Reduce(eventID, docs, s.clock.Now())
	for _, subErr := range subErrs {
		s.logger.WarnContext(ctx, "malformed ranking skipped",
			"event", "ranking_submission_malformed",
			"module", logModule,
			"layer", layerApplication,
			"ranking_event_id", eventID,
			"error", subErr.Error(),
		)
	}

	labels := map[string]string{ports.LabelComponent: "aggregator", ports.LabelEvent: eventID}
	s.metrics.RecordLatency(ports.OpAggregate, time.Since(start), labels)
	s.metrics.RecordHistogram(ports.MetricCorpusSize, float64(len(docs)), labels)
	if result.ProcessingErrors > 0 {
		s.metrics.RecordCounter(ports.MetricProcessingErrors, float64(result.ProcessingErrors), labels)
	}

	span.SetAttributes(
		attribute.Int("ranking.corpus_size", len(docs)),
		attribute.Int("ranking.total_votes", result.TotalVotes),
		attribute.Int("ranking.processing_errors", result.ProcessingErrors),
	)
	s.logger.DebugContext(ctx, "ranking aggregated",
		"event", "ranking_aggregated",
		"module", logModule,
		"layer", layerApplication,
		"ranking_event_id", eventID,
		"total_votes", result.TotalVotes,
		"processing_errors", result.ProcessingErrors,
		"entities", len(result.Top),
	)
	return result, nil
}
