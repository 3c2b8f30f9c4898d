package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/castrank/internal/ports"
)

// DefaultRecomputeConcurrency bounds simultaneous recomputations when the
// configuration leaves it unset.
const DefaultRecomputeConcurrency = 4

// LeaderboardService recomputes and publishes leaderboards. Every
// recomputation rescans the corpus, so concurrent runs for one event
// converge on the last completed write.
type LeaderboardService struct {
	detector       *ChangeDetector
	aggregator     *ScoreAggregator
	publisher      *AggregatePublisher
	maxConcurrency int
	metrics        ports.MetricsCollector
	logger         *slog.Logger
	tracer         trace.Tracer
}

// NewLeaderboardService wires the three leaderboard stages together.
func NewLeaderboardService(
	detector *ChangeDetector,
	aggregator *ScoreAggregator,
	publisher *AggregatePublisher,
	maxConcurrency int,
	metrics ports.MetricsCollector,
	logger *slog.Logger,
) *LeaderboardService {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultRecomputeConcurrency
	}
	return &LeaderboardService{
		detector:       detector,
		aggregator:     aggregator,
		publisher:      publisher,
		maxConcurrency: maxConcurrency,
		metrics:        resolveMetrics(metrics),
		logger:         ResolveLogger(logger),
		tracer:         otel.Tracer("leaderboard-service"),
	}
}

// Events returns the ranking events the service accepts.
func (s *LeaderboardService) Events() []string { return s.detector.Events() }

// Recompute aggregates and publishes each event concurrently and waits for
// all of them. A failure affects only its own event; the returned error
// joins every per-event failure. Event IDs outside the allowlist are
// rejected before any work starts.
func (s *LeaderboardService) Recompute(ctx context.Context, eventIDs ...string) error {
	for _, id := range eventIDs {
		if !s.detector.Allowed(id) {
			return fmt.Errorf("%w: %q", ErrUnknownEvent, id)
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	// A plain Group rather than WithContext: one event failing must not
	// cancel its siblings.
	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)
	for _, id := range eventIDs {
		g.Go(func() error {
			if err := s.recomputeOne(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *LeaderboardService) recomputeOne(ctx context.Context, eventID string) error {
	ctx, span := s.tracer.Start(ctx, "LeaderboardService.Recompute",
		trace.WithAttributes(attribute.String("ranking.event_id", eventID)),
	)
	defer span.End()

	labels := map[string]string{ports.LabelComponent: "leaderboard", ports.LabelEvent: eventID}

	result, err := s.aggregator.Aggregate(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregation failed")
		s.metrics.RecordCounter(ports.MetricAggregationRuns, 1, withLabel(labels, ports.LabelStatus, "scan_failed"))
		return err
	}

	if err := s.publisher.Publish(ctx, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		s.metrics.RecordCounter(ports.MetricAggregationRuns, 1, withLabel(labels, ports.LabelStatus, "publish_failed"))
		s.logger.ErrorContext(ctx, "leaderboard publish failed",
			"event", "leaderboard_publish_failed",
			"module", logModule,
			"layer", layerApplication,
			"ranking_event_id", eventID,
			"error", err.Error(),
		)
		return err
	}

	s.metrics.RecordCounter(ports.MetricAggregationRuns, 1, withLabel(labels, ports.LabelStatus, "success"))
	s.metrics.RecordGauge(ports.MetricLeaderboardVotes, float64(result.TotalVotes), labels)
	s.logger.InfoContext(ctx, "leaderboard published",
		"event", "leaderboard_published",
		"module", logModule,
		"layer", layerApplication,
		"ranking_event_id", eventID,
		"total_votes", result.TotalVotes,
		"processing_errors", result.ProcessingErrors,
	)
	return nil
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

// Verify interface compliance at compile time.
var _ ports.TriggerHandler = (*SubmissionTrigger)(nil)

// SubmissionTrigger recomputes the leaderboards a submission write touched.
type SubmissionTrigger struct {
	collection string
	service    *LeaderboardService
	logger     *slog.Logger
}

// NewSubmissionTrigger creates the trigger for the submission collection.
func NewSubmissionTrigger(collection string, service *LeaderboardService, logger *slog.Logger) *SubmissionTrigger {
	return &SubmissionTrigger{collection: collection, service: service, logger: ResolveLogger(logger)}
}

// Name implements ports.TriggerHandler.
func (t *SubmissionTrigger) Name() string { return "leaderboard-recompute" }

// Collection implements ports.TriggerHandler.
func (t *SubmissionTrigger) Collection() string { return t.collection }

// Validate implements ports.TriggerHandler.
func (t *SubmissionTrigger) Validate() error {
	if t.collection == "" {
		return fmt.Errorf("submission trigger: collection cannot be empty")
	}
	if t.service == nil {
		return fmt.Errorf("submission trigger: leaderboard service is required")
	}
	return nil
}

// Handle implements ports.TriggerHandler. Deleted submissions are ignored.
func (t *SubmissionTrigger) Handle(ctx context.Context, event ports.ChangeEvent) error {
	if event.Kind() == ports.ChangeDeleted {
		return nil
	}
	changed := t.service.detector.Changed(event.Before, event.After)
	if len(changed) == 0 {
		t.logger.DebugContext(ctx, "submission write changed no ranking",
			"event", "ranking_submission_unchanged",
			"module", logModule,
			"layer", layerWorker,
			"doc_id", event.DocumentID,
		)
		return nil
	}
	t.logger.InfoContext(ctx, "ranking submission changed",
		"event", "ranking_submission_changed",
		"module", logModule,
		"layer", layerWorker,
		"doc_id", event.DocumentID,
		"ranking_event_ids", changed,
	)
	return t.service.Recompute(ctx, changed...)
}
