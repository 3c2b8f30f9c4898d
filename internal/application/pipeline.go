package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ahrav/castrank/internal/ports"
)

// Dependencies are the infrastructure collaborators a Pipeline needs.
// Only Store is required.
type Dependencies struct {
	Store   ports.DocumentStore
	Metrics ports.MetricsCollector
	Logger  *slog.Logger
	Clock   ports.Clock
	IDs     ports.IDGenerator
}

// Pipeline is the assembled reactive pipeline: the leaderboard flow and
// the notification flow, both registered with one Dispatcher. The two
// flows share no state besides the store.
type Pipeline struct {
	Leaderboard   *LeaderboardService
	Notifications *NotificationEvaluator
	Dispatcher    *Dispatcher

	cfg   Config
	store ports.DocumentStore
}

// NewPipeline builds every stage from cfg and registers the three trigger
// handlers.
func NewPipeline(cfg Config, deps Dependencies) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	logger := ResolveLogger(deps.Logger)
	cols := cfg.Collections

	reducer := BordaAggregator{TopK: cfg.Ranking.TopK, MaxPoints: cfg.Ranking.MaxPoints}
	leaderboard := NewLeaderboardService(
		NewChangeDetector(cfg.Ranking.Events),
		NewScoreAggregator(deps.Store, cols.Submissions, reducer, deps.Clock, deps.Metrics, logger),
		NewAggregatePublisher(deps.Store, cols.Aggregates),
		cfg.Ranking.MaxConcurrency,
		deps.Metrics,
		logger,
	)

	profiles := NewProfileResolver(deps.Store, cols.Users, cfg.Notifications.FallbackDisplayName, logger)
	evaluator := NewNotificationEvaluator(
		deps.Store,
		NotificationSettings{
			Lists:         cols.Lists,
			Comments:      cols.Comments,
			Notifications: cols.Notifications,
			Deduplicate:   cfg.Notifications.Deduplicate,
		},
		profiles,
		deps.IDs,
		deps.Clock,
		deps.Metrics,
		logger,
	)

	dispatcher := NewDispatcher(deps.Metrics, logger)
	for _, h := range []ports.TriggerHandler{
		NewSubmissionTrigger(cols.Submissions, leaderboard, logger),
		NewListLikeTrigger(evaluator),
		NewCommentTrigger(evaluator),
	} {
		if err := dispatcher.Register(h); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	return &Pipeline{
		Leaderboard:   leaderboard,
		Notifications: evaluator,
		Dispatcher:    dispatcher,
		cfg:           cfg,
		store:         deps.Store,
	}, nil
}

// Start subscribes the dispatcher to the change feed.
func (p *Pipeline) Start(ctx context.Context, subscriber ports.ChangeSubscriber) error {
	return p.Dispatcher.Start(ctx, subscriber)
}

// RecomputeAll recomputes every allowlisted ranking event.
func (p *Pipeline) RecomputeAll(ctx context.Context) error {
	return p.Leaderboard.Recompute(ctx, p.Leaderboard.Events()...)
}

// MarkNotificationRead flips one notification to read.
func (p *Pipeline) MarkNotificationRead(ctx context.Context, id string) error {
	return MarkNotificationRead(ctx, p.store, p.cfg.Collections.Notifications, id)
}
