package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

// notificationNamespace seeds deterministic notification IDs.
var notificationNamespace = uuid.MustParse("6f1c3c36-5c7e-4f63-9d56-2f0b1d7a8e41")

// Notification outcomes, used as the outcome metric label.
const (
	OutcomeEmitted    = "emitted"
	OutcomeSuppressed = "suppressed"
	OutcomeSkipped    = "skipped"
	OutcomeDuplicate  = "duplicate"
	OutcomeFailed     = "failed"
)

// DefaultFanOutConcurrency bounds simultaneous notification writes for one
// triggering event.
const DefaultFanOutConcurrency = 8

// Report summarizes one notification evaluation.
type Report struct {
	// Emitted counts notifications written.
	Emitted int
	// Suppressed counts self-actions that produced nothing.
	Suppressed int
	// Skipped counts candidates without a known recipient.
	Skipped int
	// Duplicate counts deduplicated candidates whose notification already
	// exists; the stored one is left untouched.
	Duplicate int
	// Failed counts candidates whose lookup or write failed.
	Failed int
}

func (r *Report) add(outcome string) {
	switch outcome {
	case OutcomeEmitted:
		r.Emitted++
	case OutcomeSuppressed:
		r.Suppressed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeDuplicate:
		r.Duplicate++
	default:
		r.Failed++
	}
}

func (r *Report) merge(o Report) {
	r.Emitted += o.Emitted
	r.Suppressed += o.Suppressed
	r.Skipped += o.Skipped
	r.Duplicate += o.Duplicate
	r.Failed += o.Failed
}

// NotificationSettings names the collections the evaluator reads and
// writes, plus its dedup option.
type NotificationSettings struct {
	Lists         string
	Comments      string
	Notifications string
	Deduplicate   bool
}

// candidate is a notification that may be written once suppression and
// recipient checks pass.
type candidate struct {
	recipient string
	actor     string
	kind      domain.NotificationType
	listID    string
	commentID string
	parentID  string
}

// dedupKey identifies what a notification is about, independent of the
// delivery that produced it.
func (c candidate) dedupKey() string {
	return strings.Join([]string{string(c.kind), c.actor, c.recipient, c.listID, c.commentID, c.parentID}, "|")
}

// NotificationEvaluator fans social events out to the users they concern.
// Each candidate notification is isolated: a failed lookup or write is
// logged and counted without affecting the others.
type NotificationEvaluator struct {
	store    ports.DocumentStore
	settings NotificationSettings
	profiles *ProfileResolver
	ids      ports.IDGenerator
	clock    ports.Clock
	metrics  ports.MetricsCollector
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewNotificationEvaluator creates an evaluator. A nil ids generator mints
// random UUIDs; nil clock, metrics and logger fall back to defaults.
func NewNotificationEvaluator(
	store ports.DocumentStore,
	settings NotificationSettings,
	profiles *ProfileResolver,
	ids ports.IDGenerator,
	clock ports.Clock,
	metrics ports.MetricsCollector,
	logger *slog.Logger,
) *NotificationEvaluator {
	if ids == nil {
		ids = ports.IDGeneratorFunc(uuid.NewString)
	}
	if clock == nil {
		clock = ports.SystemClock
	}
	return &NotificationEvaluator{
		store:    store,
		settings: settings,
		profiles: profiles,
		ids:      ids,
		clock:    clock,
		metrics:  resolveMetrics(metrics),
		logger:   ResolveLogger(logger),
		tracer:   otel.Tracer("notification-evaluator"),
	}
}

// OnListWrite notifies a list's owner of every newly added upvoter.
// Removed upvotes and list creations produce nothing.
func (e *NotificationEvaluator) OnListWrite(ctx context.Context, event ports.ChangeEvent) (Report, error) {
	if event.Kind() != ports.ChangeUpdated {
		return Report{}, nil
	}
	ctx, span := e.tracer.Start(ctx, "NotificationEvaluator.OnListWrite",
		trace.WithAttributes(attribute.String("list.id", event.DocumentID)),
	)
	defer span.End()

	before, err := domain.DecodeUserList(*event.Before)
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}
	after, err := domain.DecodeUserList(*event.After)
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}

	var cands []candidate
	for _, actor := range domain.Added(before.Upvoters, after.Upvoters) {
		cands = append(cands, candidate{
			recipient: after.OwnerID,
			actor:     actor,
			kind:      domain.NotificationListLike,
			listID:    after.ID,
		})
	}
	return e.emitAll(ctx, cands), nil
}

// OnCommentWrite handles both comment flows: a created comment notifies
// the list owner and, for a reply, the parent comment's author; an updated
// comment notifies its author of every newly added upvoter. The two
// recipients of a reply are resolved and written independently.
func (e *NotificationEvaluator) OnCommentWrite(ctx context.Context, event ports.ChangeEvent) (Report, error) {
	ctx, span := e.tracer.Start(ctx, "NotificationEvaluator.OnCommentWrite",
		trace.WithAttributes(
			attribute.String("comment.id", event.DocumentID),
			attribute.String("change.kind", string(event.Kind())),
		),
	)
	defer span.End()

	switch event.Kind() {
	case ports.ChangeCreated:
		comment, err := domain.DecodeComment(*event.After)
		if err != nil {
			span.RecordError(err)
			return Report{}, err
		}
		return e.onCommentCreated(ctx, comment), nil

	case ports.ChangeUpdated:
		before, err := domain.DecodeComment(*event.Before)
		if err != nil {
			span.RecordError(err)
			return Report{}, err
		}
		after, err := domain.DecodeComment(*event.After)
		if err != nil {
			span.RecordError(err)
			return Report{}, err
		}
		var cands []candidate
		for _, actor := range domain.Added(before.Upvotes, after.Upvotes) {
			cands = append(cands, candidate{
				recipient: after.AuthorID,
				actor:     actor,
				kind:      domain.NotificationCommentLike,
				listID:    after.ListID,
				commentID: after.ID,
			})
		}
		return e.emitAll(ctx, cands), nil

	default:
		return Report{}, nil
	}
}

func (e *NotificationEvaluator) onCommentCreated(ctx context.Context, comment domain.Comment) Report {
	var (
		report Report
		cands  []candidate
	)
	replyTo := ""
	if comment.IsReply() {
		if c, ok := e.replyCandidate(ctx, &report, comment); ok {
			cands = append(cands, c)
			replyTo = c.recipient
		}
	}
	// A parent author who also owns the list hears about the reply once.
	if c, ok := e.ownerCandidate(ctx, &report, comment); ok && c.recipient != replyTo {
		cands = append(cands, c)
	}
	report.merge(e.emitAll(ctx, cands))
	return report
}

// replyCandidate resolves the parent comment's author. Lookup failures are
// recorded on report and yield no candidate.
func (e *NotificationEvaluator) replyCandidate(ctx context.Context, report *Report, comment domain.Comment) (candidate, bool) {
	parentDoc, ok, err := e.store.Get(ctx, e.settings.Comments, comment.ParentID)
	if err != nil {
		e.record(ctx, report, domain.NotificationCommentReply, OutcomeFailed, "parent comment lookup failed", err)
		return candidate{}, false
	}
	if !ok {
		e.record(ctx, report, domain.NotificationCommentReply, OutcomeSkipped, "parent comment not found", nil)
		return candidate{}, false
	}
	parent, err := domain.DecodeComment(parentDoc)
	if err != nil {
		e.record(ctx, report, domain.NotificationCommentReply, OutcomeFailed, "parent comment malformed", err)
		return candidate{}, false
	}
	return candidate{
		recipient: parent.AuthorID,
		actor:     comment.AuthorID,
		kind:      domain.NotificationCommentReply,
		listID:    comment.ListID,
		commentID: comment.ID,
		parentID:  parent.ID,
	}, true
}

// ownerCandidate resolves the owner of the list the comment was posted on.
// Comments on global ranking events have no list document, and so no
// owner to notify.
func (e *NotificationEvaluator) ownerCandidate(ctx context.Context, report *Report, comment domain.Comment) (candidate, bool) {
	if comment.ListID == "" {
		e.record(ctx, report, domain.NotificationComment, OutcomeSkipped, "comment has no list", nil)
		return candidate{}, false
	}
	listDoc, ok, err := e.store.Get(ctx, e.settings.Lists, comment.ListID)
	if err != nil {
		e.record(ctx, report, domain.NotificationComment, OutcomeFailed, "list lookup failed", err)
		return candidate{}, false
	}
	if !ok {
		e.record(ctx, report, domain.NotificationComment, OutcomeSkipped, "list not found", nil)
		return candidate{}, false
	}
	list, err := domain.DecodeUserList(listDoc)
	if err != nil {
		e.record(ctx, report, domain.NotificationComment, OutcomeFailed, "list malformed", err)
		return candidate{}, false
	}
	return candidate{
		recipient: list.OwnerID,
		actor:     comment.AuthorID,
		kind:      domain.NotificationComment,
		listID:    list.ID,
		commentID: comment.ID,
	}, true
}

// emitAll writes every candidate concurrently and tallies the outcomes.
func (e *NotificationEvaluator) emitAll(ctx context.Context, cands []candidate) Report {
	var (
		mu     sync.Mutex
		report Report
	)
	var g errgroup.Group
	g.SetLimit(DefaultFanOutConcurrency)
	for _, c := range cands {
		g.Go(func() error {
			outcome, err := e.emit(ctx, c)
			mu.Lock()
			e.record(ctx, &report, c.kind, outcome, "notification not written", err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// emit applies the recipient and self-action rules to one candidate and
// writes the resulting notification.
func (e *NotificationEvaluator) emit(ctx context.Context, c candidate) (string, error) {
	if c.recipient == "" {
		return OutcomeSkipped, nil
	}
	if c.recipient == c.actor {
		return OutcomeSuppressed, nil
	}

	id := e.notificationID(c)
	if e.settings.Deduplicate {
		// Notifications are never rewritten once created, so a redelivery
		// must not reset a notification the recipient already read.
		_, exists, err := e.store.Get(ctx, e.settings.Notifications, id)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("checking notification %s: %w", id, err)
		}
		if exists {
			return OutcomeDuplicate, nil
		}
	}

	n := domain.Notification{
		ID:               id,
		RecipientUserID:  c.recipient,
		Type:             c.kind,
		ActorID:          c.actor,
		ActorDisplayName: e.profiles.DisplayName(ctx, c.actor),
		IsNew:            true,
		CreatedAt:        e.clock.Now(),
		ListID:           c.listID,
		CommentID:        c.commentID,
		ParentCommentID:  c.parentID,
	}
	if err := validateStruct("notification", n); err != nil {
		return OutcomeFailed, err
	}
	if err := e.store.Set(ctx, e.settings.Notifications, n.Document()); err != nil {
		return OutcomeFailed, fmt.Errorf("writing notification %s: %w", n.ID, err)
	}
	return OutcomeEmitted, nil
}

func (e *NotificationEvaluator) notificationID(c candidate) string {
	if e.settings.Deduplicate {
		return uuid.NewSHA1(notificationNamespace, []byte(c.dedupKey())).String()
	}
	return e.ids.NewID()
}

// record tallies an outcome, emits its metric and logs failures. Callers
// serialize access to report.
func (e *NotificationEvaluator) record(
	ctx context.Context,
	report *Report,
	kind domain.NotificationType,
	outcome string,
	msg string,
	err error,
) {
	report.add(outcome)
	e.metrics.RecordCounter(ports.MetricNotifications, 1, map[string]string{
		ports.LabelComponent: "notifications",
		ports.LabelType:      kind.String(),
		ports.LabelOutcome:   outcome,
	})
	if outcome != OutcomeFailed {
		return
	}
	attrs := []any{
		"event", "notification_failed",
		"module", logModule,
		"layer", layerApplication,
		"notification_type", kind.String(),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	e.logger.ErrorContext(ctx, msg, attrs...)
}

// Verify interface compliance at compile time.
var (
	_ ports.TriggerHandler = (*ListLikeTrigger)(nil)
	_ ports.TriggerHandler = (*CommentTrigger)(nil)
)

// ListLikeTrigger runs list-like fan-out for writes to the list collection.
type ListLikeTrigger struct{ evaluator *NotificationEvaluator }

// NewListLikeTrigger creates the list trigger.
func NewListLikeTrigger(e *NotificationEvaluator) *ListLikeTrigger { return &ListLikeTrigger{evaluator: e} }

// Name implements ports.TriggerHandler.
func (t *ListLikeTrigger) Name() string { return "list-like-notifications" }

// Collection implements ports.TriggerHandler.
func (t *ListLikeTrigger) Collection() string { return t.evaluator.settings.Lists }

// Validate implements ports.TriggerHandler.
func (t *ListLikeTrigger) Validate() error { return t.evaluator.validate() }

// Handle implements ports.TriggerHandler.
func (t *ListLikeTrigger) Handle(ctx context.Context, event ports.ChangeEvent) error {
	report, err := t.evaluator.OnListWrite(ctx, event)
	t.evaluator.logReport(ctx, t.Name(), event, report)
	return err
}

// CommentTrigger runs comment and reply fan-out for writes to the comment
// collection.
type CommentTrigger struct{ evaluator *NotificationEvaluator }

// NewCommentTrigger creates the comment trigger.
func NewCommentTrigger(e *NotificationEvaluator) *CommentTrigger { return &CommentTrigger{evaluator: e} }

// Name implements ports.TriggerHandler.
func (t *CommentTrigger) Name() string { return "comment-notifications" }

// Collection implements ports.TriggerHandler.
func (t *CommentTrigger) Collection() string { return t.evaluator.settings.Comments }

// Validate implements ports.TriggerHandler.
func (t *CommentTrigger) Validate() error { return t.evaluator.validate() }

// Handle implements ports.TriggerHandler.
func (t *CommentTrigger) Handle(ctx context.Context, event ports.ChangeEvent) error {
	report, err := t.evaluator.OnCommentWrite(ctx, event)
	t.evaluator.logReport(ctx, t.Name(), event, report)
	return err
}

func (e *NotificationEvaluator) validate() error {
	switch {
	case e.store == nil:
		return fmt.Errorf("notification evaluator: store is required")
	case e.profiles == nil:
		return fmt.Errorf("notification evaluator: profile resolver is required")
	case e.settings.Lists == "" || e.settings.Comments == "" || e.settings.Notifications == "":
		return fmt.Errorf("notification evaluator: collections must be named")
	}
	return nil
}

func (e *NotificationEvaluator) logReport(ctx context.Context, handler string, event ports.ChangeEvent, r Report) {
	if r == (Report{}) {
		return
	}
	e.logger.InfoContext(ctx, "notifications evaluated",
		"event", "notifications_evaluated",
		"module", logModule,
		"layer", layerWorker,
		"handler", handler,
		"doc_id", event.DocumentID,
		"emitted", r.Emitted,
		"suppressed", r.Suppressed,
		"skipped", r.Skipped,
		"duplicate", r.Duplicate,
		"failed", r.Failed,
	)
}
