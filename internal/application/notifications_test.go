package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/castrank/infrastructure/store/memory"
	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
	"github.com/ahrav/castrank/internal/testutils"
)

const (
	listsCollection         = "userLists"
	commentsCollection      = "comments"
	notificationsCollection = "notifications"
	profilesCollection      = "users"
	fallbackName            = "Someone"
)

type notificationFixture struct {
	store     *testutils.FaultyStore
	metrics   *testutils.RecordingMetrics
	evaluator *NotificationEvaluator
}

func newNotificationFixture(t *testing.T, dedup bool) *notificationFixture {
	t.Helper()
	store := testutils.NewFaultyStore(memory.NewStore())
	for _, p := range []domain.Document{
		testutils.Profile("owner", "Sandra"),
		testutils.Profile("fan-1", "Parvati"),
		testutils.Profile("fan-2", "Boston Rob"),
	} {
		require.NoError(t, store.Set(context.Background(), profilesCollection, p))
	}
	metrics := testutils.NewRecordingMetrics()
	evaluator := NewNotificationEvaluator(
		store,
		NotificationSettings{
			Lists:         listsCollection,
			Comments:      commentsCollection,
			Notifications: notificationsCollection,
			Deduplicate:   dedup,
		},
		NewProfileResolver(store, profilesCollection, fallbackName, nil),
		testutils.SequentialIDs("n"),
		testutils.FixedClock(testNow),
		metrics,
		nil,
	)
	return &notificationFixture{store: store, metrics: metrics, evaluator: evaluator}
}

// notifications returns every stored notification keyed by actor.
func (f *notificationFixture) notifications(t *testing.T) map[string]domain.Notification {
	t.Helper()
	docs, err := f.store.List(context.Background(), notificationsCollection)
	require.NoError(t, err)
	out := make(map[string]domain.Notification, len(docs))
	for _, doc := range docs {
		n, err := domain.DecodeNotification(doc)
		require.NoError(t, err)
		out[n.ActorID] = n
	}
	return out
}

// byRecipient returns every stored notification keyed by recipient.
func (f *notificationFixture) byRecipient(t *testing.T) map[string]domain.Notification {
	t.Helper()
	docs, err := f.store.List(context.Background(), notificationsCollection)
	require.NoError(t, err)
	out := make(map[string]domain.Notification, len(docs))
	for _, doc := range docs {
		n, err := domain.DecodeNotification(doc)
		require.NoError(t, err)
		out[n.RecipientUserID] = n
	}
	return out
}

func updated(before, after domain.Document) ports.ChangeEvent {
	return ports.ChangeEvent{DocumentID: after.ID(), Before: &before, After: &after}
}

func created(after domain.Document) ports.ChangeEvent {
	return ports.ChangeEvent{DocumentID: after.ID(), After: &after}
}

func TestNotificationEvaluator_OnListWrite(t *testing.T) {
	tests := []struct {
		name      string
		before    domain.Document
		after     domain.Document
		want      Report
		wantActor []string
	}{
		{
			name:      "new upvoters notify the owner",
			before:    testutils.List("list-1", "owner"),
			after:     testutils.List("list-1", "owner", "fan-1", "fan-2"),
			want:      Report{Emitted: 2},
			wantActor: []string{"fan-1", "fan-2"},
		},
		{
			name:      "only the added upvoter is new",
			before:    testutils.List("list-1", "owner", "fan-1"),
			after:     testutils.List("list-1", "owner", "fan-1", "fan-2"),
			want:      Report{Emitted: 1},
			wantActor: []string{"fan-2"},
		},
		{
			name:   "removing an upvote emits nothing",
			before: testutils.List("list-1", "owner", "fan-1", "fan-2"),
			after:  testutils.List("list-1", "owner", "fan-1"),
			want:   Report{},
		},
		{
			name:      "owner liking their own list is suppressed",
			before:    testutils.List("list-1", "owner"),
			after:     testutils.List("list-1", "owner", "owner", "fan-1"),
			want:      Report{Emitted: 1, Suppressed: 1},
			wantActor: []string{"fan-1"},
		},
		{
			name:   "list without an owner is skipped",
			before: testutils.List("global-goat-strategy", ""),
			after:  testutils.List("global-goat-strategy", "", "fan-1"),
			want:   Report{Skipped: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNotificationFixture(t, false)

			report, err := f.evaluator.OnListWrite(context.Background(), updated(tt.before, tt.after))
			require.NoError(t, err)
			assert.Equal(t, tt.want, report)

			got := f.notifications(t)
			assert.Len(t, got, len(tt.wantActor))
			for _, actor := range tt.wantActor {
				n, ok := got[actor]
				require.True(t, ok, "missing notification from %s", actor)
				assert.Equal(t, "owner", n.RecipientUserID)
				assert.Equal(t, domain.NotificationListLike, n.Type)
				assert.Equal(t, "list-1", n.ListID)
				assert.True(t, n.IsNew)
				assert.True(t, testNow.Equal(n.CreatedAt))
			}
		})
	}
}

func TestNotificationEvaluator_ListCreationIgnored(t *testing.T) {
	f := newNotificationFixture(t, false)

	report, err := f.evaluator.OnListWrite(context.Background(), created(testutils.List("list-1", "owner", "fan-1")))
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.Empty(t, f.notifications(t))
}

func TestNotificationEvaluator_DisplayNames(t *testing.T) {
	f := newNotificationFixture(t, false)
	before := testutils.List("list-1", "owner")
	after := testutils.List("list-1", "owner", "fan-1", "stranger")

	_, err := f.evaluator.OnListWrite(context.Background(), updated(before, after))
	require.NoError(t, err)

	got := f.notifications(t)
	assert.Equal(t, "Parvati", got["fan-1"].ActorDisplayName)
	assert.Equal(t, fallbackName, got["stranger"].ActorDisplayName, "Users without a profile get the fallback name.")
}

func TestNotificationEvaluator_ProfileFailureUsesFallback(t *testing.T) {
	f := newNotificationFixture(t, false)
	f.store.FailAlways("get", profilesCollection, ports.ErrServiceUnavailable)

	report, err := f.evaluator.OnListWrite(context.Background(),
		updated(testutils.List("list-1", "owner"), testutils.List("list-1", "owner", "fan-1")))
	require.NoError(t, err)
	assert.Equal(t, Report{Emitted: 1}, report, "A failed profile lookup must not block the notification.")
	assert.Equal(t, fallbackName, f.notifications(t)["fan-1"].ActorDisplayName)
}

func TestNotificationEvaluator_WriteFailureIsIsolated(t *testing.T) {
	f := newNotificationFixture(t, false)
	f.store.FailTimes("set", notificationsCollection, errors.New("quota exceeded"), 1)

	report, err := f.evaluator.OnListWrite(context.Background(),
		updated(testutils.List("list-1", "owner"), testutils.List("list-1", "owner", "fan-1", "fan-2")))
	require.NoError(t, err)
	assert.Equal(t, Report{Emitted: 1, Failed: 1}, report)
	assert.Len(t, f.notifications(t), 1)
	assert.Equal(t, 1.0, f.metrics.Counter(testutils.MetricKey(ports.MetricNotifications, ports.LabelOutcome, OutcomeFailed)))
	assert.Equal(t, 1.0, f.metrics.Counter(testutils.MetricKey(ports.MetricNotifications, ports.LabelOutcome, OutcomeEmitted)))
}

func TestNotificationEvaluator_Deduplicate(t *testing.T) {
	f := newNotificationFixture(t, true)
	event := updated(testutils.List("list-1", "owner"), testutils.List("list-1", "owner", "fan-1"))

	report, err := f.evaluator.OnListWrite(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, Report{Emitted: 1}, report)

	// A redelivered change event must land on the same notification.
	for range 2 {
		report, err := f.evaluator.OnListWrite(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, Report{Duplicate: 1}, report)
	}
	docs, err := f.store.List(context.Background(), notificationsCollection)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.NotEqual(t, "n-1", docs[0].ID(), "Deduplicated IDs are derived, not generated.")
	assert.Equal(t, 1, f.store.Calls("set", notificationsCollection), "Redeliveries must not rewrite the notification.")

	// A different actor gets a different notification.
	_, err = f.evaluator.OnListWrite(context.Background(),
		updated(testutils.List("list-1", "owner", "fan-1"), testutils.List("list-1", "owner", "fan-1", "fan-2")))
	require.NoError(t, err)
	assert.Len(t, f.notifications(t), 2)
}

func TestNotificationEvaluator_RedeliveryKeepsReadState(t *testing.T) {
	ctx := context.Background()
	f := newNotificationFixture(t, true)
	event := updated(testutils.List("list-1", "owner"), testutils.List("list-1", "owner", "fan-1"))

	_, err := f.evaluator.OnListWrite(ctx, event)
	require.NoError(t, err)
	n := f.notifications(t)["fan-1"]
	require.True(t, n.IsNew)
	require.NoError(t, MarkNotificationRead(ctx, f.store, notificationsCollection, n.ID))

	report, err := f.evaluator.OnListWrite(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, Report{Duplicate: 1}, report)

	got := f.notifications(t)["fan-1"]
	assert.Equal(t, n.ID, got.ID)
	assert.False(t, got.IsNew, "A read notification must never become new again.")
	assert.Equal(t, n.CreatedAt, got.CreatedAt)
}

func TestNotificationEvaluator_DeduplicateLookupFailure(t *testing.T) {
	f := newNotificationFixture(t, true)
	f.store.FailAlways("get", notificationsCollection, ports.ErrTimeout)

	report, err := f.evaluator.OnListWrite(context.Background(),
		updated(testutils.List("list-1", "owner"), testutils.List("list-1", "owner", "fan-1")))
	require.NoError(t, err)
	assert.Equal(t, Report{Failed: 1}, report)
	assert.Zero(t, f.store.Calls("set", notificationsCollection), "Nothing is written when existence is unknown.")
}

func TestNotificationEvaluator_WithoutDeduplicate(t *testing.T) {
	f := newNotificationFixture(t, false)
	event := updated(testutils.List("list-1", "owner"), testutils.List("list-1", "owner", "fan-1"))

	for range 2 {
		_, err := f.evaluator.OnListWrite(context.Background(), event)
		require.NoError(t, err)
	}
	docs, err := f.store.List(context.Background(), notificationsCollection)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "n-1", docs[0].ID())
	assert.Equal(t, "n-2", docs[1].ID())
}

func TestNotificationEvaluator_OnCommentCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("top-level comment notifies the list owner", func(t *testing.T) {
		f := newNotificationFixture(t, false)
		require.NoError(t, f.store.Set(ctx, listsCollection, testutils.List("list-1", "owner")))

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-1", "fan-1", "list-1", "")))
		require.NoError(t, err)
		assert.Equal(t, Report{Emitted: 1}, report)

		n := f.notifications(t)["fan-1"]
		assert.Equal(t, "owner", n.RecipientUserID)
		assert.Equal(t, domain.NotificationComment, n.Type)
		assert.Equal(t, "c-1", n.CommentID)
		assert.Empty(t, n.ParentCommentID)
	})

	t.Run("owner commenting on their own list is suppressed", func(t *testing.T) {
		f := newNotificationFixture(t, false)
		require.NoError(t, f.store.Set(ctx, listsCollection, testutils.List("list-1", "owner")))

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-1", "owner", "list-1", "")))
		require.NoError(t, err)
		assert.Equal(t, Report{Suppressed: 1}, report)
		assert.Empty(t, f.notifications(t))
	})

	t.Run("reply notifies the parent author and the list owner", func(t *testing.T) {
		f := newNotificationFixture(t, false)
		require.NoError(t, f.store.Set(ctx, listsCollection, testutils.List("list-1", "owner")))
		require.NoError(t, f.store.Set(ctx, commentsCollection, testutils.Comment("c-1", "fan-1", "list-1", "")))

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-2", "fan-2", "list-1", "c-1")))
		require.NoError(t, err)
		assert.Equal(t, Report{Emitted: 2}, report)

		got := f.byRecipient(t)
		require.Len(t, got, 2)
		reply := got["fan-1"]
		assert.Equal(t, domain.NotificationCommentReply, reply.Type)
		assert.Equal(t, "fan-2", reply.ActorID)
		assert.Equal(t, "c-2", reply.CommentID)
		assert.Equal(t, "c-1", reply.ParentCommentID)

		owner := got["owner"]
		assert.Equal(t, domain.NotificationComment, owner.Type)
		assert.Equal(t, "fan-2", owner.ActorID)
		assert.Equal(t, "c-2", owner.CommentID)
		assert.Empty(t, owner.ParentCommentID)
	})

	t.Run("parent author who owns the list is notified once", func(t *testing.T) {
		f := newNotificationFixture(t, false)
		require.NoError(t, f.store.Set(ctx, listsCollection, testutils.List("list-1", "owner")))
		require.NoError(t, f.store.Set(ctx, commentsCollection, testutils.Comment("c-1", "owner", "list-1", "")))

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-2", "fan-2", "list-1", "c-1")))
		require.NoError(t, err)
		assert.Equal(t, Report{Emitted: 1}, report)

		n := f.byRecipient(t)["owner"]
		assert.Equal(t, domain.NotificationCommentReply, n.Type)
	})

	t.Run("replying to yourself still notifies the list owner", func(t *testing.T) {
		f := newNotificationFixture(t, false)
		require.NoError(t, f.store.Set(ctx, listsCollection, testutils.List("list-1", "owner")))
		require.NoError(t, f.store.Set(ctx, commentsCollection, testutils.Comment("c-1", "fan-1", "list-1", "")))

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-2", "fan-1", "list-1", "c-1")))
		require.NoError(t, err)
		assert.Equal(t, Report{Emitted: 1, Suppressed: 1}, report)

		got := f.byRecipient(t)
		require.Len(t, got, 1)
		assert.Equal(t, domain.NotificationComment, got["owner"].Type)
	})

	t.Run("missing parent is skipped", func(t *testing.T) {
		f := newNotificationFixture(t, false)
		require.NoError(t, f.store.Set(ctx, listsCollection, testutils.List("list-1", "owner")))

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-2", "fan-2", "list-1", "gone")))
		require.NoError(t, err)
		assert.Equal(t, Report{Emitted: 1, Skipped: 1}, report)
	})

	t.Run("parent lookup failure is counted", func(t *testing.T) {
		f := newNotificationFixture(t, false)
		require.NoError(t, f.store.Set(ctx, listsCollection, testutils.List("list-1", "owner")))
		f.store.FailAlways("get", commentsCollection, ports.ErrTimeout)

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-2", "fan-2", "list-1", "c-1")))
		require.NoError(t, err)
		assert.Equal(t, Report{Emitted: 1, Failed: 1}, report, "The owner is notified even when the parent cannot be read.")
		assert.Equal(t, 1.0, f.metrics.Counter(testutils.MetricKey(ports.MetricNotifications, ports.LabelType, "comment_reply")))
	})

	t.Run("reply on a missing list still notifies the parent author", func(t *testing.T) {
		f := newNotificationFixture(t, false)
		require.NoError(t, f.store.Set(ctx, commentsCollection, testutils.Comment("c-1", "fan-1", "list-9", "")))

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-2", "fan-2", "list-9", "c-1")))
		require.NoError(t, err)
		assert.Equal(t, Report{Emitted: 1, Skipped: 1}, report)
		assert.Equal(t, domain.NotificationCommentReply, f.byRecipient(t)["fan-1"].Type)
	})

	t.Run("comment without a list is skipped", func(t *testing.T) {
		f := newNotificationFixture(t, false)

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-1", "fan-1", "", "")))
		require.NoError(t, err)
		assert.Equal(t, Report{Skipped: 1}, report)
	})

	t.Run("missing list is skipped", func(t *testing.T) {
		f := newNotificationFixture(t, false)

		report, err := f.evaluator.OnCommentWrite(ctx, created(testutils.Comment("c-1", "fan-1", "list-9", "")))
		require.NoError(t, err)
		assert.Equal(t, Report{Skipped: 1}, report)
	})

	t.Run("malformed comment is an error", func(t *testing.T) {
		f := newNotificationFixture(t, false)

		_, err := f.evaluator.OnCommentWrite(ctx, created(domain.NewDocument("c-1", map[string]any{domain.FieldText: "anon"})))
		assert.ErrorIs(t, err, domain.ErrEmptyValue)
	})
}

func TestNotificationEvaluator_OnCommentUpvoted(t *testing.T) {
	f := newNotificationFixture(t, false)
	before := testutils.Comment("c-1", "owner", "list-1", "", "fan-1")
	after := testutils.Comment("c-1", "owner", "list-1", "", "fan-1", "fan-2", "owner")

	report, err := f.evaluator.OnCommentWrite(context.Background(), updated(before, after))
	require.NoError(t, err)
	assert.Equal(t, Report{Emitted: 1, Suppressed: 1}, report)

	n := f.notifications(t)["fan-2"]
	assert.Equal(t, "owner", n.RecipientUserID)
	assert.Equal(t, domain.NotificationCommentLike, n.Type)
	assert.Equal(t, "c-1", n.CommentID)
	assert.Equal(t, "list-1", n.ListID)
	assert.Equal(t, "Boston Rob", n.ActorDisplayName)
}

func TestNotificationEvaluator_CommentDeletionIgnored(t *testing.T) {
	f := newNotificationFixture(t, false)
	doc := testutils.Comment("c-1", "fan-1", "list-1", "")

	report, err := f.evaluator.OnCommentWrite(context.Background(), ports.ChangeEvent{DocumentID: "c-1", Before: &doc})
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestNotificationTriggers(t *testing.T) {
	f := newNotificationFixture(t, false)

	lists := NewListLikeTrigger(f.evaluator)
	comments := NewCommentTrigger(f.evaluator)
	require.NoError(t, lists.Validate())
	require.NoError(t, comments.Validate())
	assert.Equal(t, listsCollection, lists.Collection())
	assert.Equal(t, commentsCollection, comments.Collection())
	assert.NotEqual(t, lists.Name(), comments.Name())

	require.NoError(t, lists.Handle(context.Background(),
		updated(testutils.List("list-1", "owner"), testutils.List("list-1", "owner", "fan-1"))))
	assert.Len(t, f.notifications(t), 1)

	broken := NewListLikeTrigger(NewNotificationEvaluator(nil, NotificationSettings{}, nil, nil, nil, nil, nil))
	assert.Error(t, broken.Validate())
}
