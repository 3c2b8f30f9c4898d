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
	subsCollection = "userGlobalRankings"
	aggsCollection = "globalRankingsAggregated"
)

func newTestLeaderboard(t *testing.T, store ports.DocumentStore, metrics ports.MetricsCollector, events ...string) *LeaderboardService {
	t.Helper()
	return NewLeaderboardService(
		NewChangeDetector(events),
		NewScoreAggregator(store, subsCollection, DefaultBordaAggregator(), testutils.FixedClock(testNow), metrics, nil),
		NewAggregatePublisher(store, aggsCollection),
		2,
		metrics,
		nil,
	)
}

func readAggregate(t *testing.T, store ports.DocumentStore, eventID string) (domain.AggregateResult, bool) {
	t.Helper()
	doc, found, err := store.Get(context.Background(), aggsCollection, eventID)
	require.NoError(t, err)
	if !found {
		return domain.AggregateResult{}, false
	}
	result, err := domain.DecodeAggregateResult(doc)
	require.NoError(t, err)
	return result, true
}

func TestLeaderboardService_Recompute(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for _, doc := range threeBallots() {
		require.NoError(t, store.Set(ctx, subsCollection, doc))
	}
	metrics := testutils.NewRecordingMetrics()
	svc := newTestLeaderboard(t, store, metrics, testEvent, "best-hero")

	require.NoError(t, svc.Recompute(ctx, testEvent, "best-hero"))

	result, found := readAggregate(t, store, testEvent)
	require.True(t, found)
	assert.Equal(t, 3, result.TotalVotes)
	assert.Equal(t, "x", result.Top[0].ID)
	assert.Equal(t, 29, result.Top[0].TotalScore)

	empty, found := readAggregate(t, store, "best-hero")
	require.True(t, found, "Events without ballots still publish an empty leaderboard.")
	assert.Equal(t, 0, empty.TotalVotes)
	assert.Empty(t, empty.Top)

	assert.Equal(t, 2.0, metrics.Counter(testutils.MetricKey(ports.MetricAggregationRuns, ports.LabelStatus, "success")))
	assert.Equal(t, 3.0, metrics.Gauge(testutils.MetricKey(ports.MetricLeaderboardVotes, ports.LabelEvent, testEvent)))
}

func TestLeaderboardService_RecomputeReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestLeaderboard(t, store, nil, testEvent)

	for _, doc := range threeBallots() {
		require.NoError(t, store.Set(ctx, subsCollection, doc))
	}
	require.NoError(t, svc.Recompute(ctx, testEvent))

	// user-c changes their mind; w disappears from every ballot.
	require.NoError(t, store.Set(ctx, subsCollection,
		testutils.Submission("user-c", map[string]any{testEvent: testutils.Ranking("z")})))
	require.NoError(t, svc.Recompute(ctx, testEvent))

	result, _ := readAggregate(t, store, testEvent)
	assert.NotContains(t, scores(result), "w")
	assert.Equal(t, 10+9, scores(result)["x"])
}

func TestLeaderboardService_UnknownEvent(t *testing.T) {
	store := testutils.NewFaultyStore(memory.NewStore())
	svc := newTestLeaderboard(t, store, nil, testEvent)

	err := svc.Recompute(context.Background(), testEvent, "not-configured")
	require.ErrorIs(t, err, ErrUnknownEvent)
	assert.Equal(t, 0, store.Calls("list", subsCollection), "Nothing runs when any event is unknown.")
}

func TestLeaderboardService_FailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	store := testutils.NewFaultyStore(memory.NewStore())
	for _, doc := range threeBallots() {
		require.NoError(t, store.Set(ctx, subsCollection, doc))
	}
	// The first aggregate write fails; the other event must still publish.
	store.FailTimes("set", aggsCollection, boom, 1)

	metrics := testutils.NewRecordingMetrics()
	svc := NewLeaderboardService(
		NewChangeDetector([]string{testEvent, "best-hero"}),
		NewScoreAggregator(store, subsCollection, DefaultBordaAggregator(), testutils.FixedClock(testNow), metrics, nil),
		NewAggregatePublisher(store, aggsCollection),
		1,
		metrics,
		nil,
	)

	err := svc.Recompute(ctx, testEvent, "best-hero")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, StagePublish, aggErr.Stage)

	published := 0
	for _, id := range []string{testEvent, "best-hero"} {
		if _, found := readAggregate(t, store, id); found {
			published++
		}
	}
	assert.Equal(t, 1, published)
	assert.Equal(t, 1.0, metrics.Counter(testutils.MetricKey(ports.MetricAggregationRuns, ports.LabelStatus, "publish_failed")))
	assert.Equal(t, 1.0, metrics.Counter(testutils.MetricKey(ports.MetricAggregationRuns, ports.LabelStatus, "success")))
}

func TestLeaderboardService_ScanFailure(t *testing.T) {
	store := testutils.NewFaultyStore(memory.NewStore())
	store.FailAlways("list", subsCollection, ports.ErrServiceUnavailable)
	svc := newTestLeaderboard(t, store, nil, testEvent)

	err := svc.Recompute(context.Background(), testEvent)
	require.Error(t, err)
	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, StageScan, aggErr.Stage)

	_, found := readAggregate(t, store, testEvent)
	assert.False(t, found, "A failed scan must not publish a partial leaderboard.")
}

func TestSubmissionTrigger_Handle(t *testing.T) {
	ctx := context.Background()
	store := testutils.NewFaultyStore(memory.NewStore())
	svc := newTestLeaderboard(t, store, nil, testEvent, "best-hero")
	trigger := NewSubmissionTrigger(subsCollection, svc, nil)
	require.NoError(t, trigger.Validate())
	assert.Equal(t, subsCollection, trigger.Collection())

	before := testutils.Submission("user-a", map[string]any{
		testEvent:   testutils.Ranking("x"),
		"best-hero": testutils.Ranking("h"),
	})
	after := testutils.Submission("user-a", map[string]any{
		testEvent:   testutils.Ranking("x"),
		"best-hero": testutils.Ranking("k"),
	})
	require.NoError(t, store.Set(ctx, subsCollection, after))

	require.NoError(t, trigger.Handle(ctx, ports.ChangeEvent{
		Collection: subsCollection, DocumentID: "user-a", Before: &before, After: &after,
	}))

	_, found := readAggregate(t, store, "best-hero")
	assert.True(t, found)
	_, found = readAggregate(t, store, testEvent)
	assert.False(t, found, "Unchanged events are not recomputed.")

	listsBefore := store.Calls("list", subsCollection)
	require.NoError(t, trigger.Handle(ctx, ports.ChangeEvent{
		Collection: subsCollection, DocumentID: "user-a", Before: &after,
	}))
	require.NoError(t, trigger.Handle(ctx, ports.ChangeEvent{
		Collection: subsCollection, DocumentID: "user-a", Before: &after, After: &after,
	}))
	assert.Equal(t, listsBefore, store.Calls("list", subsCollection), "Deletes and no-op writes do no work.")
}

func TestSubmissionTrigger_Validate(t *testing.T) {
	assert.Error(t, NewSubmissionTrigger("", nil, nil).Validate())
	assert.Error(t, NewSubmissionTrigger(subsCollection, nil, nil).Validate())
}
