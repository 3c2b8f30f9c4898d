package ports

// Metric names recorded through MetricsCollector. Collectors map them onto
// concrete instruments; unknown names fall back to generic instruments.
const (
	// MetricAggregationRuns counts leaderboard recomputations.
	// Labels: event, status (success|scan_failed|publish_failed).
	MetricAggregationRuns = "aggregation_runs_total"

	// MetricProcessingErrors counts malformed submissions skipped by a run.
	// Labels: event.
	MetricProcessingErrors = "processing_errors_total"

	// MetricLeaderboardVotes is the totalVotes of the last published result.
	// Labels: event.
	MetricLeaderboardVotes = "leaderboard_total_votes"

	// MetricCorpusSize observes how many submissions one run scanned.
	MetricCorpusSize = "corpus_size"

	// MetricNotifications counts notification outcomes.
	// Labels: type, outcome (emitted|suppressed|skipped|failed).
	MetricNotifications = "notifications_total"

	// MetricDispatchFailures counts handler invocations that returned an
	// error or panicked. Labels: handler.
	MetricDispatchFailures = "dispatch_failures_total"

	// Latency operations.
	OpAggregate = "aggregate"
	OpDispatch  = "dispatch"
	OpStore     = "store"
)

// Label keys shared by producers and collectors.
const (
	LabelComponent = "component"
	LabelEvent     = "event"
	LabelStatus    = "status"
	LabelType      = "type"
	LabelOutcome   = "outcome"
	LabelHandler   = "handler"
	LabelOperation = "operation"
	LabelBackend   = "backend"
)
