// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Sync run outcomes.
const (
	OutcomeSuccess          = "success"
	OutcomeValidationError  = "validation_error"
	OutcomePersistenceError = "persistence_error"
)

// Run history event statuses.
const (
	EventSuccess      = "success"
	EventDropped      = "dropped"
	EventFailed       = "failed"
	EventDeadLettered = "dead_lettered"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Synchronization run metrics
	IncSyncRun(outcome string)
	ObserveSyncDuration(duration time.Duration)
	AddSyncRecords(added, updated, skipped, failed int)

	// Directory client metrics; status is "success" or "failure"
	IncDirectoryFetch(scope, generation, status string)

	// Identity operation metrics
	IncOwnershipTransfer()
	AddBogusDeleted(n int)

	// Credential status cache
	IncStatusCacheHit()
	IncStatusCacheMiss()

	// Run history stream
	IncRunEventPublished(status string)
	IncRunEventProcessed(status string)
	SetRunQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
