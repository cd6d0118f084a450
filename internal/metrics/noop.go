package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncSyncRun is a no-op.
func (n *NoopRecorder) IncSyncRun(outcome string) {}

// ObserveSyncDuration is a no-op.
func (n *NoopRecorder) ObserveSyncDuration(duration time.Duration) {}

// AddSyncRecords is a no-op.
func (n *NoopRecorder) AddSyncRecords(added, updated, skipped, failed int) {}

// IncDirectoryFetch is a no-op.
func (n *NoopRecorder) IncDirectoryFetch(scope, generation, status string) {}

// IncOwnershipTransfer is a no-op.
func (n *NoopRecorder) IncOwnershipTransfer() {}

// AddBogusDeleted is a no-op.
func (n *NoopRecorder) AddBogusDeleted(count int) {}

// IncStatusCacheHit is a no-op.
func (n *NoopRecorder) IncStatusCacheHit() {}

// IncStatusCacheMiss is a no-op.
func (n *NoopRecorder) IncStatusCacheMiss() {}

// IncRunEventPublished is a no-op.
func (n *NoopRecorder) IncRunEventPublished(status string) {}

// IncRunEventProcessed is a no-op.
func (n *NoopRecorder) IncRunEventProcessed(status string) {}

// SetRunQueueDepth is a no-op.
func (n *NoopRecorder) SetRunQueueDepth(depth int64) {}
