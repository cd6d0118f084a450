package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// FetchKey identifies one directory fetch counter series.
type FetchKey struct {
	Scope      string
	Generation string
	Status     string
}

// Snapshot captures current in-memory counters.
type Snapshot struct {
	SyncRunsSuccess          uint64
	SyncRunsValidationError  uint64
	SyncRunsPersistenceError uint64
	SyncDurationCount        uint64
	SyncDurationTotalNs      int64
	RecordsAdded             uint64
	RecordsUpdated           uint64
	RecordsSkipped           uint64
	RecordsFailed            uint64
	DirectoryFetches         map[FetchKey]uint64
	OwnershipTransfers       uint64
	BogusDeleted             uint64
	StatusCacheHits          uint64
	StatusCacheMisses        uint64
	RunEventsPublished       uint64
	RunEventsDropped         uint64
	RunEventsProcessed       uint64
	RunEventsFailed          uint64
	RunEventsDeadLettered    uint64
	RunQueueDepth            int64
}

// SortedFetchKeys returns the fetch series in a stable order.
func (s Snapshot) SortedFetchKeys() []FetchKey {
	keys := make([]FetchKey, 0, len(s.DirectoryFetches))
	for k := range s.DirectoryFetches {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.Generation != b.Generation {
			return a.Generation < b.Generation
		}
		return a.Status < b.Status
	})
	return keys
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	syncRunsSuccess          uint64
	syncRunsValidationError  uint64
	syncRunsPersistenceError uint64
	syncDurationCount        uint64
	syncDurationTotalNs      int64
	recordsAdded             uint64
	recordsUpdated           uint64
	recordsSkipped           uint64
	recordsFailed            uint64
	ownershipTransfers       uint64
	bogusDeleted             uint64
	statusCacheHits          uint64
	statusCacheMisses        uint64
	runEventsPublished       uint64
	runEventsDropped         uint64
	runEventsProcessed       uint64
	runEventsFailed          uint64
	runEventsDeadLettered    uint64
	runQueueDepth            int64

	mu      sync.Mutex
	fetches map[FetchKey]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{fetches: make(map[FetchKey]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	fetches := make(map[FetchKey]uint64, len(m.fetches))
	for k, v := range m.fetches {
		fetches[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		SyncRunsSuccess:          atomic.LoadUint64(&m.syncRunsSuccess),
		SyncRunsValidationError:  atomic.LoadUint64(&m.syncRunsValidationError),
		SyncRunsPersistenceError: atomic.LoadUint64(&m.syncRunsPersistenceError),
		SyncDurationCount:        atomic.LoadUint64(&m.syncDurationCount),
		SyncDurationTotalNs:      atomic.LoadInt64(&m.syncDurationTotalNs),
		RecordsAdded:             atomic.LoadUint64(&m.recordsAdded),
		RecordsUpdated:           atomic.LoadUint64(&m.recordsUpdated),
		RecordsSkipped:           atomic.LoadUint64(&m.recordsSkipped),
		RecordsFailed:            atomic.LoadUint64(&m.recordsFailed),
		DirectoryFetches:         fetches,
		OwnershipTransfers:       atomic.LoadUint64(&m.ownershipTransfers),
		BogusDeleted:             atomic.LoadUint64(&m.bogusDeleted),
		StatusCacheHits:          atomic.LoadUint64(&m.statusCacheHits),
		StatusCacheMisses:        atomic.LoadUint64(&m.statusCacheMisses),
		RunEventsPublished:       atomic.LoadUint64(&m.runEventsPublished),
		RunEventsDropped:         atomic.LoadUint64(&m.runEventsDropped),
		RunEventsProcessed:       atomic.LoadUint64(&m.runEventsProcessed),
		RunEventsFailed:          atomic.LoadUint64(&m.runEventsFailed),
		RunEventsDeadLettered:    atomic.LoadUint64(&m.runEventsDeadLettered),
		RunQueueDepth:            atomic.LoadInt64(&m.runQueueDepth),
	}
}

// IncSyncRun increments the run counter for outcome.
func (m *InMemoryRecorder) IncSyncRun(outcome string) {
	switch outcome {
	case OutcomeSuccess:
		atomic.AddUint64(&m.syncRunsSuccess, 1)
	case OutcomeValidationError:
		atomic.AddUint64(&m.syncRunsValidationError, 1)
	case OutcomePersistenceError:
		atomic.AddUint64(&m.syncRunsPersistenceError, 1)
	}
}

// ObserveSyncDuration records run duration.
func (m *InMemoryRecorder) ObserveSyncDuration(duration time.Duration) {
	atomic.AddUint64(&m.syncDurationCount, 1)
	atomic.AddInt64(&m.syncDurationTotalNs, duration.Nanoseconds())
}

// AddSyncRecords adds per-record outcomes from one run.
func (m *InMemoryRecorder) AddSyncRecords(added, updated, skipped, failed int) {
	atomic.AddUint64(&m.recordsAdded, uint64(added))
	atomic.AddUint64(&m.recordsUpdated, uint64(updated))
	atomic.AddUint64(&m.recordsSkipped, uint64(skipped))
	atomic.AddUint64(&m.recordsFailed, uint64(failed))
}

// IncDirectoryFetch increments the fetch counter for one series.
func (m *InMemoryRecorder) IncDirectoryFetch(scope, generation, status string) {
	m.mu.Lock()
	m.fetches[FetchKey{Scope: scope, Generation: generation, Status: status}]++
	m.mu.Unlock()
}

// IncOwnershipTransfer increments the transfer counter.
func (m *InMemoryRecorder) IncOwnershipTransfer() {
	atomic.AddUint64(&m.ownershipTransfers, 1)
}

// AddBogusDeleted adds n cleaned-up identities.
func (m *InMemoryRecorder) AddBogusDeleted(n int) {
	atomic.AddUint64(&m.bogusDeleted, uint64(n))
}

// IncStatusCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncStatusCacheHit() {
	atomic.AddUint64(&m.statusCacheHits, 1)
}

// IncStatusCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncStatusCacheMiss() {
	atomic.AddUint64(&m.statusCacheMisses, 1)
}

// IncRunEventPublished counts run history publishes by status.
func (m *InMemoryRecorder) IncRunEventPublished(status string) {
	switch status {
	case EventSuccess:
		atomic.AddUint64(&m.runEventsPublished, 1)
	case EventDropped:
		atomic.AddUint64(&m.runEventsDropped, 1)
	}
}

// IncRunEventProcessed counts run history writes by status.
func (m *InMemoryRecorder) IncRunEventProcessed(status string) {
	switch status {
	case EventSuccess:
		atomic.AddUint64(&m.runEventsProcessed, 1)
	case EventFailed:
		atomic.AddUint64(&m.runEventsFailed, 1)
	case EventDeadLettered:
		atomic.AddUint64(&m.runEventsDeadLettered, 1)
	}
}

// SetRunQueueDepth records pending plus unread run history events.
func (m *InMemoryRecorder) SetRunQueueDepth(depth int64) {
	atomic.StoreInt64(&m.runQueueDepth, depth)
}
