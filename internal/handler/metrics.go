package handler

import (
	"bufio"
	"fmt"
	"net/http"
	"strconv"

	"github.com/clockdesk/clockdesk/internal/metrics"
)

// MetricsHandler renders the in-memory counters in the Prometheus text
// format.
type MetricsHandler struct {
	src metrics.Snapshotter
}

func NewMetricsHandler(src metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{src: src}
}

// sample is one series line. tail follows the family name: a label set
// or, for summaries, a suffix such as "_sum".
type sample struct {
	tail  string
	value string
}

type family struct {
	name, kind, help string
	samples          []sample
}

func count[T ~uint64 | ~int64 | ~int](v T) string { return strconv.FormatInt(int64(v), 10) }

func seconds(ns int64) string { return strconv.FormatFloat(float64(ns)/1e9, 'f', -1, 64) }

func label(k, v string) string { return fmt.Sprintf("{%s=%q}", k, v) }

func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.src == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	s := h.src.Snapshot()

	fetches := make([]sample, 0, len(s.DirectoryFetches))
	for _, k := range s.SortedFetchKeys() {
		fetches = append(fetches, sample{
			tail:  fmt.Sprintf("{scope=%q,generation=%q,status=%q}", k.Scope, k.Generation, k.Status),
			value: count(s.DirectoryFetches[k]),
		})
	}

	families := []family{
		{"clockdesk_sync_runs_total", "counter", "Sync runs by outcome.", []sample{
			{label("outcome", metrics.OutcomeSuccess), count(s.SyncRunsSuccess)},
			{label("outcome", metrics.OutcomeValidationError), count(s.SyncRunsValidationError)},
			{label("outcome", metrics.OutcomePersistenceError), count(s.SyncRunsPersistenceError)},
		}},
		{"clockdesk_sync_duration_seconds", "summary", "Sync run wall time.", []sample{
			{"_count", count(s.SyncDurationCount)},
			{"_sum", seconds(s.SyncDurationTotalNs)},
		}},
		{"clockdesk_sync_records_total", "counter", "Directory records handled by sync runs.", []sample{
			{label("result", "added"), count(s.RecordsAdded)},
			{label("result", "updated"), count(s.RecordsUpdated)},
			{label("result", "skipped"), count(s.RecordsSkipped)},
			{label("result", "failed"), count(s.RecordsFailed)},
		}},
		{"clockdesk_directory_fetches_total", "counter", "CRM directory requests.", fetches},
		{"clockdesk_ownership_transfers_total", "counter", "Owner role transfers.", []sample{{"", count(s.OwnershipTransfers)}}},
		{"clockdesk_bogus_identities_deleted_total", "counter", "Placeholder identities removed.", []sample{{"", count(s.BogusDeleted)}}},
		{"clockdesk_credential_status_cache_hits_total", "counter", "Credential status cache hits.", []sample{{"", count(s.StatusCacheHits)}}},
		{"clockdesk_credential_status_cache_misses_total", "counter", "Credential status cache misses.", []sample{{"", count(s.StatusCacheMisses)}}},
		{"clockdesk_run_events_published_total", "counter", "Run summaries offered to the stream.", []sample{
			{label("status", metrics.EventSuccess), count(s.RunEventsPublished)},
			{label("status", metrics.EventDropped), count(s.RunEventsDropped)},
		}},
		{"clockdesk_run_events_processed_total", "counter", "Run summaries taken off the stream.", []sample{
			{label("status", metrics.EventSuccess), count(s.RunEventsProcessed)},
			{label("status", metrics.EventFailed), count(s.RunEventsFailed)},
			{label("status", metrics.EventDeadLettered), count(s.RunEventsDeadLettered)},
		}},
		{"clockdesk_run_events_queue_depth", "gauge", "Unprocessed run summaries.", []sample{{"", count(s.RunQueueDepth)}}},
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	bw := bufio.NewWriter(w)
	for _, f := range families {
		fmt.Fprintf(bw, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		for _, smp := range f.samples {
			fmt.Fprintf(bw, "%s%s %s\n", f.name, smp.tail, smp.value)
		}
	}
	_ = bw.Flush()
}
