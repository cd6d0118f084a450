// Package runlog records synchronization run summaries through a Redis
// stream and persists them for the run history endpoint.
package runlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/clockdesk/clockdesk/internal/metrics"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/reconcile"
)

const (
	maxIDLength    = 255
	maxErrorLength = 500
)

// Event is the compact stream payload for one finished run.
type Event struct {
	RunID         string `json:"rid"`
	LocationID    string `json:"loc,omitempty"`
	CompanyID     string `json:"co,omitempty"`
	TriggeredBy   string `json:"by,omitempty"`
	Outcome       string `json:"out"`
	Total         int    `json:"tot"`
	Added         int    `json:"add"`
	Updated       int    `json:"upd"`
	Skipped       int    `json:"skp"`
	Failed        int    `json:"fail"`
	LocationUsers int    `json:"lu"`
	AgencyUsers   int    `json:"au"`
	DurationMS    int64  `json:"dur"`
	Error         string `json:"e,omitempty"`
	FinishedAt    int64  `json:"t"` // Unix milliseconds
}

// NewEvent summarizes a run. in must be the request the run was started
// with; its CRM keys are never copied.
func NewEvent(in reconcile.Input, res *reconcile.Result, runErr error, finishedAt time.Time) Event {
	ev := Event{
		LocationID:  in.LocationID,
		CompanyID:   in.CompanyID,
		TriggeredBy: in.TriggeredBy,
		Outcome:     Outcome(runErr),
		FinishedAt:  finishedAt.UnixMilli(),
	}
	if res != nil {
		ev.RunID = res.RunID
		ev.Total = res.Stats.Total
		ev.Added = res.Stats.Added
		ev.Updated = res.Stats.Updated
		ev.Skipped = res.Stats.Skipped
		ev.Failed = len(res.Stats.Errors)
		ev.LocationUsers = res.Stats.LocationUsers
		ev.AgencyUsers = res.Stats.AgencyUsers
		ev.DurationMS = res.Duration.Milliseconds()
	}
	if runErr != nil {
		ev.Error = truncate(runErr.Error(), maxErrorLength)
	}
	return ev
}

// Outcome classifies a run error the same way the sync metrics do.
func Outcome(err error) string {
	var validationErr *reconcile.ValidationError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &validationErr):
		return metrics.OutcomeValidationError
	default:
		return metrics.OutcomePersistenceError
	}
}

// Validate checks a decoded payload before it is stored.
func (e Event) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("rid is required")
	}
	if len(e.RunID) > maxIDLength || len(e.LocationID) > maxIDLength ||
		len(e.CompanyID) > maxIDLength || len(e.TriggeredBy) > maxIDLength {
		return fmt.Errorf("identifier too long")
	}
	switch e.Outcome {
	case metrics.OutcomeSuccess, metrics.OutcomeValidationError, metrics.OutcomePersistenceError:
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.Total < 0 || e.Added < 0 || e.Updated < 0 || e.Skipped < 0 || e.Failed < 0 ||
		e.LocationUsers < 0 || e.AgencyUsers < 0 || e.DurationMS < 0 {
		return fmt.Errorf("counters must not be negative")
	}
	if e.FinishedAt <= 0 {
		return fmt.Errorf("t must be set")
	}
	if len(e.Error) > maxErrorLength {
		return fmt.Errorf("e too long")
	}
	return nil
}

// Run converts the payload into its stored form.
func (e Event) Run(streamID string) *model.SyncRun {
	return &model.SyncRun{
		ID:            e.RunID,
		StreamID:      streamID,
		LocationID:    e.LocationID,
		CompanyID:     e.CompanyID,
		TriggeredBy:   e.TriggeredBy,
		Outcome:       e.Outcome,
		Total:         e.Total,
		Added:         e.Added,
		Updated:       e.Updated,
		Skipped:       e.Skipped,
		Failed:        e.Failed,
		LocationUsers: e.LocationUsers,
		AgencyUsers:   e.AgencyUsers,
		DurationMS:    e.DurationMS,
		Error:         e.Error,
		FinishedAt:    time.UnixMilli(e.FinishedAt).UTC(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
