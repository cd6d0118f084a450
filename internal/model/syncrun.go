package model

import "time"

// SyncRun is the stored summary of one synchronization run. It never
// carries CRM keys or the per-line run log.
type SyncRun struct {
	ID            string    `json:"id"`
	StreamID      string    `json:"-"`
	LocationID    string    `json:"locationId,omitempty"`
	CompanyID     string    `json:"companyId,omitempty"`
	TriggeredBy   string    `json:"triggeredBy,omitempty"`
	Outcome       string    `json:"outcome"`
	Total         int       `json:"total"`
	Added         int       `json:"added"`
	Updated       int       `json:"updated"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	LocationUsers int       `json:"locationUsers"`
	AgencyUsers   int       `json:"agencyUsers"`
	DurationMS    int64     `json:"durationMs"`
	Error         string    `json:"error,omitempty"`
	FinishedAt    time.Time `json:"finishedAt"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// SyncRunFilter narrows a run history listing. Empty fields match all rows.
// Tenant matches either the location or the company column.
type SyncRunFilter struct {
	LocationID string
	CompanyID  string
	Tenant     string
	Limit      int
}
