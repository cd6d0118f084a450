package reconcile

import (
	"fmt"
	"time"
)

// Stats summarizes one synchronization run.
type Stats struct {
	Total         int      `json:"total"`
	Added         int      `json:"added"`
	Updated       int      `json:"updated"`
	Skipped       int      `json:"skipped"`
	LocationUsers int      `json:"locationUsers"`
	AgencyUsers   int      `json:"agencyUsers"`
	Errors        []string `json:"errors"`
}

// Result is the outcome of a run. It is returned even when the run fails so
// the caller can show the log collected up to the failure.
type Result struct {
	RunID    string
	Stats    Stats
	Logs     []string
	Duration time.Duration

	// CredentialsSaved reports whether the credential record was written.
	CredentialsSaved bool
}

// runLog is an ordered list of human-readable trace lines.
type runLog struct {
	lines []string
}

func (l *runLog) add(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *runLog) merge(other *runLog) {
	l.lines = append(l.lines, other.lines...)
}
