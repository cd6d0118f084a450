package identity

import (
	"strings"

	"github.com/clockdesk/clockdesk/internal/crm"
)

// UnknownName is used when a record carries no usable name.
const UnknownName = "Unknown"

// SkipReason explains why a raw record was excluded from synchronization.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipMissingID     SkipReason = "missing id"
	SkipTemplateToken SkipReason = "placeholder (template token)"
	SkipTestEmail     SkipReason = "placeholder (test email heuristic)"
)

// Record is a normalized external user ready for role resolution.
type Record struct {
	ID               string
	DisplayName      string
	Email            string
	SourceLocationID string
	Scope            crm.Scope
	Raw              crm.User
}

// Normalizer converts raw directory users into Records.
type Normalizer struct {
	// TestEmailHeuristic enables the "test" + "@" placeholder rule.
	TestEmailHeuristic bool
}

// Normalize converts u fetched under scope. effectiveLocation is the run's
// location identifier, used when the record carries none of its own.
// A non-empty SkipReason means the record must not reach the store.
func (n Normalizer) Normalize(u crm.User, scope crm.Scope, effectiveLocation string) (Record, SkipReason) {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return Record{}, SkipMissingID
	}

	rec := Record{
		ID:               id,
		DisplayName:      displayName(u),
		Email:            strings.TrimSpace(u.Email),
		SourceLocationID: sourceLocation(u, effectiveLocation),
		Scope:            scope,
		Raw:              u,
	}

	if HasTemplateToken(rec.DisplayName) || HasTemplateToken(rec.Email) {
		return rec, SkipTemplateToken
	}
	if n.TestEmailHeuristic && LooksLikeTestEmail(rec.Email) {
		return rec, SkipTestEmail
	}

	return rec, SkipNone
}

func displayName(u crm.User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	composed := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if composed != "" {
		return composed
	}
	return UnknownName
}

func sourceLocation(u crm.User, effectiveLocation string) string {
	if loc := ValidLocation(u.LocationID); loc != "" {
		return loc
	}
	return ValidLocation(effectiveLocation)
}
