// Package crm reads the external CRM user directory.
//
// Two API generations are supported. The current generation accepts
// location and company filters; the legacy generation lists every user the
// key can see and is only used as a fallback when the current generation
// answers with a non-success response.
package crm

// Scope identifies which credential a directory read was made with.
type Scope string

const (
	// ScopeLocation reads with the per-location key.
	ScopeLocation Scope = "location"
	// ScopeAgency reads with the agency/company-wide key.
	ScopeAgency Scope = "agency"
)

// Generation identifies the API generation that served a read.
type Generation string

const (
	GenerationCurrent Generation = "current"
	GenerationLegacy  Generation = "legacy"
)

// User is one raw external user record as returned by either generation.
// Field names follow the CRM's JSON payloads.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Email      string     `json:"email"`
	Type       string     `json:"type"`
	Role       string     `json:"role"`
	LocationID string     `json:"locationId"`
	Roles      *UserRoles `json:"roles,omitempty"`
}

// UserRoles is the nested role descriptor of a user record.
type UserRoles struct {
	Type        string   `json:"type"`
	Role        string   `json:"role"`
	LocationIDs []string `json:"locationIds,omitempty"`
}
