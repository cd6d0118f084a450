// Package trust separates what the embedding CRM claims about a user from what
// the identity directory says. Claimed roles only drive first-run UI hints;
// authorization reads the stored identity.
package trust

import (
	"net/url"
	"strings"

	"github.com/clockdesk/clockdesk/internal/identity"
)

// LaunchClaims are the unverified values the CRM passes when it embeds the app.
type LaunchClaims struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	Email      string `json:"email"`
	LocationID string `json:"locationId"`
	CompanyID  string `json:"companyId"`

	// ClaimedRole is never written to the store nor used for authorization.
	ClaimedRole string `json:"claimedRole,omitempty"`
}

// ParseLaunchClaims reads claims from launch query parameters. Both the
// snake_case and camelCase spellings the CRM uses are accepted.
func ParseLaunchClaims(q url.Values) LaunchClaims {
	return LaunchClaims{
		UserID:      first(q, "user_id", "userId"),
		UserName:    first(q, "name", "userName"),
		Email:       first(q, "email"),
		LocationID:  first(q, "location_id", "locationId"),
		CompanyID:   first(q, "company_id", "companyId"),
		ClaimedRole: first(q, "role", "user_type", "type"),
	}
}

// ClaimsAdmin reports whether the CRM claims an admin or agency user.
func (c LaunchClaims) ClaimsAdmin() bool {
	return strings.EqualFold(c.ClaimedRole, "admin") || strings.EqualFold(c.ClaimedRole, "agency")
}

// TenantScope is the claimed location, or "" when it is missing or a placeholder.
func (c LaunchClaims) TenantScope() string {
	return identity.ValidLocation(c.LocationID)
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
