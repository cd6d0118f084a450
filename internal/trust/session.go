package trust

import (
	"github.com/clockdesk/clockdesk/internal/model"
)

// Phase tells whether a session's identity came from the store.
type Phase string

const (
	PhaseOptimistic    Phase = "optimistic"
	PhaseAuthoritative Phase = "authoritative"
)

// Session is the two-phase view of the current user. The optimistic phase is
// built from launch claims alone and always carries the user role; the
// authoritative phase carries the stored identity. Claims stay in their own
// field in both phases.
type Session struct {
	Phase         Phase          `json:"phase"`
	Identity      model.Identity `json:"identity"`
	Claims        LaunchClaims   `json:"claims"`
	ClaimsAdmin   bool           `json:"claimsAdmin"`
	SetupRequired bool           `json:"setupRequired"`
}

// Optimistic builds the first-phase session. hasLocationKey reports whether
// the claimed tenant already has a stored location key.
func Optimistic(c LaunchClaims, hasLocationKey bool) Session {
	return Session{
		Phase: PhaseOptimistic,
		Identity: model.Identity{
			ID:          c.UserID,
			DisplayName: c.UserName,
			Email:       c.Email,
			Role:        model.RoleUser,
			TenantScope: c.TenantScope(),
		},
		Claims:        c,
		ClaimsAdmin:   c.ClaimsAdmin(),
		SetupRequired: c.ClaimsAdmin() && !hasLocationKey,
	}
}

// Merge returns the authoritative phase. Role and ownership come only from
// stored; claims and setup hints are kept as they were.
func (s Session) Merge(stored *model.Identity) Session {
	if stored == nil {
		return s
	}
	out := s
	out.Phase = PhaseAuthoritative
	out.Identity = *stored
	return out
}

// IsAdmin reports admin rights. An optimistic session is never admin,
// whatever the claims say.
func (s Session) IsAdmin() bool {
	return s.Phase == PhaseAuthoritative && s.Identity.IsAdmin()
}
