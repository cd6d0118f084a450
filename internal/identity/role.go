package identity

import (
	"strings"
	"time"

	"github.com/clockdesk/clockdesk/internal/crm"
	"github.com/clockdesk/clockdesk/internal/model"
)

// elevatedRoleValues are external role/type values that map to admin.
var elevatedRoleValues = []string{"admin", "agency", "owner"}

// ResolveRole computes the target role for a normalized record.
// Records reached through the agency credential are always admins.
func ResolveRole(rec Record) model.Role {
	if rec.Scope == crm.ScopeAgency {
		return model.RoleAdmin
	}

	candidates := []string{rec.Raw.Type, rec.Raw.Role}
	if rec.Raw.Roles != nil {
		candidates = append(candidates, rec.Raw.Roles.Type, rec.Raw.Roles.Role)
	}

	for _, c := range candidates {
		if isElevated(c) {
			return model.RoleAdmin
		}
	}
	return model.RoleUser
}

func isElevated(value string) bool {
	value = strings.TrimSpace(value)
	for _, v := range elevatedRoleValues {
		if strings.EqualFold(value, v) {
			return true
		}
	}
	return false
}

// NewFromRecord builds the identity created on first encounter.
// Synchronization never assigns ownership.
func NewFromRecord(rec Record, role model.Role, now time.Time) *model.Identity {
	return &model.Identity{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		Email:       rec.Email,
		Role:        role,
		IsOwner:     false,
		TenantScope: rec.SourceLocationID,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// PatchFor computes the sync update for an existing identity.
// Name and email are always overwritten; the tenant scope only replaces an
// empty or placeholder value; the role is only ever promoted.
func PatchFor(existing *model.Identity, rec Record, role model.Role, now time.Time) model.SyncPatch {
	patch := model.SyncPatch{
		DisplayName: rec.DisplayName,
		Email:       rec.Email,
		Elevate:     role == model.RoleAdmin,
		SeenAt:      now,
	}
	if ValidLocation(existing.TenantScope) == "" && rec.SourceLocationID != "" {
		patch.TenantScope = rec.SourceLocationID
	}
	return patch
}

// ApplyPatch returns a copy of existing with patch applied under the same
// rules the store enforces.
func ApplyPatch(existing *model.Identity, patch model.SyncPatch) *model.Identity {
	out := *existing
	out.DisplayName = patch.DisplayName
	out.Email = patch.Email
	if patch.TenantScope != "" && ValidLocation(out.TenantScope) == "" {
		out.TenantScope = patch.TenantScope
	}
	if patch.Elevate {
		out.Role = model.RoleAdmin
	}
	out.LastSeenAt = patch.SeenAt
	out.UpdatedAt = patch.SeenAt
	return &out
}
