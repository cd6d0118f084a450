// Package model defines domain entities for the application.
package model

import "time"

// Role is the authoritative access level of an identity.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ValidRoles contains all assignable roles.
var ValidRoles = []Role{RoleUser, RoleAdmin}

// IsValid reports whether r is one of the assignable roles.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is one human user of the embedding tenant.
// It is the only source consulted for authorization decisions.
type Identity struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	IsOwner     bool      `json:"isOwner"`
	TenantScope string    `json:"tenantScope"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsAdmin returns true if the identity has admin rights.
// Owners are always admins.
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin || i.IsOwner
}

// SyncPatch carries the fields a synchronization pass may change on an
// existing identity. Elevate is applied only as a promotion.
type SyncPatch struct {
	DisplayName string
	Email       string
	TenantScope string // empty leaves the stored scope untouched
	Elevate     bool
	SeenAt      time.Time
}

// TouchInput is a local-login touch originating from the embedding context.
// It never carries a role.
type TouchInput struct {
	ID          string
	DisplayName string
	Email       string
	TenantScope string
}
