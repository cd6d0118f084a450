package auth

import (
	"context"
	"fmt"

	"github.com/clockdesk/clockdesk/internal/model"
)

type ctxKey struct{}

// ContextWithAuth attaches the authenticated key to ctx.
func ContextWithAuth(ctx context.Context, a *model.AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// AuthFromContext returns the authenticated key, or nil.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	a, _ := ctx.Value(ctxKey{}).(*model.AuthContext)
	return a
}

// MustAuthFromContext is AuthFromContext for handlers mounted behind the
// Auth middleware. It panics when the middleware did not run.
func MustAuthFromContext(ctx context.Context) *model.AuthContext {
	if a := AuthFromContext(ctx); a != nil {
		return a
	}
	panic("auth: no AuthContext in request context")
}

// OwnerIDFromContext returns the key owner, or "" when unauthenticated.
func OwnerIDFromContext(ctx context.Context) string {
	if a := AuthFromContext(ctx); a != nil {
		return a.OwnerID
	}
	return ""
}

// KeyIDFromContext returns the key ID, or "" when unauthenticated.
func KeyIDFromContext(ctx context.Context) string {
	if a := AuthFromContext(ctx); a != nil {
		return a.KeyID
	}
	return ""
}

// AllowsTenant reports whether the request's key may act on the tenant id.
// Unauthenticated contexts allow nothing.
func AllowsTenant(ctx context.Context, id string) bool {
	a := AuthFromContext(ctx)
	return a != nil && a.AllowsTenant(id)
}

// TenantLookup returns the company recorded for a location, or "" when the
// location has no record.
type TenantLookup interface {
	CompanyForLocation(ctx context.Context, locationID string) (string, error)
}

// AuthorizeTenant reports whether the request's key may act on the
// location and company a request names. lookup is consulted only for
// tenant-bound keys; a nil lookup denies whatever needs it.
func AuthorizeTenant(ctx context.Context, lookup TenantLookup, locationID, companyID string) (bool, error) {
	a := AuthFromContext(ctx)
	if a == nil {
		return false, nil
	}

	var stored string
	if a.NeedsStoredCompany(locationID, companyID) {
		if lookup == nil {
			return false, nil
		}
		var err error
		if stored, err = lookup.CompanyForLocation(ctx, locationID); err != nil {
			return false, fmt.Errorf("look up company for %s: %w", locationID, err)
		}
	}
	return a.AllowsTenantPair(locationID, companyID, stored), nil
}
