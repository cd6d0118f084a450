package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/model"
)

// RequireScope lets the request through when the key holds any of the
// required scopes (admin implies all). Must run after Auth.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return guard(func(a *model.AuthContext) (int, string, string) {
		for _, s := range required {
			if a.HasScope(s) {
				return 0, "", ""
			}
		}
		return http.StatusForbidden, "FORBIDDEN", "Insufficient permissions. Required scope: " + required[0]
	})
}

// RequireRead requires the read scope.
func RequireRead() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeRead)
}

// RequireWrite requires the write scope.
func RequireWrite() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeWrite)
}

// RequireAdmin requires the admin scope.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeAdmin)
}

// RequireOperator requires an admin key that is not bound to a tenant.
// Tenant installs never reach directory-wide operations.
func RequireOperator() func(http.Handler) http.Handler {
	return guard(func(a *model.AuthContext) (int, string, string) {
		if !a.HasScope(model.ScopeAdmin) {
			return http.StatusForbidden, "FORBIDDEN", "Insufficient permissions. Required scope: " + model.ScopeAdmin
		}
		if a.TenantScope != "" {
			return http.StatusForbidden, "FORBIDDEN_TENANT", "This operation needs an operator key"
		}
		return 0, "", ""
	})
}

// guard adapts a check on the authenticated key into middleware. check
// returns a zero status to allow the request.
func guard(check func(*model.AuthContext) (status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := auth.AuthFromContext(r.Context())
			if a == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			if status, code, message := check(a); status != 0 {
				writeError(w, status, code, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes the standard JSON error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
