package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/identity"
	"github.com/clockdesk/clockdesk/internal/middleware"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/service"
	"github.com/clockdesk/clockdesk/internal/trust"
)

// IdentityService defines the identity operations served over HTTP.
type IdentityService interface {
	Get(ctx context.Context, id string) (*model.Identity, error)
	Touch(ctx context.Context, claims trust.LaunchClaims) (*model.Identity, bool, error)
	List(ctx context.Context, tenantScope string) ([]*model.Identity, error)
	SetRole(ctx context.Context, id string, role model.Role) (*model.Identity, error)
	Delete(ctx context.Context, id string) error
	TransferOwnership(ctx context.Context, in service.TransferInput) (*model.Identity, error)
	FindBogus(ctx context.Context) ([]service.BogusMatch, error)
	DeleteBogus(ctx context.Context) (*service.BogusCleanup, error)
	Overview(ctx context.Context) ([]service.TenantGroup, error)
}

// SessionResolver builds two-phase sessions from launch claims.
type SessionResolver interface {
	Resolve(ctx context.Context, claims trust.LaunchClaims) trust.Session
	WithIdentity(ctx context.Context, claims trust.LaunchClaims, stored *model.Identity) trust.Session
}

// IdentityHandler serves identity directory endpoints.
type IdentityHandler struct {
	svc      IdentityService
	sessions SessionResolver
	tenants  auth.TenantLookup
	logger   *slog.Logger
}

// NewIdentityHandler creates a new IdentityHandler.
func NewIdentityHandler(svc IdentityService, sessions SessionResolver, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{
		svc:      svc,
		sessions: sessions,
		logger:   logger.With("component", "handler.identities"),
	}
}

// SetTenantLookup lets tenant-bound keys name both a location and a
// company. Without it such requests are refused.
func (h *IdentityHandler) SetTenantLookup(l auth.TenantLookup) {
	h.tenants = l
}

// List handles GET /api/v1/identities?tenantScope=.
// Tenant-scoped keys only see their own tenant.
func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantScope := strings.TrimSpace(r.URL.Query().Get("tenantScope"))
	if err := middleware.ValidateOptionalIdentifier(tenantScope); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TENANT_SCOPE", err.Error())
		return
	}

	if keyScope := auth.MustAuthFromContext(r.Context()).TenantScope; keyScope != "" {
		if tenantScope == "" {
			tenantScope = keyScope
		}
		if tenantScope != keyScope {
			writeForbiddenTenant(w)
			return
		}
	}

	identities, err := h.svc.List(r.Context(), tenantScope)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if identities == nil {
		identities = []*model.Identity{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"identities": identities,
		"count":      len(identities),
	})
}

// TouchResponse is returned by Touch.
type TouchResponse struct {
	Created bool          `json:"created"`
	Session trust.Session `json:"session"`
}

// Touch handles POST /api/v1/identities/touch. The body carries launch
// claims; the claimed role is only echoed back in the session's claims.
func (h *IdentityHandler) Touch(w http.ResponseWriter, r *http.Request) {
	var claims trust.LaunchClaims
	if err := decodeJSON(r, &claims); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	claims = trimClaims(claims)

	if err := middleware.ValidateIdentifier(claims.UserID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_USER_ID", err.Error())
		return
	}
	if err := firstInvalid(claims.LocationID, claims.CompanyID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TENANT_SCOPE", err.Error())
		return
	}
	if !h.allowTenant(w, r, identity.ValidLocation(claims.LocationID), claims.CompanyID) {
		return
	}

	stored, created, err := h.svc.Touch(r.Context(), claims)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, TouchResponse{
		Created: created,
		Session: h.sessions.WithIdentity(r.Context(), claims, stored),
	})
}

// Session handles GET /api/v1/session with launch parameters in the query.
// It answers with the authoritative phase when the store responds in time,
// otherwise with the optimistic phase.
func (h *IdentityHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims := trust.ParseLaunchClaims(r.URL.Query())

	if err := firstInvalid(claims.UserID, claims.LocationID, claims.CompanyID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if !h.allowTenant(w, r, identity.ValidLocation(claims.LocationID), claims.CompanyID) {
		return
	}

	writeJSON(w, http.StatusOK, h.sessions.Resolve(r.Context(), claims))
}

// setRoleRequest is the body of SetRole.
type setRoleRequest struct {
	Role model.Role `json:"role"`
}

// SetRole handles PUT /api/v1/identities/{id}/role.
func (h *IdentityHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identityInTenant(w, r)
	if !ok {
		return
	}

	var req setRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	updated, err := h.svc.SetRole(r.Context(), id, req.Role)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("identity_role_set",
		slog.String("identity_id", id),
		slog.String("role", string(updated.Role)),
		slog.String("key_id", auth.KeyIDFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/v1/identities/{id}.
func (h *IdentityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identityInTenant(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("identity_deleted",
		slog.String("identity_id", id),
		slog.String("key_id", auth.KeyIDFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}

// TransferOwnership handles POST /api/v1/identities/ownership-transfer.
func (h *IdentityHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	var in service.TransferInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := firstInvalid(in.CurrentOwnerID, in.NewOwnerID, in.TenantScope); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if in.TenantScope != "" && !auth.AllowsTenant(r.Context(), in.TenantScope) {
		writeForbiddenTenant(w)
		return
	}

	owner, err := h.svc.TransferOwnership(r.Context(), in)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, owner)
}

// FindBogus handles GET /api/v1/identities/bogus (dry run).
func (h *IdentityHandler) FindBogus(w http.ResponseWriter, r *http.Request) {
	matches, err := h.svc.FindBogus(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if matches == nil {
		matches = []service.BogusMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matched": matches,
		"count":   len(matches),
	})
}

// DeleteBogus handles DELETE /api/v1/identities/bogus.
func (h *IdentityHandler) DeleteBogus(w http.ResponseWriter, r *http.Request) {
	cleanup, err := h.svc.DeleteBogus(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("bogus_identities_deleted",
		slog.Int64("deleted", cleanup.Deleted),
		slog.String("key_id", auth.KeyIDFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, cleanup)
}

// Overview handles GET /api/v1/identities/overview.
func (h *IdentityHandler) Overview(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.Overview(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if groups == nil {
		groups = []service.TenantGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": groups})
}

// identityInTenant validates the {id} parameter and checks that the caller's
// key may act on the identity's tenant. Foreign identities look missing.
func (h *IdentityHandler) identityInTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateIdentifier(id); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return "", false
	}

	if auth.MustAuthFromContext(r.Context()).TenantScope == "" {
		return id, true
	}

	existing, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return "", false
	}
	if !auth.AllowsTenant(r.Context(), existing.TenantScope) {
		writeError(w, http.StatusNotFound, "IDENTITY_NOT_FOUND", "Identity not found")
		return "", false
	}
	return id, true
}

// handleServiceError maps service errors to HTTP responses.
func (h *IdentityHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "IDENTITY_NOT_FOUND", "Identity not found")
	case errors.Is(err, service.ErrOwnerDemotion):
		writeError(w, http.StatusConflict, "OWNER_DEMOTION", err.Error())
	case errors.Is(err, service.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "INVALID_ROLE", "role must be one of: user, admin")
	case errors.Is(err, service.ErrTransferInput):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, service.ErrMissingUserID):
		writeError(w, http.StatusBadRequest, "INVALID_USER_ID", err.Error())
	default:
		h.logger.Error("identity operation failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}

// allowTenant writes the rejection and returns false when the key may not
// act on the named location and company.
func (h *IdentityHandler) allowTenant(w http.ResponseWriter, r *http.Request, locationID, companyID string) bool {
	allowed, err := auth.AuthorizeTenant(r.Context(), h.tenants, locationID, companyID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return false
	}
	if !allowed {
		writeForbiddenTenant(w)
	}
	return allowed
}

func writeForbiddenTenant(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN_TENANT", "This API key cannot act on that tenant")
}

func trimClaims(c trust.LaunchClaims) trust.LaunchClaims {
	c.UserID = strings.TrimSpace(c.UserID)
	c.UserName = strings.TrimSpace(c.UserName)
	c.Email = strings.TrimSpace(c.Email)
	c.LocationID = strings.TrimSpace(c.LocationID)
	c.CompanyID = strings.TrimSpace(c.CompanyID)
	c.ClaimedRole = strings.TrimSpace(c.ClaimedRole)
	return c
}
