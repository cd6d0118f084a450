package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/middleware"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/repository"
)

type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	RotateAPIKey(ctx context.Context, oldID string, replacement *model.APIKey) error
}

// AuthInvalidator drops cached auth contexts for a key.
type AuthInvalidator interface {
	InvalidateAuthContexts(ctx context.Context, keyID string) error
}

// APIKeyHandler manages the caller's own API keys. Keys belonging to
// another owner, or to a tenant the caller cannot act on, look missing.
type APIKeyHandler struct {
	log       *slog.Logger
	store     APIKeyStore
	authCache AuthInvalidator
	env       string
	now       func() time.Time
}

// NewAPIKeyHandler mints keys for env; anything but auth.EnvTest means
// live keys.
func NewAPIKeyHandler(logger *slog.Logger, store APIKeyStore, env string) *APIKeyHandler {
	if env != auth.EnvTest {
		env = auth.EnvLive
	}
	return &APIKeyHandler{
		log:   logger.With("component", "handler.apikeys"),
		store: store,
		env:   env,
		now:   time.Now,
	}
}

// SetAuthCache makes revocation and rotation take effect before cached
// auth contexts expire.
func (h *APIKeyHandler) SetAuthCache(c AuthInvalidator) {
	h.authCache = c
}

// CreateAPIKey handles POST /api/v1/api-keys. Tenant keys can only mint
// keys for their own tenant.
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req model.APIKeyCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	tenant := strings.TrimSpace(req.TenantScope)
	for _, s := range req.Scopes {
		if !model.ValidScope(s) {
			writeError(w, http.StatusBadRequest, "INVALID_SCOPE", "Invalid scope: "+s+". Valid scopes: read, write, admin")
			return
		}
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{model.ScopeRead}
	}
	if err := middleware.ValidateOptionalIdentifier(tenant); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TENANT_SCOPE", err.Error())
		return
	}
	if !caller.IsOperator() {
		if tenant != "" && tenant != caller.TenantScope {
			writeForbiddenTenant(w)
			return
		}
		tenant = caller.TenantScope
	}

	key, plaintext, err := h.mint(model.APIKey{
		OwnerID:       caller.OwnerID,
		TenantScope:   tenant,
		Scopes:        req.Scopes,
		RateLimitTier: model.TierFree,
		Name:          strings.TrimSpace(req.Name),
	})
	if err == nil {
		err = h.store.CreateAPIKey(r.Context(), key)
	}
	if err != nil {
		h.internalError(w, "create API key", err)
		return
	}

	h.log.Info("API key created",
		"key_id", key.ID,
		"key_prefix", key.KeyPrefix,
		"owner_id", key.OwnerID,
		"tenant_scope", key.TenantScope,
	)
	writeJSON(w, http.StatusCreated, createResponse(key, plaintext))
}

// ListAPIKeys handles GET /api/v1/api-keys.
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	keys, err := h.store.ListAPIKeysByOwner(r.Context(), caller.OwnerID)
	if err != nil {
		h.internalError(w, "list API keys", err)
		return
	}

	out := make([]model.APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		if caller.AllowsTenant(k.TenantScope) {
			out = append(out, k.ToResponse())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

// RevokeAPIKey handles DELETE /api/v1/api-keys/{key_id}.
func (h *APIKeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	key, ok := h.ownedKey(w, r, caller)
	if !ok {
		return
	}

	err := h.store.RevokeAPIKey(r.Context(), key.ID)
	switch {
	case errors.Is(err, repository.ErrAPIKeyNotFound):
		writeKeyNotFound(w)
		return
	case err != nil:
		h.internalError(w, "revoke API key", err, "key_id", key.ID)
		return
	}
	h.invalidate(r.Context(), key.ID)

	h.log.Info("API key revoked", "key_id", key.ID, "owner_id", caller.OwnerID)
	w.WriteHeader(http.StatusNoContent)
}

// RotateAPIKey handles POST /api/v1/api-keys/{key_id}/rotate. The
// replacement keeps the old key's tenant, scopes, tier and name. The old
// key is revoked in the same transaction that stores the replacement.
func (h *APIKeyHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	old, ok := h.ownedKey(w, r, caller)
	if !ok {
		return
	}

	next, plaintext, err := h.mint(model.APIKey{
		OwnerID:       old.OwnerID,
		TenantScope:   old.TenantScope,
		Scopes:        old.Scopes,
		RateLimitTier: old.RateLimitTier,
		Name:          old.Name,
	})
	if err == nil {
		err = h.store.RotateAPIKey(r.Context(), old.ID, next)
	}
	switch {
	case errors.Is(err, repository.ErrAPIKeyNotFound):
		// Revoked between the lookup and the rotation.
		writeKeyNotFound(w)
		return
	case err != nil:
		h.internalError(w, "rotate API key", err, "key_id", old.ID)
		return
	}
	h.invalidate(r.Context(), old.ID)

	h.log.Info("API key rotated", "old_key_id", old.ID, "new_key_id", next.ID, "owner_id", caller.OwnerID)
	writeJSON(w, http.StatusCreated, model.APIKeyRotateResponse{
		OldKeyID:        old.ID,
		OldKeyRevokedAt: next.CreatedAt,
		NewKey:          createResponse(next, plaintext),
	})
}

// mint fills in a fresh ID, secret and creation time on tmpl.
func (h *APIKeyHandler) mint(tmpl model.APIKey) (*model.APIKey, string, error) {
	gen, err := auth.GenerateAPIKey(h.env)
	if err != nil {
		return nil, "", err
	}
	tmpl.ID = ulid.Make().String()
	tmpl.KeyHash = gen.Hash
	tmpl.KeyPrefix = gen.Prefix
	tmpl.CreatedAt = h.now().UTC()
	return &tmpl, gen.Plaintext, nil
}

func (h *APIKeyHandler) invalidate(ctx context.Context, keyID string) {
	if h.authCache == nil {
		return
	}
	if err := h.authCache.InvalidateAuthContexts(ctx, keyID); err != nil {
		h.log.Warn("drop cached auth contexts", "key_id", keyID, "error", err)
	}
}

// ownedKey loads {key_id} for the caller. Missing, foreign and revoked keys
// all answer 404 so key IDs cannot be probed.
func (h *APIKeyHandler) ownedKey(w http.ResponseWriter, r *http.Request, caller *model.AuthContext) (*model.APIKey, bool) {
	id := chi.URLParam(r, "key_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Key ID is required")
		return nil, false
	}

	key, err := h.store.GetAPIKeyByID(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrAPIKeyNotFound):
		writeKeyNotFound(w)
		return nil, false
	case err != nil:
		h.internalError(w, "load API key", err, "key_id", id)
		return nil, false
	}

	if key.OwnerID != caller.OwnerID || key.IsRevoked() || !caller.AllowsTenant(key.TenantScope) {
		writeKeyNotFound(w)
		return nil, false
	}
	return key, true
}

func (h *APIKeyHandler) internalError(w http.ResponseWriter, action string, err error, attrs ...any) {
	h.log.Error(action+" failed", append(attrs, "error", err)...)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action)
}

// requireCaller returns the authenticated key, answering 401 without one.
func requireCaller(w http.ResponseWriter, r *http.Request) (*model.AuthContext, bool) {
	a := auth.AuthFromContext(r.Context())
	if a == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return nil, false
	}
	return a, true
}

func createResponse(key *model.APIKey, plaintext string) model.APIKeyCreateResponse {
	return model.APIKeyCreateResponse{APIKeyResponse: key.ToResponse(), Key: plaintext}
}

func writeKeyNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found or already revoked")
}
