package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/cache"
	"github.com/clockdesk/clockdesk/internal/identity"
	"github.com/clockdesk/clockdesk/internal/middleware"
	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/reconcile"
	"github.com/clockdesk/clockdesk/internal/runlog"
)

// SyncRunner runs synchronizations.
type SyncRunner interface {
	Run(ctx context.Context, in reconcile.Input) (*reconcile.Result, error)
}

// CredentialStatusReader reports stored credential presence.
type CredentialStatusReader interface {
	CredentialStatus(ctx context.Context, locationID, companyID string) (model.CredentialStatus, error)
}

// SyncLimiter bounds sync triggers per tenant.
type SyncLimiter interface {
	CheckSyncRateLimit(ctx context.Context, tenantKey string, perMinute, burst int) (*cache.RateLimitResult, error)
}

// RunPublisher records finished runs without blocking the response.
type RunPublisher interface {
	PublishAsync(event runlog.Event)
}

// SyncLimit configures SyncLimiter. PerMinute <= 0 disables limiting.
type SyncLimit struct {
	PerMinute int
	Burst     int
}

// SyncHandler serves the synchronization trigger and credential status.
type SyncHandler struct {
	runner  SyncRunner
	status  CredentialStatusReader
	limiter SyncLimiter
	limit   SyncLimit
	runs    RunPublisher
	tenants auth.TenantLookup
	logger  *slog.Logger
}

// NewSyncHandler creates a new SyncHandler. limiter may be nil.
func NewSyncHandler(runner SyncRunner, status CredentialStatusReader, limiter SyncLimiter, limit SyncLimit, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		runner:  runner,
		status:  status,
		limiter: limiter,
		limit:   limit,
		logger:  logger.With("component", "handler.sync"),
	}
}

// SetTenantLookup lets tenant-bound keys name both a location and a
// company. Without it such requests are refused.
func (h *SyncHandler) SetTenantLookup(l auth.TenantLookup) {
	h.tenants = l
}

// SetRunPublisher enables run history. Runs rejected before reaching the
// engine (bad JSON, foreign tenant, rate limit) are not recorded.
func (h *SyncHandler) SetRunPublisher(p RunPublisher) {
	h.runs = p
}

// SyncRequest is the trigger body. APIKey is the older name of LocationAPIKey.
type SyncRequest struct {
	LocationAPIKey string `json:"locationApiKey,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	AgencyAPIKey   string `json:"agencyApiKey,omitempty"`
	LocationID     string `json:"locationId,omitempty"`
	CompanyID      string `json:"companyId,omitempty"`
	TriggeredBy    string `json:"triggeredBy,omitempty"`
}

func (req *SyncRequest) trim() {
	req.LocationAPIKey = strings.TrimSpace(req.LocationAPIKey)
	req.APIKey = strings.TrimSpace(req.APIKey)
	req.AgencyAPIKey = strings.TrimSpace(req.AgencyAPIKey)
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.TriggeredBy = strings.TrimSpace(req.TriggeredBy)
}

// SyncResponse is returned when a run completes.
type SyncResponse struct {
	Success bool            `json:"success"`
	RunID   string          `json:"runId"`
	Stats   reconcile.Stats `json:"stats"`
	Logs    []string        `json:"logs"`
}

// SyncErrorResponse is returned when a run is rejected or aborted.
type SyncErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Logs    []string `json:"logs"`
}

// Trigger handles POST /api/v1/sync.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	lang := r.Header.Get("Accept-Language")

	var req SyncRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, SyncErrorResponse{
			Error: localize(lang, msgInvalidRequest, "Invalid request body"),
			Logs:  []string{},
		})
		return
	}

	req.trim()

	if err := firstInvalid(req.LocationID, req.CompanyID); err != nil {
		writeJSON(w, http.StatusBadRequest, SyncErrorResponse{
			Error:   localize(lang, msgInvalidRequest, "Invalid request body"),
			Details: err.Error(),
			Logs:    []string{},
		})
		return
	}

	allowed, err := auth.AuthorizeTenant(r.Context(), h.tenants, identity.ValidLocation(req.LocationID), req.CompanyID)
	if err != nil {
		h.logger.Error("tenant lookup failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeJSON(w, http.StatusInternalServerError, SyncErrorResponse{
			Error: localize(lang, msgSyncFailed, "Synchronization failed"),
			Logs:  []string{},
		})
		return
	}
	if !allowed {
		writeJSON(w, http.StatusForbidden, SyncErrorResponse{
			Error:   localize(lang, msgForbidden, "Forbidden"),
			Details: "FORBIDDEN_TENANT",
			Logs:    []string{},
		})
		return
	}

	if retryAfter, limited := h.rateLimited(r.Context(), req); limited {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, SyncErrorResponse{
			Error: localize(lang, msgRateLimited, "Too many requests"),
			Logs:  []string{},
		})
		return
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = auth.OwnerIDFromContext(r.Context())
	}

	in := reconcile.Input{
		LocationID:     req.LocationID,
		CompanyID:      req.CompanyID,
		LocationAPIKey: firstNonEmpty(req.LocationAPIKey, req.APIKey),
		AgencyAPIKey:   req.AgencyAPIKey,
		TriggeredBy:    triggeredBy,
	}
	res, err := h.runner.Run(r.Context(), in)
	if h.runs != nil && res != nil && res.RunID != "" {
		h.runs.PublishAsync(runlog.NewEvent(in, res, err, time.Now().UTC()))
	}

	logs := []string{}
	if res != nil && res.Logs != nil {
		logs = res.Logs
	}

	var validationErr *reconcile.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, SyncErrorResponse{
			Error: localize(lang, validationErr.Code, validationErr.Message),
			Logs:  logs,
		})
	case err != nil:
		h.logger.Error("sync failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeJSON(w, http.StatusInternalServerError, SyncErrorResponse{
			Error:   localize(lang, msgSyncFailed, "Synchronization failed"),
			Details: err.Error(),
			Logs:    logs,
		})
	default:
		writeJSON(w, http.StatusOK, SyncResponse{
			Success: true,
			RunID:   res.RunID,
			Stats:   res.Stats,
			Logs:    logs,
		})
	}
}

// Status handles GET /api/v1/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	locationID := strings.TrimSpace(r.URL.Query().Get("locationId"))
	companyID := strings.TrimSpace(r.URL.Query().Get("companyId"))

	if err := firstInvalid(locationID, companyID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	allowed, err := auth.AuthorizeTenant(r.Context(), h.tenants, locationID, companyID)
	if err == nil && !allowed {
		writeForbiddenTenant(w)
		return
	}

	var status model.CredentialStatus
	if err == nil {
		status, err = h.status.CredentialStatus(r.Context(), locationID, companyID)
	}
	if err != nil {
		h.logger.Error("credential status failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read credential status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// rateLimited reports whether the tenant in req exhausted its sync budget.
// Requests without a usable tenant are left to the engine to reject.
func (h *SyncHandler) rateLimited(ctx context.Context, req SyncRequest) (int, bool) {
	if h.limiter == nil || h.limit.PerMinute <= 0 {
		return 0, false
	}

	tenantKey := identity.ValidLocation(req.LocationID)
	if tenantKey == "" && req.CompanyID != "" {
		tenantKey = model.CompanyScopePrefix + req.CompanyID
	}
	if tenantKey == "" {
		return 0, false
	}

	res, err := h.limiter.CheckSyncRateLimit(ctx, tenantKey, h.limit.PerMinute, h.limit.Burst)
	if err != nil || res.Allowed {
		return 0, false
	}
	return int(res.RetryAfter.Seconds()), true
}

// firstInvalid validates optional identifiers.
func firstInvalid(ids ...string) error {
	for _, id := range ids {
		if err := middleware.ValidateOptionalIdentifier(id); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
