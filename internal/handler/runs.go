package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/middleware"
	"github.com/clockdesk/clockdesk/internal/model"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// SyncRunReader lists stored run summaries.
type SyncRunReader interface {
	ListSyncRuns(ctx context.Context, f model.SyncRunFilter) ([]*model.SyncRun, error)
}

// RunsHandler serves the synchronization run history.
type RunsHandler struct {
	reader  SyncRunReader
	tenants auth.TenantLookup
	logger  *slog.Logger
}

// NewRunsHandler creates a new RunsHandler.
func NewRunsHandler(reader SyncRunReader, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{
		reader: reader,
		logger: logger.With("component", "handler.runs"),
	}
}

// SetTenantLookup lets tenant-bound keys filter by both a location and a
// company. Without it such requests are refused.
func (h *RunsHandler) SetTenantLookup(l auth.TenantLookup) {
	h.tenants = l
}

// List handles GET /api/v1/sync/runs?locationId=&companyId=&limit=.
// Tenant-scoped keys only see runs that touched their tenant.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.SyncRunFilter{
		LocationID: strings.TrimSpace(q.Get("locationId")),
		CompanyID:  strings.TrimSpace(q.Get("companyId")),
		Limit:      defaultRunsLimit,
	}

	if err := firstInvalid(filter.LocationID, filter.CompanyID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxRunsLimit {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100")
			return
		}
		filter.Limit = limit
	}

	if keyScope := auth.MustAuthFromContext(r.Context()).TenantScope; keyScope != "" {
		if filter.LocationID != "" || filter.CompanyID != "" {
			allowed, err := auth.AuthorizeTenant(r.Context(), h.tenants, filter.LocationID, filter.CompanyID)
			if err != nil {
				h.logger.Error("tenant lookup failed",
					slog.String("error", err.Error()),
					slog.String("request_id", middleware.GetRequestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sync runs")
				return
			}
			if !allowed {
				writeForbiddenTenant(w)
				return
			}
		}
		filter.Tenant = keyScope
	}

	runs, err := h.reader.ListSyncRuns(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sync runs failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sync runs")
		return
	}
	if runs == nil {
		runs = []*model.SyncRun{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}
