package handler

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const readyTimeout = 5 * time.Second

// HealthChecker is anything that can be pinged, such as the Postgres pool
// or the Redis client.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependency names a readiness check. A nil Checker is reported as
// "not configured" and never fails the probe.
type Dependency struct {
	Name    string
	Checker HealthChecker
}

type HealthHandler struct {
	deps []Dependency
}

func NewHealthHandler(deps ...Dependency) *HealthHandler {
	return &HealthHandler{deps: deps}
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports liveness without touching any dependency.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings all dependencies in parallel and answers 503 if any
// configured one fails.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make([]error, len(h.deps))
	var g errgroup.Group
	for i, dep := range h.deps {
		if dep.Checker != nil {
			g.Go(func() error {
				results[i] = dep.Checker.Ping(ctx)
				return nil
			})
		}
	}
	_ = g.Wait()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.deps))}
	code := http.StatusOK
	for i, dep := range h.deps {
		switch {
		case dep.Checker == nil:
			resp.Checks[dep.Name] = "not configured"
		case results[i] != nil:
			resp.Checks[dep.Name] = "error: " + results[i].Error()
			resp.Status, code = "unhealthy", http.StatusServiceUnavailable
		default:
			resp.Checks[dep.Name] = "ok"
		}
	}
	writeJSON(w, code, resp)
}
