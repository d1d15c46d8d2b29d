package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/replbox/replbox/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler reports liveness of the API and its dependencies.
type HealthHandler struct {
	audit      store.AuditLog
	enginePing func(ctx context.Context) error
}

// NewHealthHandler creates a health handler. enginePing probes the
// container engine and may be nil.
func NewHealthHandler(audit store.AuditLog, enginePing func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{audit: audit, enginePing: enginePing}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	statusCode := http.StatusOK
	overall := "healthy"

	if h.audit != nil {
		if err := h.audit.Ping(ctx); err != nil {
			slog.Error("Health check: audit log unreachable", "error", err)
			checks["audit_log"] = "unreachable"
			overall = "degraded"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["audit_log"] = "ok"
		}
	}

	if h.enginePing != nil {
		if err := h.enginePing(ctx); err != nil {
			slog.Error("Health check: container engine unreachable", "error", err)
			checks["container_engine"] = "unreachable"
			overall = "degraded"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["container_engine"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Health)
}
