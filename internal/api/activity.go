package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/replbox/replbox/internal/store"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// ActivityHandler exposes the execution audit log's recent-activity view.
type ActivityHandler struct {
	audit store.AuditLog
}

// NewActivityHandler creates the activity route handler.
func NewActivityHandler(audit store.AuditLog) *ActivityHandler {
	return &ActivityHandler{audit: audit}
}

// RegisterRoutes registers the activity routes.
func (h *ActivityHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/executions/recent", h.Recent)
}

type activityEntry struct {
	SessionID  string `json:"session_id"`
	Language   string `json:"language"`
	CodeSize   int    `json:"code_size"`
	DurationMs int64  `json:"duration_ms"`
	Failed     bool   `json:"failed"`
	ExecutedAt int64  `json:"executed_at"`
}

// Recent returns the most recent audited executions, newest first.
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	total, err := h.audit.CountExecutions(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}

	entries, err := h.audit.RecentExecutions(r.Context(), limit)
	if err != nil {
		Error(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}

	out := make([]activityEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityEntry{
			SessionID:  e.SessionID,
			Language:   e.Language,
			CodeSize:   e.CodeSize,
			DurationMs: e.Duration.Milliseconds(),
			Failed:     e.Failed,
			ExecutedAt: e.ExecutedAt.Unix(),
		})
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"total":      total,
		"executions": out,
	})
}
