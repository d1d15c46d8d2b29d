package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/replbox/replbox/internal/language"
	"github.com/replbox/replbox/internal/session"
)

// SessionHandler exposes the session engine over HTTP.
type SessionHandler struct {
	svc       Service
	languages *language.Registry
}

// NewSessionHandler creates the session route handler.
func NewSessionHandler(svc Service, languages *language.Registry) *SessionHandler {
	return &SessionHandler{svc: svc, languages: languages}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/languages", h.Languages)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/stats", h.Stats)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/execute", h.Execute)
				r.Post("/reset", h.Reset)
				r.Delete("/", h.DeleteSession)
			})
		})
	})
}

type createSessionRequest struct {
	Language string `json:"language"`
}

type executeRequest struct {
	Code string `json:"code"`
}

// CreateSession allocates a session bound to a fresh container.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.svc.Create(r.Context(), req.Language)
	if err != nil {
		status := statusForError(err)
		slog.Error("Failed to create session", "language", req.Language, "error", err)
		Error(w, status, err.Error())
		return
	}

	JSON(w, http.StatusCreated, map[string]string{
		"session_id": id,
		"language":   req.Language,
	})
}

// Execute runs submitted code against the session's container.
func (h *SessionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		Error(w, http.StatusBadRequest, "code is required")
		return
	}

	rec, err := h.svc.Execute(r.Context(), sessionID, req.Code)
	if err != nil {
		slog.Error("Execution request failed", "session_id", sessionID, "error", err)
		Error(w, statusForError(err), err.Error())
		return
	}

	JSON(w, http.StatusOK, rec)
}

// GetSession returns a snapshot of the session state.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := h.svc.Get(r.Context(), sessionID)
	if err != nil {
		Error(w, statusForError(err), err.Error())
		return
	}

	JSON(w, http.StatusOK, snap)
}

// Reset rebinds the session to a fresh container and clears its history.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.svc.Reset(r.Context(), sessionID); err != nil {
		slog.Error("Reset request failed", "session_id", sessionID, "error", err)
		Error(w, statusForError(err), err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": sessionID})
}

// DeleteSession tears down the session. Always succeeds outwardly.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.svc.Delete(r.Context(), sessionID); err != nil {
		// Delete is idempotent by contract; log and report success anyway.
		slog.Warn("Delete returned error", "session_id", sessionID, "error", err)
	}

	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Stats returns the on-demand registry aggregate.
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.svc.Stats())
}

// Languages lists the supported language ids.
func (h *SessionHandler) Languages(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string][]string{"languages": h.languages.IDs()})
}

// statusForError maps the session error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidSessionID),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionExpired):
		return http.StatusNotFound
	case errors.Is(err, session.ErrExecution):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionCreation):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
