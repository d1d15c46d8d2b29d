// Package api provides HTTP handlers for the replbox API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/replbox/replbox/internal/domain"
)

// Service is the session engine surface the route layer depends on.
type Service interface {
	Create(ctx context.Context, languageID string) (string, error)
	Execute(ctx context.Context, id, code string) (domain.ExecutionRecord, error)
	Get(ctx context.Context, id string) (domain.SessionSnapshot, error)
	Reset(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Stats() domain.Stats
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
