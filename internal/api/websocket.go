package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/replbox/replbox/internal/session"
)

// ReplHandler serves an interactive REPL channel over WebSocket: one JSON
// message per submission, one reply per result, against an existing
// session. It shares the execute path with the HTTP route.
type ReplHandler struct {
	svc Service
}

// NewReplHandler creates the WebSocket REPL handler.
func NewReplHandler(svc Service) *ReplHandler {
	return &ReplHandler{svc: svc}
}

// replRequest is one inbound submission.
type replRequest struct {
	Code string `json:"code"`
}

// replReply is one outbound result or error.
type replReply struct {
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
}

// ServeHTTP upgrades the connection and loops until the client hangs up or
// the session becomes unusable.
func (h *ReplHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	slog.Info("REPL connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				slog.Debug("REPL connection closed", "session_id", sessionID)
			} else {
				slog.Debug("REPL read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var req replRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.reply(ctx, ws, sessionID, replReply{Error: "invalid message"})
			continue
		}

		rec, err := h.svc.Execute(ctx, sessionID, req.Code)
		if err != nil {
			h.reply(ctx, ws, sessionID, replReply{Error: err.Error()})
			// A gone session will never start working again on this channel.
			if errors.Is(err, session.ErrSessionNotFound) ||
				errors.Is(err, session.ErrSessionExpired) ||
				errors.Is(err, session.ErrInvalidSessionID) {
				return
			}
			continue
		}

		h.reply(ctx, ws, sessionID, replReply{
			Output:   rec.Output,
			Error:    rec.Error,
			Duration: rec.Duration.Milliseconds(),
		})
	}
}

func (h *ReplHandler) reply(ctx context.Context, ws *websocket.Conn, sessionID string, msg replReply) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Debug("Failed to marshal REPL reply", "error", err, "session_id", sessionID)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write REPL reply", "error", err, "session_id", sessionID)
	}
}
