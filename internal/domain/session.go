// Package domain holds the core types for sandboxed execution sessions.
package domain

import (
	"time"
)

// HistoryLimit caps the number of execution records retained per session.
// Insertion past the cap evicts the oldest record first.
const HistoryLimit = 100

// ExecutionRecord is an immutable log entry for one code submission.
type ExecutionRecord struct {
	ID         string        `json:"id"`
	Code       string        `json:"code"`
	Output     string        `json:"output"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// Session binds a learner's REPL to one running sandbox container.
// All mutation goes through the session registry; the registry hands
// callers snapshots, never live references.
type Session struct {
	ID           string
	Language     string
	ContainerID  string
	CreatedAt    time.Time
	LastActivity time.Time
	History      []ExecutionRecord
	Variables    map[string]string
	ExecCount    int
}

// AppendRecord adds a record to the session history, evicting the
// oldest entry once HistoryLimit is reached.
func (s *Session) AppendRecord(rec ExecutionRecord) {
	s.History = append(s.History, rec)
	if len(s.History) > HistoryLimit {
		s.History = s.History[len(s.History)-HistoryLimit:]
	}
	s.ExecCount++
}

// Touch bumps the last-activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > ttl
}

// MergeVariables folds captured variable assignments into the advisory
// variable snapshot. Later captures win.
func (s *Session) MergeVariables(vars map[string]string) {
	if len(vars) == 0 {
		return
	}
	if s.Variables == nil {
		s.Variables = make(map[string]string, len(vars))
	}
	for k, v := range vars {
		s.Variables[k] = v
	}
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() SessionSnapshot {
	history := make([]ExecutionRecord, len(s.History))
	copy(history, s.History)

	vars := make(map[string]string, len(s.Variables))
	for k, v := range s.Variables {
		vars[k] = v
	}

	return SessionSnapshot{
		ID:           s.ID,
		Language:     s.Language,
		ContainerID:  s.ContainerID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		History:      history,
		Variables:    vars,
		ExecCount:    s.ExecCount,
	}
}

// SessionSnapshot is a caller-facing copy of session state.
type SessionSnapshot struct {
	ID           string            `json:"session_id"`
	Language     string            `json:"language"`
	ContainerID  string            `json:"container_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	History      []ExecutionRecord `json:"history"`
	Variables    map[string]string `json:"variables,omitempty"`
	ExecCount    int               `json:"exec_count"`
}

// Stats is a read-only aggregate over the live registry.
type Stats struct {
	TotalSessions     int            `json:"total_sessions"`
	ActiveSessions    int            `json:"active_sessions"`
	LanguageBreakdown map[string]int `json:"language_breakdown"`
	AverageAgeMs      int64          `json:"average_age_ms"`
	TotalExecutions   int            `json:"total_executions"`
}
