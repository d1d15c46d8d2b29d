// Package store provides the execution audit log. Sessions themselves are
// ephemeral and live only in the registry; the audit log is an append-only
// record of what ran, kept for observability across process restarts.
package store

import (
	"context"
	"time"
)

// ExecutionEntry is one audited code submission.
type ExecutionEntry struct {
	SessionID  string
	Language   string
	CodeSize   int
	Duration   time.Duration
	Failed     bool
	ExecutedAt time.Time
}

// AuditLog records executions and answers recent-activity queries.
type AuditLog interface {
	// RecordExecution appends one execution to the log.
	RecordExecution(ctx context.Context, entry ExecutionEntry) error

	// RecentExecutions returns up to limit entries, most recent first.
	RecentExecutions(ctx context.Context, limit int) ([]ExecutionEntry, error)

	// CountExecutions returns the total number of audited executions.
	CountExecutions(ctx context.Context) (int64, error)

	// Ping verifies the log is reachable.
	Ping(ctx context.Context) error

	// Close closes the underlying database.
	Close() error
}
