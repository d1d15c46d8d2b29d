package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/replbox/replbox/internal/shared"
)

const (
	writeRetryAttempts  = 3
	writeRetryBaseDelay = 50 * time.Millisecond
)

// SQLiteLog implements AuditLog using SQLite.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-backed audit log.
func NewSQLite(dbPath string) (*SQLiteLog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency between request writes and queries.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log := &SQLiteLog{db: db}
	if err := log.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return log, nil
}

func (s *SQLiteLog) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		language TEXT NOT NULL,
		code_size INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		executed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at);
	CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordExecution appends one execution, retrying briefly on SQLITE_BUSY.
func (s *SQLiteLog) RecordExecution(ctx context.Context, entry ExecutionEntry) error {
	query := `
	INSERT INTO executions (session_id, language, code_size, duration_ms, failed, executed_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	failed := 0
	if entry.Failed {
		failed = 1
	}

	var err error
	for i := 0; i < writeRetryAttempts; i++ {
		_, err = s.db.ExecContext(ctx, query,
			entry.SessionID, entry.Language, entry.CodeSize,
			entry.Duration.Milliseconds(), failed, entry.ExecutedAt.Unix(),
		)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == writeRetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(writeRetryBaseDelay * time.Duration(1<<i)):
		}
	}
	return fmt.Errorf("record execution for session %s: %w", entry.SessionID, err)
}

// RecentExecutions returns up to limit entries, most recent first.
func (s *SQLiteLog) RecentExecutions(ctx context.Context, limit int) ([]ExecutionEntry, error) {
	query := `
	SELECT session_id, language, code_size, duration_ms, failed, executed_at
	FROM executions ORDER BY executed_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent executions: %w", err)
	}
	defer rows.Close()

	var entries []ExecutionEntry
	for rows.Next() {
		var entry ExecutionEntry
		var durationMs, executedAt int64
		var failed int
		if err := rows.Scan(&entry.SessionID, &entry.Language, &entry.CodeSize, &durationMs, &failed, &executedAt); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entry.Failed = failed != 0
		entry.ExecutedAt = time.Unix(executedAt, 0)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return entries, nil
}

// CountExecutions returns the total number of audited executions.
func (s *SQLiteLog) CountExecutions(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return count, nil
}

// Ping verifies database connectivity.
func (s *SQLiteLog) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}
