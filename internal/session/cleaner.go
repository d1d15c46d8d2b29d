package session

import (
	"context"
	"log/slog"
	"time"
)

// StartCleanupWorker runs a background goroutine that periodically evicts
// idle sessions and sweeps orphaned containers. It stops when ctx is
// cancelled; it is the only component that evicts sessions purely because
// time passed.
func StartCleanupWorker(ctx context.Context, reg *Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Cleanup worker started", "interval", interval, "session_ttl", reg.ttl)

		for {
			select {
			case <-ticker.C:
				if evicted := reg.CleanupExpired(ctx); evicted > 0 {
					slog.Info("Cleanup sweep completed", "evicted", evicted)
				}
			case <-ctx.Done():
				slog.Info("Cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
