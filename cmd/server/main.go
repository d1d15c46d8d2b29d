// replbox - sandboxed code execution session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/replbox/replbox/internal/api"
	"github.com/replbox/replbox/internal/config"
	"github.com/replbox/replbox/internal/language"
	"github.com/replbox/replbox/internal/middleware"
	"github.com/replbox/replbox/internal/pipeline"
	"github.com/replbox/replbox/internal/runtime"
	"github.com/replbox/replbox/internal/sanitize"
	"github.com/replbox/replbox/internal/session"
	"github.com/replbox/replbox/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"session_ttl", cfg.SessionTTL,
		"exec_timeout", cfg.ExecTimeout,
	)

	// Initialize dependencies.
	audit, err := store.NewSQLite(cfg.AuditDBPath)
	if err != nil {
		slog.Error("Failed to initialize audit log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := audit.Close(); closeErr != nil {
			slog.Error("Failed to close audit log", "error", closeErr)
		}
	}()

	if err := audit.Ping(context.Background()); err != nil {
		slog.Error("Audit log health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Audit log connected", "path", cfg.AuditDBPath)

	rt, err := runtime.NewDocker()
	if err != nil {
		slog.Error("Failed to initialize container runtime", "error", err)
		os.Exit(1)
	}

	sanitizer, err := sanitize.Load(cfg.SanitizeRulesPath)
	if err != nil {
		slog.Error("Failed to load sanitize rules", "error", err)
		os.Exit(1)
	}

	languages := language.NewRegistry()
	pipe := pipeline.New(sanitizer, rt)
	registry := session.NewRegistry(languages, rt, pipe, audit, cfg.SessionTTL, cfg.ExecTimeout)

	// Reclaim containers left behind by a previous process before taking
	// traffic; their sessions did not survive the restart.
	if swept := rt.CleanupContainers(context.Background(), 0); swept > 0 {
		slog.Info("Reclaimed containers from previous run", "count", swept)
	}

	// Initialize handlers.
	sessionHandler := api.NewSessionHandler(registry, languages)
	healthHandler := api.NewHealthHandler(audit, func(ctx context.Context) error {
		_, pingErr := rt.Client().Ping(ctx)
		return pingErr
	})
	replHandler := api.NewReplHandler(registry)
	activityHandler := api.NewActivityHandler(audit)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	activityHandler.RegisterRoutes(r)
	r.Get("/ws/repl", replHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ExecTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start cleanup worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartCleanupWorker(ctx, registry, cfg.CleanupInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
