// Cluehunt - timed clue quiz server
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

	"github.com/joho/godotenv"

	"github.com/ashureev/cluehunt/internal/activity"
	"github.com/ashureev/cluehunt/internal/api"
	"github.com/ashureev/cluehunt/internal/config"
	"github.com/ashureev/cluehunt/internal/gradebook"
	"github.com/ashureev/cluehunt/internal/identity"
	"github.com/ashureev/cluehunt/internal/live"
	"github.com/ashureev/cluehunt/internal/middleware"
	"github.com/ashureev/cluehunt/internal/store"
	"github.com/ashureev/cluehunt/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "dev_sessions", cfg.DevSessionsEnabled(), "db_driver", cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL, store.RetryPolicy{
		MaxRetries: cfg.Retry.DatabaseMaxRetries,
		BaseDelay:  cfg.Retry.DatabaseRetryBaseDelay,
	})
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var grades gradebook.Recorder = gradebook.LogRecorder{Logger: logger}
	if cfg.Gradebook.Addr != "" {
		slog.Info("Connecting to grade book via gRPC", "address", cfg.Gradebook.Addr)
		clientCfg := gradebook.DefaultClientConfig(cfg.Gradebook.Addr)
		clientCfg.RequestTimeout = cfg.Gradebook.Timeout
		client, err := gradebook.NewGRPCClient(clientCfg, logger)
		if err != nil {
			slog.Warn("Failed to connect to grade book, grades will only be logged", "error", err)
		} else {
			defer client.Close()
			grades = client
		}
	} else {
		slog.Info("Grade book disabled (GRADEBOOK_ADDR not set), grades will only be logged")
	}

	// Initialize services.
	svc := activity.NewService(repo, grades, activity.Options{
		Cooldown: cfg.AttemptCooldown,
		Logger:   logger,
	})
	issuer := identity.NewIssuer(cfg.JWTSecret, cfg.SessionTTL)
	registry := live.NewRegistry()

	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = middleware.ParseOrigins(cfg.FrontendURL)
	}

	r := api.NewRouter(api.RouterConfig{
		Repo:           repo,
		Service:        svc,
		Issuer:         issuer,
		AllowedOrigins: origins,
		IsDev:          cfg.IsDevelopment(),
		DevSessions:    cfg.DevSessionsEnabled(),
		HealthTimeout:  cfg.Timeout.HealthCheck,
		Live:           live.NewHandler(svc, registry, cfg.RevealTick, origins, cfg.IsDevelopment()),
		Streams:        registry,
		Static:         web.SPAHandler(),
		RequestLogging: cfg.RequestLog,
	})

	// Reveal streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	srv.RegisterOnShutdown(registry.CloseAll)

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
