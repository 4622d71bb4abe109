// InnerView - AI-assisted handwriting analysis workflow server
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

	"github.com/gavrielSorek/innerview-server/internal/api"
	"github.com/gavrielSorek/innerview-server/internal/config"
	"github.com/gavrielSorek/innerview-server/internal/events"
	"github.com/gavrielSorek/innerview-server/internal/gateway"
	"github.com/gavrielSorek/innerview-server/internal/identity"
	"github.com/gavrielSorek/innerview-server/internal/laws"
	"github.com/gavrielSorek/innerview-server/internal/middleware"
	"github.com/gavrielSorek/innerview-server/internal/store"
	"github.com/gavrielSorek/innerview-server/internal/workflow"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Law catalog: embedded defaults, optional on-disk override.
	var registry *laws.Registry
	if cfg.LawsPath != "" {
		registry, err = laws.LoadFile(cfg.LawsPath)
	} else {
		registry, err = laws.Default()
	}
	if err != nil {
		slog.Error("Failed to load law catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Law catalog loaded", "laws", len(registry.All()))

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Analysis agent gRPC client. Connection is lazy; probe it at startup so
	// a bad endpoint shows up in the logs immediately.
	analyzer, err := gateway.NewGrpcClient(cfg.AnalysisAgentAddr, logger)
	if err != nil {
		slog.Error("Failed to initialize analysis agent client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := analyzer.Close(); closeErr != nil {
			slog.Error("Failed to close analysis agent client", "error", closeErr)
		}
	}()

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := analyzer.WaitReady(probeCtx); err != nil {
		slog.Warn("Analysis agent not reachable yet, rounds will fail until it is",
			"address", cfg.AnalysisAgentAddr, "error", err)
	} else {
		slog.Info("Analysis agent connected", "address", cfg.AnalysisAgentAddr)
	}
	probeCancel()

	// Initialize services.
	hub := events.NewHub()
	wf := workflow.NewService(repo, analyzer, registry, hub, cfg.GatewayTimeout)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, wf)
	sessionHandler := api.NewSessionHandler(baseHandler)
	clientHandler := api.NewClientHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := events.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	clientHandler.RegisterRoutes(r)

	// WebSocket endpoint for live round-lifecycle events.
	r.Get("/ws/sessions", wsHandler.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 30*time.Second, // round processing awaits the agent
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
