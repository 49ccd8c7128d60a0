package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gadgetcloud/portal/internal/app"
	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/observability"
	"github.com/gadgetcloud/portal/internal/platform/cache"
	"github.com/gadgetcloud/portal/internal/portal"
	"github.com/gadgetcloud/portal/internal/shared"
	"github.com/gadgetcloud/portal/internal/view"
	"github.com/gadgetcloud/portal/internal/workspace"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	redisClient, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.BackendTimeout)
	if err := backendClient.Ping(pingCtx); err != nil {
		logger.Warn("backend ping", slog.String("url", backendClient.BaseURL()), slog.Any("error", err))
	}
	cancelPing()

	var workspaces *workspace.Registry
	metrics := observability.NewMetrics(func() int { return workspaces.Len() })
	workspaces = workspace.NewRegistry(workspace.Config{
		Backend:     backendClient,
		Redis:       redisClient,
		SnapshotTTL: cfg.SessionTTL,
		Size:        cfg.WorkspaceCacheSize,
		IdleTTL:     cfg.WorkspaceIdleTTL,
		LoadTimeout: cfg.PermissionLoadTimeout,
		Observer:    metrics,
		Logger:      logger,
	})

	portalHandler := portal.NewHandler(logger, templates, sessionManager, csrfManager, workspaces,
		portal.WithLoginRateLimit(cfg.LoginRateLimit),
	)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Workspaces:     workspaces,
		PortalHandler:  portalHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.BackendURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	workspaces.Wait()
}
