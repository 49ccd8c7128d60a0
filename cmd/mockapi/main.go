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
	"github.com/gadgetcloud/portal/internal/mockapi"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping mock backend startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := mockapi.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))

	seed, err := mockapi.LoadSeed(cfg.SeedFile)
	if err != nil {
		logger.Error("load seed", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := mockapi.NewStore(seed)
	if err != nil {
		logger.Error("build store", slog.Any("error", err))
		os.Exit(1)
	}
	api := mockapi.NewServer(store, mockapi.NewTokens(cfg.TokenSecret, cfg.TokenTTL), logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(cfg.Prefix),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting mock backend",
			slog.String("addr", cfg.Addr),
			slog.String("prefix", cfg.Prefix),
			slog.Int("users", len(seed.Users)),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
