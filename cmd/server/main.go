package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "vatpilot/internal/adapters/web"
	"vatpilot/internal/app"
	"vatpilot/internal/config"
	"vatpilot/internal/db"
	"vatpilot/internal/logger"
	"vatpilot/internal/telemetry"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			zl.Fatal("migrations", zap.Error(err))
		}
	}

	metrics := telemetry.New("vatpilot")
	svc, err := app.NewFromConfig(cfg, pool, metrics, zl)
	if err != nil {
		zl.Fatal("wiring", zap.Error(err))
	}

	handler := webAdapter.NewHandler(svc, webAdapter.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         zl.Named("http"),
		Metrics:        metrics,
		Ping:           pool.Ping,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
}
