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

	"go.uber.org/zap"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/config"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/di"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer cleanup()
	logger := container.Logger

	shutdownTracing, err := observability.InitTracing(ctx,
		observability.TracingConfig(cfg.Observability.Tracing),
		cfg.ServiceName, cfg.Version, string(cfg.Environment))
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	if _, err := container.Store.EnsureStartNode(ctx, cfg.Graph.StartText); err != nil {
		logger.Fatal("Failed to ensure start node", zap.Error(err))
	}

	container.Cache.StartJanitor(ctx, cfg.Cache.JanitorInterval)
	if cfg.Sessions.SweepInterval > 0 {
		go container.Sweeper.Run(ctx, cfg.Sessions.SweepInterval, cfg.Sessions.AbandonAfter)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		watcher, err := config.NewWatcher(path, cfg, logger)
		if err != nil {
			logger.Warn("Configuration hot reloading disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
			watcher.OnChange(func(next *config.Config) {
				container.Cache.Reconfigure(di.CacheConfig(next))
			})
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      container.Router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("address", srv.Addr),
			zap.String("environment", string(cfg.Environment)),
			zap.String("backend", cfg.Storage.Backend),
			zap.Strings("config", cfg.LoadedFrom))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown error", zap.Error(err))
	}

	_ = logger.Sync()
	log.Println("Server stopped")
}
