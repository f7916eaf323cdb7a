package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/mail-trust/internal/api"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/di"
	"github.com/mikey/mail-trust/internal/ports"
	"github.com/mikey/mail-trust/internal/rules"
	"github.com/mikey/mail-trust/internal/scheduler"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Build the dependency injection container
	container, err := di.BuildContainer(*configFile)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

type deps struct {
	dig.In

	Config    *config.Config
	Logger    *zap.Logger
	Store     core.Store
	Queue     *scheduler.Queue
	Scheduler *scheduler.Scheduler
	Rules     *rules.Engine
	API       *api.Server
	Filter    ports.EmailFilter
}

// run is the main application function that gets all dependencies injected
func run(d deps) error {
	logger := d.Logger
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if owner := d.Config.GetServer().UserID; owner != "" {
		if err := d.Rules.EnsureDefaults(ctx, owner); err != nil {
			logger.Warn("Failed to seed default rules", zap.String("user_id", owner), zap.Error(err))
		}
	}

	d.Queue.Start()
	d.Scheduler.Start(ctx)

	var httpServer *http.Server
	if apiCfg := d.Config.GetAPI(); apiCfg.Enabled {
		httpServer = &http.Server{
			Addr:              apiCfg.ListenAddress,
			Handler:           d.API.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("API listening", zap.String("address", apiCfg.ListenAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("API server error", zap.Error(err))
			}
		}()
	}

	if d.Filter != nil {
		if err := d.Filter.Start(); err != nil {
			logger.Error("Failed to start filter", zap.Error(err))
			return err
		}
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	if d.Filter != nil {
		if err := d.Filter.Stop(); err != nil {
			logger.Error("Failed to stop filter", zap.Error(err))
		}
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop API server", zap.Error(err))
		}
		shutdownCancel()
	}

	cancel()
	d.Scheduler.Stop()
	d.Queue.Stop()

	if err := d.Store.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
