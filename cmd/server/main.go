// Bouwdepot - Invoice validation for construction fund escrow
package main

import (
	"context"
	"os"
	"time"

	"github.com/mvdveen/bouwdepot/internal/config"
	"github.com/mvdveen/bouwdepot/internal/logging"
	"github.com/mvdveen/bouwdepot/internal/server"
	"github.com/mvdveen/bouwdepot/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting bouwdepot",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"profiling_enabled", cfg.ProfilingEnabled,
		"oracle_configured", cfg.OracleURL != "",
	)

	ctx := context.Background()

	// Tracing is optional, a missing collector is not fatal
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else if shutdownTraces != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTraces(shutdownCtx); err != nil {
				logger.Error("trace shutdown error", "error", err)
			}
		}()
	}

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
