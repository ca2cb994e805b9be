// Riskcore - risk-signal aggregation and enforcement core for the Lumely platform
package main

import (
	"context"
	"os"

	"github.com/lumely/riskcore/internal/config"
	"github.com/lumely/riskcore/internal/logging"
	"github.com/lumely/riskcore/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info("starting riskcore",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"default_region", cfg.DefaultRegion,
		"lookback_days", cfg.ScoreLookbackDays,
		"retention_days", cfg.RetentionDays,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
