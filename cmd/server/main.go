// KentSMS - Credit-gated bulk SMS dispatch over the CepSMS gateway
package main

import (
	"context"
	"os"

	"github.com/kilicc/kentsms-sub000/internal/config"
	"github.com/kilicc/kentsms-sub000/internal/logging"
	"github.com/kilicc/kentsms-sub000/internal/server"
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

	logger.Info("starting kentsms",
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
		"gateway_url", cfg.CepSMSBaseURL,
		"concurrent_limit", cfg.ConcurrentLimit,
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
