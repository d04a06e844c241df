// CartPulse - Checkout analytics and abandonment prediction for e-commerce
package main

import (
	"context"
	"os"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/logging"
	"github.com/cartpulse/cartpulse/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the config says otherwise.
	logger := logging.New("info", "text")

	logger.Info("starting cartpulse",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.Env == "production" {
		format = "json"
	}
	logger = logging.New(cfg.LogLevel, format)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"port", cfg.Port,
		"billing", cfg.BillingEnabled(),
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
