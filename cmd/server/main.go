// GuardianShield - real-time fraud risk scoring for UPI payments
package main

import (
	"context"
	"os"

	"github.com/mbd888/guardianshield/internal/config"
	"github.com/mbd888/guardianshield/internal/logging"
	"github.com/mbd888/guardianshield/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logger, sync := logging.New(config.DefaultLogLevel, "text")
		logger.Error("failed to load config", "error", err)
		_ = sync()
		return 1
	}

	logger, sync := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = sync() }()

	logger.Info("starting guardianshield",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"thresholds", []int{cfg.CautionThreshold, cfg.ChallengeThreshold, cfg.BlockThreshold},
		"persistent", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return 1
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		return 1
	}
	return 0
}
