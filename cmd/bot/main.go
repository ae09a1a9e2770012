package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lp-hedge-bot/internal/app"
	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/logging"

	"go.uber.org/zap"
)

// exitSafeMode tells the supervisor not to restart the bot.
const exitSafeMode = 3

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional env file with secrets")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized")

	err = application.Run(ctx)
	if closeErr := application.Close(); closeErr != nil {
		log.Warn("shutdown", zap.Error(closeErr))
	}
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("stopped")
	case errors.Is(err, app.ErrSafeMode):
		log.Error("safe mode, manual review required", zap.Error(err))
		_ = log.Sync()
		os.Exit(exitSafeMode)
	default:
		log.Error("app terminated", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
