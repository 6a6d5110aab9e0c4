// Command arbwatch polls exchange order books, reports cross-exchange spreads
// that clear the configured fees and thresholds, and serves the results over
// HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"arbwatch/internal/app"
	"arbwatch/internal/config"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		logger.Error("Cannot load config", "path", *configDir, "error", err)
		os.Exit(1)
	}
	if err := config.NewFileOverrides(cfg.OverridesPath).Apply(&cfg); err != nil {
		logger.Error("Cannot apply config overrides", "path", cfg.OverridesPath, "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	err = a.Run(ctx)
	a.Close()
	if err != nil {
		logger.Error("Arbwatch exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Arbwatch stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
