package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	coreconfig "quotabot/core/config"
	"quotabot/core/buildinfo"
	"quotabot/core/database"
	"quotabot/core/logger"
	"quotabot/internal/app"

	"log/slog"
)

const defaultConfigPath = "config.yml"

func main() {
	if err := run(); err != nil {
		log.Fatalf("quotabot: %v", err)
	}
}

func run() error {
	// Local development convenience; a missing .env file is not an error.
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg); err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	startedAt := time.Now()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info(ctx, "app", "starting",
		slog.String("version", buildinfo.Version),
		slog.String("commit", buildinfo.Commit),
	)

	if err := database.RunMigrations(cfg.Database); err != nil {
		return err
	}
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	application := app.New(cfg, db)

	logger.Info(ctx, "app", "ready",
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)
	return application.Run(ctx)
}
