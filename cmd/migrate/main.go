package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/db"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/app/migrate"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/config"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	log := logger.New("migrate", slog.LevelInfo)
	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Error("failed to read env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadPanelConfig()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, db.Migrations(), log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runner.Status(ctx); err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
