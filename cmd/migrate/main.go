package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/odyssey-erp/ledger-core/internal/app"
	"github.com/odyssey-erp/ledger-core/internal/platform/db"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping migrations")
		return
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	steps := fs.Int("steps", 0, "apply n migrations; negative rolls back")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	direction := "up"
	if fs.NArg() > 0 {
		direction = fs.Arg(0)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	migrator, err := db.NewMigrator(cfg.PGDSN, logger)
	if err != nil {
		logger.Error("init migrator", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Warn("close migrator", slog.Any("error", err))
		}
	}()

	switch {
	case *steps != 0:
		err = migrator.Steps(*steps)
	case direction == "up":
		err = migrator.Up()
	case direction == "down":
		err = migrator.Down()
	default:
		fmt.Fprintf(os.Stderr, "usage: migrate [-steps n] [up|down]\n")
		return 2
	}
	if err != nil {
		logger.Error("migrate", slog.String("direction", direction), slog.Any("error", err))
		return 1
	}
	return 0
}
