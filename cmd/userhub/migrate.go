package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/userhub/userhub/internal/config"
)

var migrationsPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Apply database migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		return runMigrate(direction)
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsPath, "path", "migrations", "directory containing migration files")
}

func runMigrate(direction string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Database.Type != "postgres" {
		return fmt.Errorf("migrations require database.type=postgres, got %q", cfg.Database.Type)
	}

	m, err := migrate.New("file://"+migrationsPath, cfg.Database.Postgres.ConnString())
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	default:
		return fmt.Errorf("unknown direction %q, want up or down", direction)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("migrations already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("migrations applied", "direction", direction)
	return nil
}
