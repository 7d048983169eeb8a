package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapejobs/internal/config"
	"github.com/JakeFAU/scrapejobs/internal/logging"
	"github.com/JakeFAU/scrapejobs/internal/storage/postgres/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := migrationSetup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return migrations.Up(cfg.Database.DSN, logger)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := migrationSetup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return migrations.Down(cfg.Database.DSN, steps, logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 rolls back all)")
	cmd.AddCommand(down)

	return cmd
}

func migrationSetup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return config.Config{}, nil, err
	}
	if cfg.Database.DSN == "" {
		return config.Config{}, nil, errors.New("database.dsn is required to run migrations")
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger.Named("migrate"), nil
}
