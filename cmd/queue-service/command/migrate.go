package command

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lucyheather39-png/que-management/internal/config"
	"github.com/lucyheather39-png/que-management/internal/store/postgres"
)

type MigrateCommand struct {
	Logger *logrus.Logger
}

func (cmd MigrateCommand) Command(ctx context.Context, cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "apply or roll back database migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(_ *cobra.Command, args []string) error {
			return cmd.main(ctx, cfg, args[0])
		},
	}
}

func (cmd MigrateCommand) main(ctx context.Context, cfg config.Config, direction string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DB_DSN is required")
	}
	log := cmd.Logger.WithContext(ctx).WithField("direction", direction)

	switch direction {
	case "up":
		if err := postgres.MigrateUp(cfg.DatabaseURL); err != nil {
			return err
		}
	case "down":
		if err := postgres.MigrateDown(cfg.DatabaseURL); err != nil {
			return err
		}
	default:
		return errors.Errorf("migration command : %s is not supported", direction)
	}
	log.Info("migrations applied")
	return nil
}
