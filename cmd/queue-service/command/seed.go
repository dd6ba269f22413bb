package command

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lucyheather39-png/que-management/internal/config"
)

type SeedCommand struct {
	Logger *logrus.Logger
}

func (cmd SeedCommand) Command(ctx context.Context, cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "install the default municipal services",
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.main(ctx, cfg)
		},
	}
}

func (cmd SeedCommand) main(ctx context.Context, cfg config.Config) error {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	created, err := newLedger(pool, cfg, cmd.Logger).SeedDefaults(ctx)
	if err != nil {
		return err
	}
	cmd.Logger.WithField("created", created).Info("services seeded")
	return nil
}
