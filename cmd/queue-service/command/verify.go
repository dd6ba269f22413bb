package command

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lucyheather39-png/que-management/internal/config"
)

// VerifyCommand recomputes every service's completion hash chain.
type VerifyCommand struct {
	Logger *logrus.Logger
}

func (cmd VerifyCommand) Command(ctx context.Context, cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-completions",
		Short: "check the completion log hash chains",
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.main(ctx, cfg)
		},
	}
}

func (cmd VerifyCommand) main(ctx context.Context, cfg config.Config) error {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	checked, broken, err := newLedger(pool, cfg, cmd.Logger).VerifyCompletions(ctx)
	if err != nil {
		return err
	}
	if len(broken) > 0 {
		return errors.Errorf("completion chain broken for services: %s", strings.Join(broken, ", "))
	}
	cmd.Logger.WithField("checked", checked).Info("completion chains intact")
	return nil
}
