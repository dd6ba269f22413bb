package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lucyheather39-png/que-management/cmd/queue-service/command"
	"github.com/lucyheather39-png/que-management/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "queue-service",
		Short:         "Municipal queue admission service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithContext(ctx).Fatal(err)
	}
	logger := command.NewLogger(cfg)

	root.AddCommand(
		command.ServeCommand{Logger: logger}.Command(ctx, cfg),
		command.MigrateCommand{Logger: logger}.Command(ctx, cfg),
		command.SeedCommand{Logger: logger}.Command(ctx, cfg),
		command.VerifyCommand{Logger: logger}.Command(ctx, cfg),
		command.TokenCommand{}.Command(cfg),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		logger.WithContext(ctx).Fatalf("queue-service: %v", err)
	}
}
