package command

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lucyheather39-png/que-management/internal/config"
	"github.com/lucyheather39-png/que-management/internal/httpapi"
	"github.com/lucyheather39-png/que-management/internal/metrics"
	"github.com/lucyheather39-png/que-management/internal/queue"
	"github.com/lucyheather39-png/que-management/internal/telemetry"
)

type ServeCommand struct {
	Logger *logrus.Logger
}

func (cmd ServeCommand) Command(ctx context.Context, cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the queue HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.main(ctx, cfg)
		},
	}
}

func (cmd ServeCommand) main(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing := telemetry.Setup(cfg.ServiceName, cmd.Logger)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			cmd.Logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	backends, err := newRedisBackends(ctx, cfg, cmd.Logger)
	if err != nil {
		return err
	}
	defer backends.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledger := newLedger(pool, cfg, cmd.Logger,
		queue.WithMetrics(metrics.New(registry)),
		queue.WithPublisher(backends.publisher),
	)
	handler := httpapi.NewHandler(ledger, httpapi.NewTokenVerifier(cfg.JWTSecret), httpapi.Options{
		Logger: cmd.Logger,
		RateLimit: httpapi.RateLimitConfig{
			PerMinute: cfg.RateLimitPerMinute,
			Burst:     cfg.RateLimitBurst,
		},
		RateLimitBucket: backends.bucket,
		Metrics:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler.Routes(), cfg.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cmd.Logger.WithField("addr", server.Addr).Info("queue-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		cmd.Logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
