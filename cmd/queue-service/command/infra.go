package command

import (
	"context"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lucyheather39-png/que-management/internal/config"
	"github.com/lucyheather39-png/que-management/internal/events"
	"github.com/lucyheather39-png/que-management/internal/httpapi"
	"github.com/lucyheather39-png/que-management/internal/queue"
	"github.com/lucyheather39-png/que-management/internal/store/postgres"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.LogFormat, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DB_DSN is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgresql")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgresql")
	}
	return pool, nil
}

// redisBackends holds the optional redis-backed collaborators. Both fall back
// to in-process implementations when REDIS_URL is empty.
type redisBackends struct {
	publisher events.Publisher
	bucket    httpapi.Bucket
	close     func()
}

func newRedisBackends(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (redisBackends, error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, queue events disabled and rate limits kept in process")
		return redisBackends{publisher: events.NopPublisher{}, close: func() {}}, nil
	}
	client, err := events.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return redisBackends{}, errors.Wrap(err, "connect to redis")
	}
	return redisBackends{
		publisher: events.NewRedisPublisher(client),
		bucket: httpapi.NewRedisBucket(client, httpapi.RateLimitConfig{
			PerMinute: cfg.RateLimitPerMinute,
			Burst:     cfg.RateLimitBurst,
		}),
		close: func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("close redis client")
			}
		},
	}, nil
}

func newLedger(pool *pgxpool.Pool, cfg config.Config, logger logrus.FieldLogger, opts ...queue.Option) *queue.Ledger {
	base := []queue.Option{
		queue.WithLogger(logger),
		queue.WithLocation(cfg.Location),
		queue.WithMaxRetries(cfg.MaxAdmitRetries),
		queue.WithBoardSize(cfg.WalkinBoardSize),
	}
	return queue.New(postgres.NewStore(pool), append(base, opts...)...)
}
