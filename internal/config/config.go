package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	ServiceName        string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	Location           *time.Location
	MaxAdmitRetries    int
	RateLimitPerMinute int
	RateLimitBurst     int
	WalkinBoardSize    int
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration
}

// Load reads the environment, after merging an optional .env file from the
// working directory.
func Load() (Config, error) {
	_ = godotenv.Load()

	location, err := time.LoadLocation(readString("TIMEZONE", "Asia/Manila"))
	if err != nil {
		return Config{}, errors.Wrap(err, "config: TIMEZONE")
	}

	cfg := Config{
		ServiceName:        readString("SERVICE_NAME", "queue-service"),
		Port:               readString("PORT", "8080"),
		DatabaseURL:        os.Getenv("DB_DSN"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		Location:           location,
		MaxAdmitRetries:    readInt("MAX_ADMIT_RETRIES", 3),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		WalkinBoardSize:    readInt("WALKIN_BOARD_SIZE", 20),
		LogLevel:           readString("LOG_LEVEL", "info"),
		LogFormat:          readString("LOG_FORMAT", "json"),
		ShutdownTimeout:    readDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
	}
	if cfg.MaxAdmitRetries < 1 {
		cfg.MaxAdmitRetries = 1
	}
	return cfg, nil
}

// Validate checks the settings the HTTP server cannot run without.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DB_DSN is required")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 bytes")
	}
	return nil
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
