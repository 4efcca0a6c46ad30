package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	StoragePath    string
	StorageBaseURL string

	// LockTTL bounds one slot generation. It doubles as the generation
	// timeout: a processing slot older than this is stealable.
	LockTTL time.Duration
	// IdempotencyTTL is how long a (endpoint, key) record absorbs
	// retries before the key may be reused for a new request.
	IdempotencyTTL     time.Duration
	GenerationAttempts int
	GenerationBackoff  time.Duration
	// JoinPollInterval paces callers waiting on a lock or an in-flight
	// idempotent execution held by another worker.
	JoinPollInterval   time.Duration
	WorkerPollInterval time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		LockTTL:            time.Second * time.Duration(getEnvInt("GENERATION_LOCK_TTL_SECONDS", 120)),
		IdempotencyTTL:     time.Hour * time.Duration(getEnvInt("IDEMPOTENCY_TTL_HOURS", 24)),
		GenerationAttempts: getEnvInt("GENERATION_ATTEMPTS", 3),
		GenerationBackoff:  time.Millisecond * time.Duration(getEnvInt("GENERATION_BACKOFF_MS", 2000)),
		JoinPollInterval:   time.Millisecond * time.Duration(getEnvInt("JOIN_POLL_INTERVAL_MS", 250)),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 5)),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GenerationAttempts < 1 {
		return nil, fmt.Errorf("GENERATION_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
