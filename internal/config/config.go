package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	PixProviderURL    string `env:"PIX_PROVIDER_URL"`
	TedProviderURL    string `env:"TED_PROVIDER_URL"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=8"`
	ConsumerPrefetch  int    `env:"CONSUMER_PREFETCH,default=10"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	SchedulerTimezone string `env:"SCHEDULER_TIMEZONE,default=UTC"`
	RetryMaxAttempts  int    `env:"RETRY_MAX_ATTEMPTS,default=4"`
	RetryMultiplier   int    `env:"RETRY_MULTIPLIER,default=2"`
	DBMaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int    `env:"DB_MAX_IDLE_CONNS,default=5"`

	SchedulerIntervalRaw string `env:"SCHEDULER_INTERVAL,default=1m"`
	RetryBaseDelayRaw    string `env:"RETRY_BASE_DELAY,default=2s"`
	ShutdownTimeoutRaw   string `env:"SHUTDOWN_TIMEOUT,default=10s"`

	SchedulerInterval time.Duration
	RetryBaseDelay    time.Duration
	ShutdownTimeout   time.Duration
	SchedulerLocation *time.Location
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SchedulerInterval, err = parsePositiveDuration("SCHEDULER_INTERVAL", cfg.SchedulerIntervalRaw); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = parsePositiveDuration("RETRY_BASE_DELAY", cfg.RetryBaseDelayRaw); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parsePositiveDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeoutRaw); err != nil {
		return nil, err
	}

	cfg.SchedulerLocation, err = time.LoadLocation(cfg.SchedulerTimezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: invalid SCHEDULER_TIMEZONE %q: %w", cfg.SchedulerTimezone, err)
	}

	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("failed to load config: WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("failed to load config: RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.RetryMultiplier < 1 {
		return nil, fmt.Errorf("failed to load config: RETRY_MULTIPLIER must be at least 1")
	}
	if cfg.DBMaxOpenConns < 1 {
		return nil, fmt.Errorf("failed to load config: DB_MAX_OPEN_CONNS must be at least 1")
	}

	return &cfg, nil
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to load config: invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("failed to load config: %s must be positive", name)
	}
	return d, nil
}
