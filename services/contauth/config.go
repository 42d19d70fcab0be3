package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is parsed from environment variables.
type Config struct {
	Port          int    `env:"PORT" envDefault:"5002"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	TrustedCountries []string `env:"TRUSTED_COUNTRIES" envSeparator:"," envDefault:"AD,ES,FR,PT"`

	AnomalyThreshold float64 `env:"ANOMALY_THRESHOLD" envDefault:"30"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	StaleAfter    time.Duration `env:"STALE_AFTER" envDefault:"5m"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MIN" envDefault:"240"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
}

// LoadConfig parses environment variables into a Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.AnomalyThreshold <= 0 || cfg.AnomalyThreshold > 100 {
		return nil, fmt.Errorf("ANOMALY_THRESHOLD must be in (0,100], got %v", cfg.AnomalyThreshold)
	}
	return cfg, nil
}
