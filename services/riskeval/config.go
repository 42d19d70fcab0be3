package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is parsed from environment variables.
type Config struct {
	Port        int    `env:"PORT" envDefault:"5004"`
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	GeoIPBaseURL     string `env:"GEOIP_URL" envDefault:"http://ip-api.com/json"`
	EmailFunctionURL string `env:"EMAIL_FUNCTION_URL"`
	JWTSecret        string `env:"JWT_SECRET"`

	TrustedCountries []string `env:"TRUSTED_COUNTRIES" envSeparator:"," envDefault:"AD,ES,FR,PT"`

	ChallengeTTL time.Duration `env:"CHALLENGE_TTL" envDefault:"10m"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
}

// LoadConfig parses environment variables into a Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ChallengeTTL <= 0 {
		return nil, fmt.Errorf("CHALLENGE_TTL must be positive, got %v", cfg.ChallengeTTL)
	}
	return cfg, nil
}
