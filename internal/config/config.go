package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr         string        `env:"ECHOBOARD_ADDR" envDefault:":8080"`
	DBPath       string        `env:"ECHOBOARD_DB" envDefault:"echoboard.db"`
	JWTSecret    string        `env:"ECHOBOARD_JWT_SECRET" envDefault:"dev-jwt-secret"`
	TokenTTL     time.Duration `env:"ECHOBOARD_TOKEN_TTL" envDefault:"24h"`
	CookieDomain string        `env:"ECHOBOARD_COOKIE_DOMAIN"`
	Production   bool          `env:"ECHOBOARD_PRODUCTION"`
	RateLimits   RateLimits

	Version   string `env:"-"`
	Commit    string `env:"-"`
	BuildTime string `env:"-"`
}

// RateLimits overrides the per-route-class admission limits. Zero disables a
// class entirely (never limited), so the defaults are applied after parsing.
type RateLimits struct {
	AuthLimit     int           `env:"ECHOBOARD_RL_AUTH_LIMIT" envDefault:"5"`
	AuthWindow    time.Duration `env:"ECHOBOARD_RL_AUTH_WINDOW" envDefault:"5m"`
	CreateLimit   int           `env:"ECHOBOARD_RL_CREATE_LIMIT" envDefault:"10"`
	CreateWindow  time.Duration `env:"ECHOBOARD_RL_CREATE_WINDOW" envDefault:"5m"`
	DefaultLimit  int           `env:"ECHOBOARD_RL_DEFAULT_LIMIT" envDefault:"100"`
	DefaultWindow time.Duration `env:"ECHOBOARD_RL_DEFAULT_WINDOW" envDefault:"15m"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
