package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr        string `env:"COURT_ADDR" envDefault:":8787"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://./data/court.db"`
	Migrate     bool   `env:"COURT_MIGRATE" envDefault:"true"`
	// Redis is optional; without it the replay cache and fan-out stay in
	// process.
	RedisURL     string `env:"REDIS_URL"`
	JWTSecret    string `env:"COURT_JWT_SECRET" envDefault:"court-dev-secret"`
	AuthDisabled bool   `env:"COURT_AUTH_DISABLED" envDefault:"false"`
	CORSOrigin   string `env:"COURT_CORS_ORIGIN" envDefault:"*"`

	AddendumLimit int `env:"COURT_ADDENDUM_LIMIT" envDefault:"2"`

	VerdictProvider string        `env:"COURT_VERDICT_PROVIDER" envDefault:"static"`
	VerdictURL      string        `env:"COURT_VERDICT_URL"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	GeminiModel     string        `env:"COURT_GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	VerdictTimeout  time.Duration `env:"COURT_VERDICT_TIMEOUT" envDefault:"90s"`

	ReplayTTL  time.Duration `env:"COURT_REPLAY_TTL" envDefault:"10m"`
	ArchiveDir string        `env:"COURT_ARCHIVE_DIR"`

	LogLevel  string `env:"COURT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"COURT_LOG_FORMAT" envDefault:"json"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.AddendumLimit < 0 {
		return errors.New("COURT_ADDENDUM_LIMIT must not be negative")
	}
	if c.VerdictTimeout <= 0 {
		return errors.New("COURT_VERDICT_TIMEOUT must be positive")
	}
	switch strings.ToLower(c.VerdictProvider) {
	case "static":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini verdict provider")
		}
	case "http":
		if c.VerdictURL == "" {
			return errors.New("COURT_VERDICT_URL is required for the http verdict provider")
		}
	default:
		return fmt.Errorf("unknown COURT_VERDICT_PROVIDER %q", c.VerdictProvider)
	}
	if !c.AuthDisabled && c.JWTSecret == "" {
		return errors.New("COURT_JWT_SECRET is required unless COURT_AUTH_DISABLED is set")
	}
	return nil
}
