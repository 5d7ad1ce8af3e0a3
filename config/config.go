/*
config.go - Server configuration

PURPOSE:
  Loads server settings from the environment, optionally seeded from
  .env / .env.local files. Command-line flags in cmd/server override the
  port and database path.

VARIABLES:
  PORT                    HTTP port (default 8080)
  DB_PATH                 SQLite path, ":memory:" for ephemeral (default allocation.db)
  LOG_LEVEL               silent|error|warn|info|debug (default info)
  LOG_FORMAT              text|json (default text)
  RECONCILE_ATTEMPTS      Post-commit re-read attempts (default 3)
  RECONCILE_DELAY         Delay between attempts (default 1s)
  RECONCILE_EXPONENTIAL   Double the delay on each attempt (default false)
  RECONCILE_MAX_DELAY     Cap for exponential delay (default 10s)
  REFRESH_INTERVAL        Aggregate refresh period, 0 disables (default 2s)
  CORS_ORIGINS            Comma-separated allowed origins
*/
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/warp/allocation-engine/allocation"
)

// Config holds every tunable of the server process.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"allocation.db"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	ReconcileAttempts    int           `env:"RECONCILE_ATTEMPTS" envDefault:"3"`
	ReconcileDelay       time.Duration `env:"RECONCILE_DELAY" envDefault:"1s"`
	ReconcileExponential bool          `env:"RECONCILE_EXPONENTIAL" envDefault:"false"`
	ReconcileMaxDelay    time.Duration `env:"RECONCILE_MAX_DELAY" envDefault:"10s"`

	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"2s"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:8080"`
}

// Load reads any of envFiles that exist into the process environment, then
// parses Config from it. Variables already set win over file values.
func Load(envFiles ...string) (*Config, error) {
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	} else if len(envFiles) > 0 {
		log.Printf("No .env files found, tried %v", envFiles)
	}

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.ReconcileAttempts < 1 {
		return fmt.Errorf("RECONCILE_ATTEMPTS must be >= 1, got %d", c.ReconcileAttempts)
	}
	if c.ReconcileDelay < 0 || c.RefreshInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// RetryPolicy is the reconciliation policy described by the config.
func (c *Config) RetryPolicy() allocation.RetryPolicy {
	return allocation.RetryPolicy{
		MaxAttempts: c.ReconcileAttempts,
		Delay:       c.ReconcileDelay,
		Exponential: c.ReconcileExponential,
		MaxDelay:    c.ReconcileMaxDelay,
	}
}

// LogrusLevel maps LOG_LEVEL onto a logrus level. Unknown values fall back
// to info.
func (c *Config) LogrusLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger builds the process logger.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogrusLevel())
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
