// Package config defines the JSON-serializable configuration model for the
// import service. Field names in Go mirror the JSON structure used in config
// files; decoding is performed by the standard library. A handful of
// environment variables override the file for deployment-specific secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level object decoded from a config file.
type Config struct {
	// Storage selects and configures the persistence backend.
	Storage Storage `json:"storage"`

	// Fetcher tunes the endpoint HTTP client.
	Fetcher Fetcher `json:"fetcher"`

	// Jobs tunes the background worker queue.
	Jobs Jobs `json:"jobs"`

	// Logging selects the log format and level.
	Logging Logging `json:"logging"`
}

// Storage selects the persistence backend.
type Storage struct {
	// Kind selects the store implementation: "postgres" or "memory".
	Kind string `json:"kind"`

	// DSN is the connection string for pgx/pgxpool (postgres kind only).
	DSN string `json:"dsn"`
}

// Fetcher configures the endpoint HTTP client.
type Fetcher struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	Attempts       int `json:"attempts"`
	PauseSeconds   int `json:"pause_seconds"`
}

// Jobs configures the worker queue.
type Jobs struct {
	Workers          int `json:"workers"`
	QueueSize        int `json:"queue_size"`
	MaxAttempts      int `json:"max_attempts"`
	RetryBaseSeconds int `json:"retry_base_seconds"`
}

// Logging configures log output.
type Logging struct {
	// Format is "json" or "text".
	Format string `json:"format"`
	Level  string `json:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: Storage{Kind: "memory"},
		Fetcher: Fetcher{TimeoutSeconds: 30, Attempts: 3, PauseSeconds: 2},
		Jobs:    Jobs{Workers: 2, QueueSize: 64, MaxAttempts: 3, RetryBaseSeconds: 60},
		Logging: Logging{Format: "text", Level: "info"},
	}
}

// Load reads a config file, layering it over Default and then applying
// environment overrides. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers deployment-specific values over the file. Secrets like
// the DSN usually arrive this way rather than in a checked-in file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATADOCK_STORAGE_KIND"); v != "" {
		c.Storage.Kind = v
	}
	if v := os.Getenv("DATADOCK_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("DATADOCK_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("DATADOCK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Kind {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.kind=postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown storage.kind %q", c.Storage.Kind)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	if c.Fetcher.Attempts < 0 || c.Jobs.MaxAttempts < 0 {
		return fmt.Errorf("attempt counts must not be negative")
	}
	return nil
}

// FetchTimeout returns the fetcher timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// FetchPause returns the fetcher retry pause as a duration.
func (c Config) FetchPause() time.Duration {
	return time.Duration(c.Fetcher.PauseSeconds) * time.Second
}

// RetryBase returns the job backoff base as a duration.
func (c Config) RetryBase() time.Duration {
	return time.Duration(c.Jobs.RetryBaseSeconds) * time.Second
}
