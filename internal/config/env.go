package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvWebhookURL    = "N8N_WEBHOOK_URL"
	EnvWebhookURLAlt = "WEBHOOK_URL"
	EnvPort          = "PORT"
	EnvLogLevel      = "CHATRELAY_LOG_LEVEL"
)

// LookupFunc matches os.LookupEnv so tests can supply their own environment.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into
// the process environment. Variables that are already set are left alone and
// a missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment settings on cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if v, ok := lookup(EnvWebhookURL); ok && v != "" {
		cfg.Relay.WebhookURL = v
	} else if v, ok := lookup(EnvWebhookURLAlt); ok && v != "" {
		cfg.Relay.WebhookURL = v
	}

	if cfg.Relay.ProductionEnv != "" {
		if v, ok := lookup(cfg.Relay.ProductionEnv); ok && v != "" {
			cfg.Relay.Production = true
		}
	}

	if v, ok := lookup(EnvPort); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
}

// Resolve builds the effective configuration: defaults, then the config file
// (when path is set or the default file exists), then the environment.
func Resolve(path string, lookup LookupFunc) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath()); err == nil {
			path = DefaultConfigPath()
		}
	}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	ApplyEnv(cfg, lookup)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
