package config

import (
	"encoding/json"
	"os"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
)

// Environment variable overrides applied after file loading. These
// cover the values that differ per deployment without a config edit.
const (
	EnvNATSURL   = "KLOROS_NATS_URL"
	EnvUsername  = "KLOROS_NATS_USERNAME"
	EnvPassword  = "KLOROS_NATS_PASSWORD"
	EnvToken     = "KLOROS_NATS_TOKEN"
	EnvNamespace = "KLOROS_NAMESPACE"
)

// Load reads a JSON config file over the defaults, applies environment
// overrides, and validates the result. An empty path yields validated
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv(EnvUsername); v != "" {
		cfg.NATS.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.NATS.Password = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		cfg.NATS.Token = v
	}
	if v := os.Getenv(EnvNamespace); v != "" {
		cfg.Namespace = v
	}
}
