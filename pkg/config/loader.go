package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from configDir.
// Missing perpd.yaml is not an error: built-in defaults apply.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := DefaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, "perpd.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No perpd.yaml found, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		user := &Config{}
		if err := yaml.Unmarshal(ExpandEnv(data), user); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"venue_mode", cfg.Venue.Mode,
		"symbols", cfg.Venue.Symbols,
		"autonomy_enabled", cfg.Autonomy.Enabled != nil && *cfg.Autonomy.Enabled,
		"modes", len(cfg.Modes))
	return cfg, nil
}
