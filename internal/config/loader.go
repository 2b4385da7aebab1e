package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before standardizing, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	standardized, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with all defaults applied, for when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18520
	}
	if cfg.Gateway.IdleTimeout == 0 {
		cfg.Gateway.IdleTimeout = Duration(120 * time.Second)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(SidekickPath(), "tasks.db")
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Streams.Retention == 0 {
		cfg.Streams.Retention = Duration(60 * time.Second)
	}
	if cfg.Streams.SweepSpec == "" {
		cfg.Streams.SweepSpec = "* * * * *" // every minute
	}
	if cfg.Tools.CommandTimeout == 0 {
		cfg.Tools.CommandTimeout = Duration(30 * time.Second)
	}
}
