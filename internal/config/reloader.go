package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Reloader owns the live config of a running server. Reload re-reads the
// .env and config files and swaps the snapshot atomically; registered
// listeners apply whatever settings can change without a restart.
type Reloader struct {
	configPath string
	dotenvPath string
	current    atomic.Pointer[Config]

	mu        sync.Mutex // serializes Reload and guards listeners
	listeners []func(*Config)
}

// NewReloader wraps the config loaded at startup.
func NewReloader(configPath, dotenvPath string, initial *Config) *Reloader {
	r := &Reloader{
		configPath: configPath,
		dotenvPath: dotenvPath,
	}
	r.current.Store(initial)
	return r
}

// Current returns the active config snapshot.
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload registers a callback invoked after every successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads the .env file with override semantics, then the config
// file. A failed reload leaves the previous snapshot in place.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ReloadDotenv(r.dotenvPath); err != nil {
		return fmt.Errorf("reload dotenv: %w", err)
	}

	cfg, err := Load(r.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	r.current.Store(cfg)
	slog.Info("config reloaded", "path", r.configPath)

	for _, fn := range r.listeners {
		fn(cfg)
	}
	return nil
}
