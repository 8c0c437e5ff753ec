// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package config loads layered configuration: struct defaults, then an
// optional YAML file, then INNSYNC_-prefixed environment variables, each
// layer overriding the last.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"innsync.yaml",
	"innsync.yml",
	"/etc/innsync/config.yaml",
	"/etc/innsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "INNSYNC_CONFIG"

// envPrefix namespaces all environment overrides.
const envPrefix = "INNSYNC_"

// Config is the full runtime configuration.
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Remote   RemoteConfig   `koanf:"remote"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Runtime  RuntimeConfig  `koanf:"runtime"`
	Sync     SyncConfig     `koanf:"sync"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// StoreConfig configures the per-tenant local store.
type StoreConfig struct {
	// Root is the directory holding one store per tenant.
	Root string `koanf:"root" validate:"required"`

	// SyncWrites forces fsync on every write.
	SyncWrites bool `koanf:"sync_writes"`

	MemTableSize     int64         `koanf:"mem_table_size" validate:"gt=0"`
	ValueLogFileSize int64         `koanf:"value_log_file_size" validate:"gt=0"`
	NumCompactors    int           `koanf:"num_compactors" validate:"gte=2"`
	CloseTimeout     time.Duration `koanf:"close_timeout" validate:"gt=0"`
}

// RemoteConfig configures the hosted backend client.
type RemoteConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimitRPS   float64       `koanf:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst int           `koanf:"rate_limit_burst" validate:"gt=0"`

	// BreakerEnabled wraps the client in a circuit breaker.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// RealtimeConfig configures the live change-feed connection.
type RealtimeConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"required_if=Enabled true,omitempty,url"`
}

// RuntimeConfig configures the network state machine.
type RuntimeConfig struct {
	// OfflineEnabled turns the offline state machine on. Off means the
	// process behaves as a permanently online client.
	OfflineEnabled bool `koanf:"offline_enabled"`

	// ReconnectDebounce is how long the link must hold before the online
	// transition fires.
	ReconnectDebounce time.Duration `koanf:"reconnect_debounce" validate:"gt=0"`

	// ProbeURL is the health endpoint the connectivity monitor checks.
	// Empty disables the probe.
	ProbeURL      string        `koanf:"probe_url" validate:"omitempty,url"`
	ProbeInterval time.Duration `koanf:"probe_interval" validate:"gt=0"`
}

// SyncConfig configures queue replay.
type SyncConfig struct {
	// Device identifies this workstation in replay metadata.
	Device string `koanf:"device"`

	// RetryInterval is how often failed items are re-evaluated for retry.
	RetryInterval time.Duration `koanf:"retry_interval" validate:"gt=0"`

	MaxRetries int `koanf:"max_retries" validate:"gt=0"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns every default, overridden by file and env layers.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Root:             "/data/innsync",
			SyncWrites:       true,
			MemTableSize:     32 << 20,
			ValueLogFileSize: 256 << 20,
			NumCompactors:    2,
			CloseTimeout:     10 * time.Second,
		},
		Remote: RemoteConfig{
			BaseURL:        "http://127.0.0.1:8000",
			Timeout:        30 * time.Second,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
			BreakerEnabled: true,
		},
		Realtime: RealtimeConfig{
			Enabled: false,
			URL:     "",
		},
		Runtime: RuntimeConfig{
			OfflineEnabled:    true,
			ReconnectDebounce: 2 * time.Second,
			ProbeURL:          "",
			ProbeInterval:     15 * time.Second,
		},
		Sync: SyncConfig{
			Device:        hostnameOr("desk"),
			RetryInterval: 30 * time.Second,
			MaxRetries:    5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, file, and environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// findConfigFile returns the config file to load, or empty when none.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps INNSYNC_STORE_ROOT to store.root and
// INNSYNC_REMOTE_BASE_URL to remote.base_url. The first underscore after
// the prefix separates the section from the key.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if key == "config" {
		return "" // file path override, not a config key
	}
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}

func hostnameOr(fallback string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fallback
	}
	return host
}
