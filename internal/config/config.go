// SPDX-License-Identifier: MIT

// Package config loads, validates, and persists the broadcaster list
// and tunables consumed by the Supervisor.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/qingrang/stream-rec/internal/model"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/streamrec/config.yaml"

// Config is the top-level configuration consumed by the Supervisor.
type Config struct {
	// Streamers is the full configured broadcaster list. The Supervisor
	// filters to Activated before spawning workers.
	Streamers []model.Broadcaster `yaml:"streamers" koanf:"streamers"`

	// MaxDownloadRetries is the Streamer Worker's max_retries tunable.
	MaxDownloadRetries int `yaml:"max_download_retries" koanf:"max_download_retries"`

	// DownloadRetryDelaySeconds is the Streamer Worker's retry_delay_seconds
	// tunable, used as the fast poll interval while a session is paused.
	DownloadRetryDelaySeconds int `yaml:"download_retry_delay_seconds" koanf:"download_retry_delay_seconds"`

	// FFmpegPath is the path to the Capture Engine binary, defaulting to
	// the bare name so the host's PATH resolves it.
	FFmpegPath string `yaml:"ffmpeg_path" koanf:"ffmpeg_path"`

	// Health holds the metrics/status endpoint settings.
	Health HealthConfig `yaml:"health" koanf:"health"`
}

// HealthConfig controls the health/metrics HTTP endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Addr    string `yaml:"addr" koanf:"addr"`
}

// LoadConfig reads and parses the configuration file.
//
// Example:
//
//	cfg, err := LoadConfig("/etc/streamrec/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file.
//
// Save performs an atomic write: write to a temp file in the same
// directory, sync to disk, then rename to the target path. os.Rename
// is atomic on most filesystems, so a crash mid-write leaves either
// the old file or the new file, never a partially-written file.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config files may carry upload credentials via extra_args; restrict
	// to owner+group.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// ActivatedStreamers returns the subset of Streamers the Supervisor
// should spawn a worker for.
func (c *Config) ActivatedStreamers() []model.Broadcaster {
	var out []model.Broadcaster
	for _, b := range c.Streamers {
		if b.Activated {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.MaxDownloadRetries < 0 {
		return fmt.Errorf("max_download_retries must not be negative")
	}
	if c.DownloadRetryDelaySeconds <= 0 {
		return fmt.Errorf("download_retry_delay_seconds must be positive")
	}

	seen := make(map[string]bool, len(c.Streamers))
	for _, b := range c.Streamers {
		if b.ID == "" {
			return fmt.Errorf("streamer entry missing id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate streamer id %q", b.ID)
		}
		seen[b.ID] = true

		switch b.Platform {
		case model.PlatformHuya, model.PlatformDouyin:
		default:
			return fmt.Errorf("streamer %q: unsupported platform %q", b.ID, b.Platform)
		}

		if b.URL == "" {
			return fmt.Errorf("streamer %q: url must not be empty", b.ID)
		}
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Streamers:                 nil,
		MaxDownloadRetries:        3,
		DownloadRetryDelaySeconds: 15,
		FFmpegPath:                "ffmpeg",
		Health: HealthConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9998",
		},
	}
}
