// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides operator configuration for loom.
//
// Configuration is loaded from a single YAML file, located by (in
// order): the --config flag, the LOOM_CONFIG environment variable, or
// ~/.config/loom/config.yaml if it exists. A missing file is not an
// error: every field has a working default, so a bare `loom run`
// needs no configuration at all.
//
// The only expansion performed on file values is ${VAR} and
// ${VAR:-default} substitution in path fields, for portability of
// shared config files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the loom operator configuration. It holds machine-level
// settings; everything describing a pipeline itself lives in the
// matrix document.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Workers bounds concurrent job execution. 0 means one worker
	// per CPU.
	Workers int `yaml:"workers"`

	// Log configures the structured logger.
	Log LogConfig `yaml:"log"`

	// Cache configures the archive store.
	Cache CacheConfig `yaml:"cache"`

	// Defaults supplies per-job settings a matrix document may omit.
	Defaults DefaultsConfig `yaml:"defaults"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for loom state.
	Root string `yaml:"root"`

	// Runs is where run directories (reports, job logs, deploy
	// markers) are created. Default: <root>/runs.
	Runs string `yaml:"runs"`

	// Cache is where cache archives and the cache index live.
	// Default: <root>/cache.
	Cache string `yaml:"cache"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is one of auto, text, json. auto selects text on
	// terminals and json otherwise.
	Format string `yaml:"format"`
}

// CacheConfig configures the archive store.
type CacheConfig struct {
	// MaxTotalBytes is the prune target for `loom cache prune`.
	// 0 disables the size-based prune.
	MaxTotalBytes int64 `yaml:"max_total_bytes"`

	// MaxAge is the age-based prune target (Go duration string,
	// e.g. "720h"). Empty disables the age-based prune.
	MaxAge string `yaml:"max_age"`

	// EncryptionKeyFile points at a file whose trimmed content is
	// the cache master key. When set, archives are encrypted with a
	// key derived per cache entry. Empty disables encryption.
	EncryptionKeyFile string `yaml:"encryption_key_file"`
}

// DefaultsConfig supplies per-job settings used when the matrix
// document does not override them.
type DefaultsConfig struct {
	// Timeout is the wall-clock limit per job (Go duration string).
	Timeout string `yaml:"timeout"`

	// QuietTimeout kills a job that produces no output for this
	// long. Empty or "0" disables it.
	QuietTimeout string `yaml:"quiet_timeout"`

	// GracePeriod is how long a cancelled step gets between SIGTERM
	// and SIGKILL.
	GracePeriod string `yaml:"grace_period"`
}

// Default returns the default configuration. Loading a config file
// overlays onto these values, so partially-specified files work.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "loom")

	return &Config{
		Paths: PathsConfig{
			Root:  defaultRoot,
			Runs:  filepath.Join(defaultRoot, "runs"),
			Cache: filepath.Join(defaultRoot, "cache"),
		},
		Workers: 0,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Defaults: DefaultsConfig{
			Timeout:      "50m",
			QuietTimeout: "10m",
			GracePeriod:  "10s",
		},
	}
}

// Load locates and loads the configuration: LOOM_CONFIG if set, else
// ~/.config/loom/config.yaml if present, else pure defaults.
func Load() (*Config, error) {
	if path := os.Getenv("LOOM_CONFIG"); path != "" {
		return LoadFile(path)
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(homeDir, ".config", "loom", "config.yaml")
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFile(path)
		}
	}

	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from a specific file path, overlaying
// onto defaults. Environment variables never override file values;
// only ${VAR} expansion inside path fields consults the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"LOOM_ROOT": c.Paths.Root,
		"HOME":      os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["LOOM_ROOT"] = c.Paths.Root // dependent paths see the expanded root

	c.Paths.Runs = expandVars(c.Paths.Runs, vars)
	c.Paths.Cache = expandVars(c.Paths.Cache, vars)
	c.Cache.EncryptionKeyFile = expandVars(c.Cache.EncryptionKeyFile, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"auto", "text", "json"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if c.Cache.MaxTotalBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_total_bytes must be >= 0"))
	}
	if _, err := c.CacheMaxAge(); err != nil {
		errs = append(errs, fmt.Errorf("cache.max_age: %w", err))
	}

	if _, err := c.JobTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("defaults.timeout: %w", err))
	}
	if _, err := c.QuietTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("defaults.quiet_timeout: %w", err))
	}
	if _, err := c.GracePeriod(); err != nil {
		errs = append(errs, fmt.Errorf("defaults.grace_period: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if missing.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Runs, c.Paths.Cache} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// JobTimeout returns the parsed default per-job timeout.
func (c *Config) JobTimeout() (time.Duration, error) {
	return parseDuration(c.Defaults.Timeout)
}

// QuietTimeout returns the parsed default no-output timeout. Zero
// means disabled.
func (c *Config) QuietTimeout() (time.Duration, error) {
	return parseDuration(c.Defaults.QuietTimeout)
}

// GracePeriod returns the parsed SIGTERM-to-SIGKILL grace period.
func (c *Config) GracePeriod() (time.Duration, error) {
	return parseDuration(c.Defaults.GracePeriod)
}

// CacheMaxAge returns the parsed age-based prune target. Zero means
// disabled.
func (c *Config) CacheMaxAge() (time.Duration, error) {
	return parseDuration(c.Cache.MaxAge)
}

// parseDuration parses a duration string, treating "" and "0" as
// zero (disabled). Negative durations are rejected.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative, got %s", s)
	}
	return d, nil
}
