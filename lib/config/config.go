// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Limits enforced by Validate.
const (
	MaxChannels  = 0xFFFF - 1
	MinDimension = 2
	MaxDimension = 32
)

// Config is the master configuration for an overhang terrain.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Channels is the number of terrain channels, each holding its own
	// column of fragments per page.
	Channels int `yaml:"channels"`

	// Cube configures the voxel grid of every fragment.
	Cube CubeConfig `yaml:"cube"`

	// Storage configures page persistence.
	Storage StorageConfig `yaml:"storage"`

	// Workers is the number of background goroutines used for grid
	// updates and surface builds. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// Pages configures the page grid.
	Pages PagesConfig `yaml:"pages"`

	// Log configures the structured logger.
	Log LogConfig `yaml:"log"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Storage *StorageConfig `yaml:"storage,omitempty"`
	Workers *int           `yaml:"workers,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// CubeConfig configures the voxel grid.
type CubeConfig struct {
	// Dimension is the number of grid points along each axis.
	// Default: 17
	Dimension int `yaml:"dimension"`

	// Scale is the world-space distance between grid points.
	// Default: 1
	Scale float32 `yaml:"scale"`

	// Gradients, Colours, and TexCoords select the optional arrays
	// every region carries.
	Gradients bool `yaml:"gradients"`
	Colours   bool `yaml:"colours"`
	TexCoords bool `yaml:"texcoords"`
}

// StorageConfig configures page persistence.
type StorageConfig struct {
	// Compression is the codec applied to region payloads: none, lz4,
	// or zstd.
	// Default: lz4 (development), zstd (production)
	Compression string `yaml:"compression"`

	// Directory is where saved pages are written.
	// Default: ${HOME}/.cache/overhang
	Directory string `yaml:"directory"`
}

// PagesConfig configures the page grid.
type PagesConfig struct {
	// Width and Height are the number of pages along world X and Z.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FragmentsPerColumn is the number of fragments stacked in each
	// channel column.
	FragmentsPerColumn int `yaml:"fragments_per_column"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: debug (development), info (production)
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog level. Unknown names map to info;
// Validate rejects them first.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	compressionValues = []string{"none", "lz4", "zstd"}
	logLevelValues    = []string{"debug", "info", "warn", "error"}
)

// Default returns the default configuration, used as a base before the
// config file is loaded.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Environment: Development,
		Channels:    1,
		Cube: CubeConfig{
			Dimension: 17,
			Scale:     1,
			Gradients: true,
		},
		Storage: StorageConfig{
			Compression: "lz4",
			Directory:   filepath.Join(homeDir, ".cache", "overhang"),
		},
		Pages: PagesConfig{
			Width:              2,
			Height:             2,
			FragmentsPerColumn: 4,
		},
		Log: LogConfig{Level: "debug"},
	}
}

// Load loads configuration from the OVERHANG_CONFIG environment
// variable. There are no fallbacks: if it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("OVERHANG_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("OVERHANG_CONFIG environment variable not set; " +
			"set it to the path of your overhang.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current
// config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if filepath.Ext(path) == ".jsonc" {
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Storage: &StorageConfig{Compression: "zstd"},
				Log:     &LogConfig{Level: "info"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Storage != nil {
		if overrides.Storage.Compression != "" {
			c.Storage.Compression = overrides.Storage.Compression
		}
		if overrides.Storage.Directory != "" {
			c.Storage.Directory = overrides.Storage.Directory
		}
	}
	if overrides.Workers != nil {
		c.Workers = *overrides.Workers
	}
	if overrides.Log != nil && overrides.Log.Level != "" {
		c.Log.Level = overrides.Log.Level
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	homeDir, _ := os.UserHomeDir()
	vars := map[string]string{
		"HOME":          homeDir,
		"OVERHANG_ROOT": filepath.Join(homeDir, ".cache", "overhang"),
	}
	c.Storage.Directory = expandVars(c.Storage.Directory, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
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

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Channels < 1 || c.Channels > MaxChannels {
		errs = append(errs, fmt.Errorf("channels must be between 1 and %d, got %d", MaxChannels, c.Channels))
	}
	if c.Cube.Dimension < MinDimension || c.Cube.Dimension > MaxDimension {
		errs = append(errs, fmt.Errorf("cube.dimension must be between %d and %d, got %d",
			MinDimension, MaxDimension, c.Cube.Dimension))
	}
	if !(c.Cube.Scale > 0) {
		errs = append(errs, fmt.Errorf("cube.scale must be positive, got %v", c.Cube.Scale))
	}
	if !slices.Contains(compressionValues, c.Storage.Compression) {
		errs = append(errs, fmt.Errorf("storage.compression must be one of: %v", compressionValues))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Pages.Width < 1 || c.Pages.Height < 1 {
		errs = append(errs, fmt.Errorf("pages.width and pages.height must be positive, got %dx%d",
			c.Pages.Width, c.Pages.Height))
	}
	if c.Pages.FragmentsPerColumn < 1 || c.Pages.FragmentsPerColumn > 1<<15 {
		errs = append(errs, fmt.Errorf("pages.fragments_per_column must be between 1 and %d, got %d",
			1<<15, c.Pages.FragmentsPerColumn))
	}
	if !slices.Contains(logLevelValues, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevelValues))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the storage directory if it doesn't exist.
func (c *Config) EnsurePaths() error {
	if c.Storage.Directory == "" {
		return nil
	}
	if err := os.MkdirAll(c.Storage.Directory, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Storage.Directory, err)
	}
	return nil
}
