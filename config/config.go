// Package config handles bridge.toml host configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileName is the configuration file the CLI looks for.
const FileName = "bridge.toml"

// Config is a parsed bridge.toml.
type Config struct {
	Module  Module  `toml:"module"`
	Runtime Runtime `toml:"runtime"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the bridge.toml file (set at load time).
	Dir string `toml:"-"`
}

// Module locates the compiled artifact.
type Module struct {
	// Name labels the logical module slot in logs and tooling. Defaults
	// to the artifact file name.
	Name string `toml:"name"`

	// Artifact is the compiled module path, relative to Dir.
	Artifact string `toml:"artifact"`

	// Watch reloads the artifact when the file changes.
	Watch bool `toml:"watch"`
}

// Runtime tunes the host side of the bridge.
type Runtime struct {
	// MemoryLimitPages caps guest memory in 64KB pages. 0 means the
	// engine default.
	MemoryLimitPages uint32 `toml:"memory-limit-pages"`

	// ReclaimInterval is how often retired generations are polled for
	// reclamation, e.g. "250ms". Empty disables the background loop.
	ReclaimInterval string `toml:"reclaim-interval"`
}

// Log selects logging output.
type Log struct {
	// Level is one of debug, info, warn, error. Empty silences logging.
	Level string `toml:"level"`
}

// Load parses a bridge.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if c.Module.Artifact == "" {
		return nil, fmt.Errorf("%s: module.artifact is required", path)
	}
	if c.Module.Name == "" {
		c.Module.Name = filepath.Base(c.Module.Artifact)
	}
	if _, err := c.Reclaim(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a bridge.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ArtifactPath returns the absolute artifact path.
func (c *Config) ArtifactPath() string {
	if filepath.IsAbs(c.Module.Artifact) {
		return c.Module.Artifact
	}
	return filepath.Join(c.Dir, c.Module.Artifact)
}

// Reclaim parses the reclaim interval. Zero means disabled.
func (c *Config) Reclaim() (time.Duration, error) {
	if c.Runtime.ReclaimInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Runtime.ReclaimInterval)
	if err != nil {
		return 0, fmt.Errorf("runtime.reclaim-interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("runtime.reclaim-interval must not be negative")
	}
	return d, nil
}

// Logger builds a zap logger for the configured level. An empty level
// yields a no-op logger.
func (c *Config) Logger() (*zap.Logger, error) {
	if c.Log.Level == "" {
		return zap.NewNop(), nil
	}
	var level zapcore.Level
	if err := level.Set(c.Log.Level); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
