// Package config loads harness settings from defaults, an optional TOML
// file and PAGEHARNESS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	defaultHeadless     = true
	defaultWindowWidth  = 1280
	defaultWindowHeight = 900
	defaultWaitTimeout  = 10 * time.Second
	defaultPollInterval = 100 * time.Millisecond

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PAGEHARNESS_"

	// RootMarker is the file whose directory is taken as the repository root
	// when none is configured.
	RootMarker = "triage.js"
)

// Config stores runtime settings for a harness run.
type Config struct {
	Root            string
	ChromePath      string
	Headless        bool
	WindowWidth     int
	WindowHeight    int
	WaitTimeout     time.Duration
	PollInterval    time.Duration
	ScenarioTimeout time.Duration
}

type fileConfig struct {
	Root            *string `toml:"root"`
	ChromePath      *string `toml:"chrome_path"`
	Headless        *bool   `toml:"headless"`
	WindowWidth     *int    `toml:"window_width"`
	WindowHeight    *int    `toml:"window_height"`
	WaitTimeout     *string `toml:"wait_timeout"`
	PollInterval    *string `toml:"poll_interval"`
	ScenarioTimeout *string `toml:"scenario_timeout"`
}

type envConfig struct {
	Root            *string        `env:"ROOT"`
	ChromePath      *string        `env:"CHROME_PATH"`
	Headless        *bool          `env:"HEADLESS"`
	WindowWidth     *int           `env:"WINDOW_WIDTH"`
	WindowHeight    *int           `env:"WINDOW_HEIGHT"`
	WaitTimeout     *time.Duration `env:"WAIT_TIMEOUT"`
	PollInterval    *time.Duration `env:"POLL_INTERVAL"`
	ScenarioTimeout *time.Duration `env:"SCENARIO_TIMEOUT"`
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error. An unset root is discovered from the working
// directory.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := overlayFromEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.Root = DiscoverRoot(wd)
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Headless:     defaultHeadless,
		WindowWidth:  defaultWindowWidth,
		WindowHeight: defaultWindowHeight,
		WaitTimeout:  defaultWaitTimeout,
		PollInterval: defaultPollInterval,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	var decoded fileConfig
	md, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %q: unknown key %q", path, undecoded[0].String())
	}

	if decoded.Root != nil {
		cfg.Root = *decoded.Root
	}
	if decoded.ChromePath != nil {
		cfg.ChromePath = *decoded.ChromePath
	}
	if decoded.Headless != nil {
		cfg.Headless = *decoded.Headless
	}
	if decoded.WindowWidth != nil {
		cfg.WindowWidth = *decoded.WindowWidth
	}
	if decoded.WindowHeight != nil {
		cfg.WindowHeight = *decoded.WindowHeight
	}

	durations := []struct {
		key   string
		value *string
		dst   *time.Duration
	}{
		{"wait_timeout", decoded.WaitTimeout, &cfg.WaitTimeout},
		{"poll_interval", decoded.PollInterval, &cfg.PollInterval},
		{"scenario_timeout", decoded.ScenarioTimeout, &cfg.ScenarioTimeout},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("parse %s in %q: %w", d.key, path, err)
		}
		*d.dst = parsed
	}
	return nil
}

func overlayFromEnv(cfg *Config) error {
	var decoded envConfig
	if err := env.ParseWithOptions(&decoded, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if decoded.Root != nil {
		cfg.Root = *decoded.Root
	}
	if decoded.ChromePath != nil {
		cfg.ChromePath = *decoded.ChromePath
	}
	if decoded.Headless != nil {
		cfg.Headless = *decoded.Headless
	}
	if decoded.WindowWidth != nil {
		cfg.WindowWidth = *decoded.WindowWidth
	}
	if decoded.WindowHeight != nil {
		cfg.WindowHeight = *decoded.WindowHeight
	}
	if decoded.WaitTimeout != nil {
		cfg.WaitTimeout = *decoded.WaitTimeout
	}
	if decoded.PollInterval != nil {
		cfg.PollInterval = *decoded.PollInterval
	}
	if decoded.ScenarioTimeout != nil {
		cfg.ScenarioTimeout = *decoded.ScenarioTimeout
	}
	return nil
}

// Validate rejects values no run can use.
func (c *Config) Validate() error {
	switch {
	case c.WindowWidth <= 0 || c.WindowHeight <= 0:
		return fmt.Errorf("window size must be positive, got %dx%d", c.WindowWidth, c.WindowHeight)
	case c.WaitTimeout <= 0:
		return fmt.Errorf("wait_timeout must be positive, got %s", c.WaitTimeout)
	case c.PollInterval <= 0:
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	case c.ScenarioTimeout < 0:
		return fmt.Errorf("scenario_timeout must not be negative, got %s", c.ScenarioTimeout)
	}
	return nil
}

// DiscoverRoot walks up from start to the first directory holding
// RootMarker. It returns start when no ancestor has one.
func DiscoverRoot(start string) string {
	dir := filepath.Clean(start)
	for {
		if info, err := os.Stat(filepath.Join(dir, RootMarker)); err == nil && !info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Clean(start)
		}
		dir = parent
	}
}
