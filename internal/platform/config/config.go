// Package config loads server settings: defaults, then an optional YAML
// file, then MEMENTOS_* environment variables. Command line flags are
// applied on top by the cmd package.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
)

// Config represents configuration data for the game server.
type Config struct {
	Addr             string        `yaml:"addr"`
	DatabasePath     string        `yaml:"database_path"` // empty keeps everything in memory
	LogLevel         string        `yaml:"log_level"`
	TimeScale        float64       `yaml:"time_scale"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	TimelinePath     string        `yaml:"timeline_path"` // empty selects the embedded narrative
	LibraryPath      string        `yaml:"library_path"`  // empty selects the embedded catalogue
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	ClientSendBuffer int           `yaml:"client_send_buffer"`
}

// Default returns sensible defaults in case no configuration file is provided.
func Default() Config {
	return Config{
		Addr:             ":8080",
		DatabasePath:     filepath.Join("data", "mementos.db"),
		LogLevel:         "info",
		TimeScale:        60,
		TickInterval:     time.Second,
		ClientSendBuffer: 16,
	}
}

// Load reads configuration from a YAML file over the defaults and then
// applies environment overrides. A missing file falls back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval))
	}
	if c.ClientSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("client_send_buffer must be positive, got %d", c.ClientSendBuffer))
	}
	if err := timeline.CheckTimeScale(c.TimeScale); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func applyEnvOverrides(c *Config) error {
	if v := os.Getenv("MEMENTOS_ADDR"); v != "" {
		c.Addr = v
	}
	if v, ok := os.LookupEnv("MEMENTOS_DATABASE_PATH"); ok {
		c.DatabasePath = v
	}
	if v := os.Getenv("MEMENTOS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MEMENTOS_TIME_SCALE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MEMENTOS_TIME_SCALE: %w", err)
		}
		c.TimeScale = f
	}
	if v := os.Getenv("MEMENTOS_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MEMENTOS_TICK_INTERVAL: %w", err)
		}
		c.TickInterval = d
	}
	if v := os.Getenv("MEMENTOS_TIMELINE_PATH"); v != "" {
		c.TimelinePath = v
	}
	if v := os.Getenv("MEMENTOS_LIBRARY_PATH"); v != "" {
		c.LibraryPath = v
	}
	if v := os.Getenv("MEMENTOS_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}
	return nil
}
