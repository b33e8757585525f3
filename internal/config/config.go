// Package config loads the quel configuration file and builds the logger.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"

	"github.com/quellabs/objectquel/internal/quel/source"
)

type Config struct {
	Logger   LoggerConfig   `yaml:"logger"`
	Database DatabaseConfig `yaml:"database"`
	Schema   SchemaConfig   `yaml:"schema"`
	JSON     JSONConfig     `yaml:"json"`
	Console  ConsoleConfig  `yaml:"console"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Type   string `yaml:"type"`
	Output string `yaml:"output"`
}

// DatabaseConfig selects the SQL sink. An empty DSN runs without a
// database; only json_source ranges can then be queried.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SchemaConfig struct {
	Path string `yaml:"path"`
}

type JSONConfig struct {
	BaseDir string `yaml:"base_dir"`
}

type ConsoleConfig struct {
	Addr            string        `yaml:"addr"`
	MaxAge          time.Duration `yaml:"max_age"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logger:   LoggerConfig{Level: "info", Type: "colored-text", Output: "stderr"},
		Database: DatabaseConfig{Driver: "sqlite"},
		Console: ConsoleConfig{
			Addr:            ":8080",
			MaxAge:          24 * time.Hour,
			IdleTimeout:     30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys absent from data keep their values.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("cannot parse config: %w", err)
	}
	return nil
}

// applyEnv lets QUEL_DATABASE_DRIVER, QUEL_DATABASE_DSN, QUEL_SCHEMA and
// PORT override the file.
func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("QUEL_DATABASE_DRIVER"); ok && v != "" {
		cfg.Database.Driver = v
	}
	if v, ok := lookup("QUEL_DATABASE_DSN"); ok && v != "" {
		cfg.Database.DSN = v
	}
	if v, ok := lookup("QUEL_SCHEMA"); ok && v != "" {
		cfg.Schema.Path = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT: %s", v)
		}
		cfg.Console.Addr = ":" + strconv.Itoa(port)
	}
	return nil
}

// Validate checks enumerated values and durations.
func (cfg *Config) Validate() error {
	if _, err := parseLevel(cfg.Logger.Level); err != nil {
		return err
	}
	switch cfg.Logger.Type {
	case "json", "text", "colored-text":
	default:
		return fmt.Errorf("invalid log type: %s", cfg.Logger.Type)
	}
	switch cfg.Logger.Output {
	case "", "stdout", "stderr":
	default:
		return fmt.Errorf("invalid log output: %s", cfg.Logger.Output)
	}

	if cfg.Database.DSN != "" {
		if !slices.Contains(source.Drivers(), cfg.Database.Driver) {
			return fmt.Errorf("invalid database driver: %s (expected one of %v)", cfg.Database.Driver, source.Drivers())
		}
	}

	if cfg.Console.MaxAge <= 0 || cfg.Console.IdleTimeout <= 0 || cfg.Console.CleanupInterval <= 0 {
		return fmt.Errorf("console durations must be positive")
	}
	return nil
}

// NewLogger builds the configured logger. w overrides Output when non-nil.
func (cfg *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Logger.Level)
	if err != nil {
		return nil, err
	}

	if w == nil {
		w = os.Stderr
		if cfg.Logger.Output == "stdout" {
			w = os.Stdout
		}
	}

	var handler slog.Handler
	switch cfg.Logger.Type {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "colored-text":
		handler = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	default:
		return nil, fmt.Errorf("invalid log type: %s", cfg.Logger.Type)
	}
	return slog.New(handler), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}
