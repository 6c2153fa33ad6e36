// Package config loads the storm CLI configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/syssam/storm/dialect"
	dsql "github.com/syssam/storm/dialect/sql"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "storm.yaml"

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "STORM_"

// Default configuration values.
const (
	DefaultDriver        = dialect.SQLiteDriver
	DefaultLogLevel      = "info"
	DefaultSlowThreshold = 100 * time.Millisecond
)

// Product overrides the database product reported by drivers without a
// version probe.
type Product struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// Config is the CLI configuration.
type Config struct {
	Driver        string        `koanf:"driver"`
	DSN           string        `koanf:"dsn"`
	Strict        bool          `koanf:"strict"`
	LogLevel      string        `koanf:"log_level"`
	SlowThreshold time.Duration `koanf:"slow_threshold"`
	Product       Product       `koanf:"product"`

	// File is the configuration file that was read, if any.
	File string `koanf:"-"`
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Metadata returns the product override, or nil when none is configured.
func (c *Config) Metadata() *dialect.Metadata {
	if c.Product.Name == "" {
		return nil
	}
	md := dsql.ParseVersion(c.Product.Name, c.Product.Version)
	return &md
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	var errs []error
	if c.Driver == "" {
		errs = append(errs, errors.New("driver is required"))
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	if c.SlowThreshold < 0 {
		errs = append(errs, fmt.Errorf("slow threshold %s is negative", c.SlowThreshold))
	}
	return errors.Join(errs...)
}

// Load reads the configuration. Sources are applied in order, each one
// overriding the previous: defaults, the YAML file at path (or ./storm.yaml
// when path is empty and the file exists), STORM_ environment variables,
// and the flags explicitly set in flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"driver":         DefaultDriver,
		"strict":         true,
		"log_level":      DefaultLogLevel,
		"slow_threshold": DefaultSlowThreshold.String(),
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if path == "" {
		if _, err := os.Stat(FileName); err == nil {
			path = FileName
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// 3. Environment: STORM_LOG_LEVEL -> log_level, STORM_PRODUCT_NAME -> product.name
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return key(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return key(strings.ReplaceAll(f.Name, "-", "_")), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = path
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// key maps a flat snake_case name to its configuration key.
func key(name string) string {
	if rest, ok := strings.CutPrefix(name, "product_"); ok {
		return "product." + rest
	}
	return name
}
