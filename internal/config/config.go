package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable the configuration reads,
// e.g. KNOLSCHED_DB_PATH.
const EnvPrefix = "KNOLSCHED_"

// Config holds runtime settings.
type Config struct {
	DBPath     string `koanf:"db_path" validate:"required"`
	ReposDir   string `koanf:"repos_dir" validate:"required"`
	Addr       string `koanf:"addr" validate:"required,hostname_port"`
	Timezone   string `koanf:"timezone" validate:"required"`
	Workers    int    `koanf:"workers" validate:"min=1,max=64"`
	MaxRetries int    `koanf:"max_retries" validate:"min=0,max=10"`
	LogLevel   string `koanf:"log_level" validate:"oneof=debug info warn error"`
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// RegisterFlags adds the configuration flags, with their defaults, to flags.
// Flag names use dashes; they map onto the underscore keys above.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("db-path", "knolsched.db", "Path to the SQLite database file")
	flags.String("repos-dir", "repos", "Directory git sources are cloned into")
	flags.String("addr", "localhost:8080", "Address the HTTP server listens on")
	flags.String("timezone", "Local", "Timezone whole days are counted in")
	flags.Int("workers", 4, "Sessions reset concurrently")
	flags.Int("max-retries", 3, "Retries for a session write that lost a concurrent update")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
}

// Load builds the configuration from, in increasing priority: flag defaults,
// the YAML file named by --config, a .env file, KNOLSCHED_* environment
// variables and flags set on the command line.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	envKey := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Unset flags only contribute defaults for keys nothing else provided.
	flagKey := func(f *pflag.Flag) (string, interface{}) {
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
	}
	if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey), nil); err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	// The validator's timezone tag refuses "Local", which is the default.
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: timezone: %w", err)
	}
	return nil
}
