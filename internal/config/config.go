// Package config loads latticectl configuration from a YAML file, a .env file
// and LATTICE_* environment variables, in that order of precedence from lowest
// to highest.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/lattice/loader"
	"github.com/jacentio/lattice/relation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LATTICE_"

// ErrInvalid is returned for malformed configuration values.
var ErrInvalid = errors.New("lattice: invalid configuration")

// Config is the complete latticectl configuration.
type Config struct {
	Log      LogConfig       `yaml:"log"`
	Relation relation.Config `yaml:",inline"`
	Loader   loader.Config   `yaml:"loader"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		Relation: relation.DefaultConfig(),
		Loader:   loader.DefaultConfig(),
	}
}

// Load builds a Config from the YAML file at path (skipped if empty), then
// applies environment overrides. Variables from envFiles are loaded first
// without replacing ones already set. With no envFiles a missing ./.env is
// ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
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

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides fields from LATTICE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"NUM_SHARDS", &c.Relation.Store.NumShards},
		{"MAX_RETRIES", &c.Relation.MaxRetries},
		{"LOADER_BATCH_CAPACITY", &c.Loader.BatchCapacity},
	}
	for _, f := range ints {
		v, ok := get(f.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, f.name, v)
		}
		*f.dst = n
	}

	if v, ok := get("LOADER_WAIT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sLOADER_WAIT=%q", ErrInvalid, EnvPrefix, v)
		}
		c.Loader.Wait = d
	}
	return nil
}

// Validate checks values the component configs don't clamp themselves.
func (c *Config) Validate() error {
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	if c.Loader.Wait < 0 {
		return fmt.Errorf("%w: negative loader wait %s", ErrInvalid, c.Loader.Wait)
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, l.Level)
	}
	return lvl, nil
}

// Logger builds a slog.Logger writing to w.
func (l LogConfig) Logger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(l.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: log format %q", ErrInvalid, l.Format)
	}
}
