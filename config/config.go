// Package config loads gorel settings from gorel.yaml, .env files and the environment.
//
// Precedence, lowest first: built-in defaults, the config file, .env, .env.local, GOREL_*
// environment variables, DATABASE_URL (default connection only).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/satishbabariya/gorel/database"
	"github.com/satishbabariya/gorel/query/cache"
)

var (
	ErrNoConnections  = errors.New("no database connections configured")
	ErrNoDefault      = errors.New("default connection is not configured")
	ErrUnknownCache   = errors.New("unknown cache driver")
	ErrInvalidDSNType = errors.New("cannot infer driver from DATABASE_URL")
)

// Cache configures the query cache.
type Cache struct {
	// Driver is memory or file.
	Driver      string        `mapstructure:"driver"`
	Path        string        `mapstructure:"path"`
	Capacity    int           `mapstructure:"capacity"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

// Config holds the resolved settings.
type Config struct {
	Default     string                     `mapstructure:"default"`
	Debug       bool                       `mapstructure:"debug"`
	Connections map[string]database.Config `mapstructure:"connections"`
	Cache       Cache                      `mapstructure:"cache"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file; it must exist.
	File string
	// Dir is searched for gorel.yaml, .env and .env.local. Defaults to ".".
	Dir string
	// Home replaces the user's home directory.
	Home string
}

// Load reads the configuration through fs.
func Load(fs afero.Fs, opts Options) (*Config, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Home == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		opts.Home = home
	}

	if err := loadDotEnv(fs, opts.Dir); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetFs(fs)
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("gorel")
		v.SetConfigType("yaml")
		v.AddConfigPath(opts.Dir)
		v.AddConfigPath(opts.Home)
		v.AddConfigPath(filepath.Join(opts.Home, ".config", "gorel"))
	}

	v.SetEnvPrefix("GOREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("default", "")
	v.SetDefault("debug", false)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.path", filepath.Join(".gorel", "cache"))
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.lock_timeout", 5*time.Second)
	v.SetDefault("cache.prefix", "gorel")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{File: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Connections == nil {
		cfg.Connections = map[string]database.Config{}
	}
	if err := cfg.applyDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, err
	}
	if err := cfg.resolveDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv applies .env without overriding the environment, then .env.local over both.
func loadDotEnv(fs afero.Fs, dir string) error {
	for _, f := range []struct {
		name      string
		overwrite bool
	}{{".env", false}, {".env.local", true}} {
		raw, err := afero.ReadFile(fs, filepath.Join(dir, f.name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		values, err := godotenv.Parse(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		for k, val := range values {
			if _, set := os.LookupEnv(k); set && !f.overwrite {
				continue
			}
			if err := os.Setenv(k, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyDatabaseURL overrides the default connection's DSN, creating the connection when the
// file declares none.
func (c *Config) applyDatabaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	driver, dsn, err := ParseDatabaseURL(raw)
	if err != nil {
		return err
	}
	name := c.Default
	if name == "" {
		name = "default"
		if len(c.Connections) == 1 {
			for n := range c.Connections {
				name = n
			}
		}
	}
	conn := c.Connections[name]
	conn.Driver = driver
	conn.DSN = dsn
	c.Connections[name] = conn
	c.Default = name
	return nil
}

// ParseDatabaseURL infers the driver from a URL scheme and returns the DSN the driver
// expects: postgres keeps the URL, mysql and sqlite drop the scheme.
func ParseDatabaseURL(raw string) (driver, dsn string, err error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		if strings.HasPrefix(raw, "file:") {
			return "sqlite", raw, nil
		}
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDSNType, raw)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql", "pgsql":
		return "pgsql", "postgres://" + rest, nil
	case "mysql", "mariadb":
		return strings.ToLower(scheme), rest, nil
	case "sqlite", "sqlite3":
		return "sqlite", rest, nil
	}
	return "", "", fmt.Errorf("%w: scheme %q", ErrInvalidDSNType, scheme)
}

func (c *Config) resolveDefault() error {
	if len(c.Connections) == 0 {
		return ErrNoConnections
	}
	if c.Default == "" {
		if _, ok := c.Connections["default"]; ok {
			c.Default = "default"
		} else if len(c.Connections) == 1 {
			for n := range c.Connections {
				c.Default = n
			}
		} else {
			return fmt.Errorf("%w: set default to one of %s", ErrNoDefault, strings.Join(c.Names(), ", "))
		}
	}
	if _, ok := c.Connections[c.Default]; !ok {
		return fmt.Errorf("%w: %q", ErrNoDefault, c.Default)
	}
	return nil
}

// Names lists the connection names in order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Connections))
	for n := range c.Connections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Manager builds a connection manager over the configured connections.
func (c *Config) Manager(opts ...database.Option) *database.Manager {
	return database.NewManager(c.Connections, c.Default, opts...)
}

// NewCache builds the configured query cache. File stores live under Cache.Path on fs.
func (c *Config) NewCache(fs afero.Fs) (*cache.Cache, error) {
	opts := cache.Options{Prefix: c.Cache.Prefix, LockTimeout: c.Cache.LockTimeout}
	switch c.Cache.Driver {
	case "", "memory":
		return cache.New(cache.NewMemoryStore(c.Cache.Capacity), opts), nil
	case "file":
		store, err := cache.NewFileStore(fs, c.Cache.Path)
		if err != nil {
			return nil, err
		}
		return cache.New(store, opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCache, c.Cache.Driver)
}
