// Package config loads settings from defaults, an optional config.yaml,
// PLFOLDERS_* environment variables and command-line flags, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/lotas/plfolders/internal/catalog"
	"github.com/lotas/plfolders/internal/loader"
	"github.com/lotas/plfolders/internal/session"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Data      DataConfig        `mapstructure:"data"`
	Engine    EngineConfig      `mapstructure:"engine"`
	Host      HostConfig        `mapstructure:"host"`
	Selectors catalog.Selectors `mapstructure:"selectors"`
	Identity  IdentityConfig    `mapstructure:"identity"`
}

// ServerConfig holds the bridge listener settings.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Metrics        bool          `mapstructure:"metrics"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DataConfig locates the log and database.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
	DB  string `mapstructure:"db"` // defaults to <dir>/plfolders.db
}

// EngineConfig holds scan timing.
type EngineConfig struct {
	Debounce    time.Duration `mapstructure:"debounce"`
	Settle      time.Duration `mapstructure:"settle"`
	StableSteps int           `mapstructure:"stable_steps"`
	MaxSteps    int           `mapstructure:"max_steps"`
}

// HostConfig identifies the target page.
type HostConfig struct {
	PagePattern string `mapstructure:"page_pattern"`
}

// IdentityConfig controls which extracted ids count as playlists.
type IdentityConfig struct {
	AllowedPrefixes []string `mapstructure:"allowed_prefixes"`
}

// DefaultPort is the loopback port the extension connects to.
const DefaultPort = 19192

// Flag names bound by BindFlags.
const (
	FlagConfig  = "config"
	FlagPort    = "port"
	FlagDataDir = "data-dir"
	FlagDB      = "db"
)

var flagKeys = map[string]string{
	FlagPort:    "server.port",
	FlagDataDir: "data.dir",
	FlagDB:      "data.db",
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "plfolders")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "plfolders")
	}
}

func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "plfolders")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "plfolders")
	}
}

func setDefaults(v *viper.Viper) {
	sel := catalog.DefaultSelectors()
	load := loader.DefaultOptions()

	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("data.dir", DefaultDataDir())
	v.SetDefault("data.db", "")
	v.SetDefault("engine.debounce", session.DefaultOptions().Debounce)
	v.SetDefault("engine.settle", load.Settle)
	v.SetDefault("engine.stable_steps", load.StableSteps)
	v.SetDefault("engine.max_steps", load.MaxSteps)
	v.SetDefault("host.page_pattern", session.DefaultPagePattern)
	v.SetDefault("selectors.container", sel.Container)
	v.SetDefault("selectors.item", sel.Item)
	v.SetDefault("selectors.id_class_prefix", sel.IDClassPrefix)
	v.SetDefault("selectors.link", sel.Link)
	v.SetDefault("selectors.title", sel.Title)
	v.SetDefault("selectors.owner", sel.Owner)
	v.SetDefault("selectors.count", sel.Count)
	v.SetDefault("identity.allowed_prefixes", catalog.DefaultAllowedPrefixes)
}

// BindFlags registers the global flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String(FlagConfig, "", "config file (default ~/.config/plfolders/config.yaml)")
	fs.Int(FlagPort, DefaultPort, "port the browser extension connects to")
	fs.String(FlagDataDir, "", "directory for the log and database")
	fs.String(FlagDB, "", "database path")
}

// Load reads configuration. fs may be nil; only flags the user set
// override file and environment values.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultConfigPath())
	v.AddConfigPath(".")

	if fs != nil {
		if f := fs.Lookup(FlagConfig); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("PLFOLDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if cfg.Data.DB == "" {
		cfg.Data.DB = filepath.Join(cfg.Data.Dir, "plfolders.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and patterns.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.Debounce <= 0 || c.Engine.Settle <= 0 {
		return fmt.Errorf("engine.debounce and engine.settle must be positive")
	}
	if c.Engine.StableSteps < 1 || c.Engine.MaxSteps < c.Engine.StableSteps {
		return fmt.Errorf("engine: need 1 <= stable_steps (%d) <= max_steps (%d)", c.Engine.StableSteps, c.Engine.MaxSteps)
	}
	if _, err := regexp.Compile(c.Host.PagePattern); err != nil {
		return fmt.Errorf("host.page_pattern: %w", err)
	}
	if c.Selectors.Item == "" {
		return fmt.Errorf("selectors.item is required")
	}
	return nil
}

// SessionOptions returns the engine timings.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Debounce: c.Engine.Debounce,
		Load: loader.Options{
			Settle:      c.Engine.Settle,
			StableSteps: c.Engine.StableSteps,
			MaxSteps:    c.Engine.MaxSteps,
		},
	}
}

// Scanner builds the catalog scanner from the selector settings.
func (c *Config) Scanner() (*catalog.Scanner, error) {
	return catalog.NewScanner(c.Selectors, c.Identity.AllowedPrefixes)
}
