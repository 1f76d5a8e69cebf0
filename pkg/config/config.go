// Package config parses, validates, versions, and hot-reloads the omnirelay
// configuration document.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

type Settings struct {
	Server    ServerConfig              `toml:"server"`
	Auth      AuthConfig                `toml:"auth"`
	Logging   LoggingConfig             `toml:"logging"`
	Tracing   TracingConfig             `toml:"tracing"`
	Store     StoreConfig               `toml:"store"`
	Platforms map[string]PlatformConfig `toml:"platforms"`
}

type ServerConfig struct {
	Host  string `toml:"host"`
	Port  int    `toml:"port"`
	Debug bool   `toml:"debug"`
	// WatchStrategy selects how configuration changes are detected:
	// "poll" compares the file's mtime on the watch interval, "notify"
	// subscribes to filesystem notifications.
	WatchStrategy string `toml:"watch_strategy"`
}

type AuthConfig struct {
	Type           string `toml:"type"`
	Token          string `toml:"token"`
	JWTSecret      string `toml:"jwt_secret"`
	JWTAlgorithm   string `toml:"jwt_algorithm"`
	JWTExpireHours int    `toml:"jwt_expire_hours"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	File      string `toml:"file"`
	Rotation  string `toml:"rotation"`
	Retention string `toml:"retention"`
}

type TracingConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

type StoreConfig struct {
	DSN string `toml:"dsn"`
}

// PlatformConfig gates whether the adapter registry constructs a platform and
// carries its credentials. Which credential fields a platform requires is
// declared in requiredCredentials.
type PlatformConfig struct {
	Enabled  bool   `toml:"enabled"`
	Type     string `toml:"type"`
	Token    string `toml:"token"`
	BotToken string `toml:"bot_token"`
	AppToken string `toml:"app_token"`
}

// Auth types accepted in the auth section.
const (
	AuthFixedToken = "fixed_token"
	AuthJWT        = "jwt"
)

// Watch strategies accepted in server.watch_strategy.
const (
	WatchPoll   = "poll"
	WatchNotify = "notify"
)

func Default() *Settings {
	return &Settings{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8000,
			WatchStrategy: WatchPoll,
		},
		Auth: AuthConfig{
			Type:           AuthFixedToken,
			JWTAlgorithm:   "HS256",
			JWTExpireHours: 24,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			File:      filepath.Join(DataDir(), "omnirelay.log"),
			Rotation:  "10 MB",
			Retention: "30 days",
		},
		Store: StoreConfig{
			DSN: filepath.Join(DataDir(), "omnirelay.db"),
		},
		Platforms: map[string]PlatformConfig{},
	}
}

// requiredCredentials maps a platform name to the PlatformConfig fields that
// must be non-empty when the platform is enabled.
var requiredCredentials = map[string][]string{
	"telegram": {"token"},
	"discord":  {"bot_token"},
	"slack":    {"bot_token", "app_token"},
}

func credentialValue(cfg PlatformConfig, field string) string {
	switch field {
	case "token":
		return cfg.Token
	case "bot_token":
		return cfg.BotToken
	case "app_token":
		return cfg.AppToken
	}
	return ""
}

// Validate fails the whole document when any enabled platform is missing a
// required credential or the auth section is inconsistent. Fail-closed: a
// single bad platform rejects the entire load.
func (s *Settings) Validate() error {
	switch s.Server.WatchStrategy {
	case "", WatchPoll, WatchNotify:
	default:
		return fmt.Errorf("config: unknown server.watch_strategy %q", s.Server.WatchStrategy)
	}

	switch s.Auth.Type {
	case AuthFixedToken:
		if s.Auth.Token == "" {
			return fmt.Errorf("config: auth.token is required when auth.type is %q", AuthFixedToken)
		}
	case AuthJWT:
		if s.Auth.JWTSecret == "" {
			return fmt.Errorf("config: auth.jwt_secret is required when auth.type is %q", AuthJWT)
		}
	default:
		return fmt.Errorf("config: unknown auth.type %q", s.Auth.Type)
	}

	names := make([]string, 0, len(s.Platforms))
	for name := range s.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := s.Platforms[name]
		if !cfg.Enabled {
			continue
		}
		for _, field := range requiredCredentials[name] {
			if credentialValue(cfg, field) == "" {
				return fmt.Errorf("config: platforms.%s.%s is required when the platform is enabled", name, field)
			}
		}
	}
	return nil
}

// EnabledPlatforms returns the names of platforms the registry should load,
// sorted for deterministic startup order.
func (s *Settings) EnabledPlatforms() []string {
	var names []string
	for name, cfg := range s.Platforms {
		if cfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Load reads and validates the settings at path. A missing file is not an
// error; defaults are returned so a fresh install starts with no config.
func Load(path string) (*Settings, error) {
	cfg, err := parse(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

func parse(path string) (*Settings, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(DataDir(), "omnirelay.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DataDir() string {
	if dir := os.Getenv("OMNIRELAY_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".omnirelay"
	}
	return filepath.Join(home, ".omnirelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "omnirelay.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
