package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Auth.Type != AuthFixedToken {
		t.Errorf("Auth.Type = %q, want %q", cfg.Auth.Type, AuthFixedToken)
	}
	if cfg.Auth.JWTAlgorithm != "HS256" {
		t.Errorf("JWTAlgorithm = %q, want HS256", cfg.Auth.JWTAlgorithm)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %s/%s, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Server.WatchStrategy != WatchPoll {
		t.Errorf("WatchStrategy = %q, want %q", cfg.Server.WatchStrategy, WatchPoll)
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
}

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "omnirelay.toml")

	content := `
[server]
host = "127.0.0.1"
port = 9100

[auth]
type = "fixed_token"
token = "secret-token"

[store]
dsn = "/tmp/relay.db"

[platforms.telegram]
enabled = true
token = "tg-token"

[platforms.discord]
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Auth.Token != "secret-token" {
		t.Errorf("Auth.Token = %q, want secret-token", cfg.Auth.Token)
	}
	if cfg.Store.DSN != "/tmp/relay.db" {
		t.Errorf("Store.DSN = %q, want /tmp/relay.db", cfg.Store.DSN)
	}
	if got := cfg.EnabledPlatforms(); len(got) != 1 || got[0] != "telegram" {
		t.Errorf("EnabledPlatforms = %v, want [telegram]", got)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	os.WriteFile(path, []byte("not [valid toml"), 0644)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for malformed document")
	}
}

func TestValidateMissingCredential(t *testing.T) {
	cfg := Default()
	cfg.Auth.Token = "tok"
	cfg.Platforms["slack"] = PlatformConfig{Enabled: true, BotToken: "xoxb"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate: expected error for missing app_token")
	}
	if !strings.Contains(err.Error(), "app_token") {
		t.Errorf("error = %v, want mention of app_token", err)
	}
}

func TestValidateDisabledPlatformSkipped(t *testing.T) {
	cfg := Default()
	cfg.Auth.Token = "tok"
	cfg.Platforms["telegram"] = PlatformConfig{Enabled: false}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateAuth(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
	}{
		{"fixed token present", AuthConfig{Type: AuthFixedToken, Token: "t"}, false},
		{"fixed token missing", AuthConfig{Type: AuthFixedToken}, true},
		{"jwt secret present", AuthConfig{Type: AuthJWT, JWTSecret: "s", JWTAlgorithm: "HS256"}, false},
		{"jwt secret missing", AuthConfig{Type: AuthJWT}, true},
		{"unknown type", AuthConfig{Type: "oauth"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth = tt.auth
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate: expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestValidateWatchStrategy(t *testing.T) {
	cfg := Default()
	cfg.Auth.Token = "tok"

	for _, strategy := range []string{"", WatchPoll, WatchNotify} {
		cfg.Server.WatchStrategy = strategy
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate(%q): %v", strategy, err)
		}
	}

	cfg.Server.WatchStrategy = "inotify"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate: expected error for unknown watch strategy")
	}
}

func TestEnabledPlatformsSorted(t *testing.T) {
	cfg := Default()
	cfg.Platforms = map[string]PlatformConfig{
		"slack":    {Enabled: true, BotToken: "b", AppToken: "a"},
		"discord":  {Enabled: true, BotToken: "b"},
		"telegram": {Enabled: true, Token: "t"},
	}

	got := cfg.EnabledPlatforms()
	want := []string{"discord", "slack", "telegram"}
	if len(got) != len(want) {
		t.Fatalf("EnabledPlatforms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EnabledPlatforms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDataDirFromEnv(t *testing.T) {
	t.Setenv("OMNIRELAY_DATA_DIR", "/srv/omnirelay")
	if got := DataDir(); got != "/srv/omnirelay" {
		t.Errorf("DataDir = %q, want /srv/omnirelay", got)
	}
	if got := DefaultConfigPath(); got != "/srv/omnirelay/omnirelay.toml" {
		t.Errorf("DefaultConfigPath = %q", got)
	}
}
