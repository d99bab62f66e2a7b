package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/rulekeeper/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"http room url", func(c *Config) { c.Room.URL = "http://localhost:8090/ws" }, "room: url"},
		{"missing room id", func(c *Config) { c.Room.RoomID = "" }, "room: room_id"},
		{"poll too fast", func(c *Config) { c.Sync.PollInterval = 10 * time.Millisecond }, "sync: poll_interval"},
		{"no namespace", func(c *Config) { c.Sync.Namespace = "" }, "sync: namespace"},
		{"references without db", func(c *Config) {
			c.References.Dir = "./rules"
			c.References.SQLitePath = ""
		}, "references: sqlite_path"},
		{"bad endpoint", func(c *Config) { c.Assistant.Endpoint = "localhost" }, "assistant: endpoint"},
		{"room host port", func(c *Config) { c.RoomHost.Port = 70000 }, "room_host: port"},
		{"peer without vault", func(c *Config) { c.Peer.VaultDir = "" }, "peer: vault_dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateOnlyChecksCommandSections(t *testing.T) {
	cases := []struct {
		name    string
		command Command
		mutate  func(*Config)
		wantErr string
	}{
		{"room host ignores player room", CommandRoom, func(c *Config) { c.Room.URL = "" }, ""},
		{"room host ignores peer", CommandRoom, func(c *Config) { c.Peer.VaultDir = "" }, ""},
		{"room host checks port", CommandRoom, func(c *Config) { c.RoomHost.Port = 0 }, "room_host: port"},
		{"peer ignores assistant", CommandPeer, func(c *Config) { c.Assistant.Endpoint = "localhost" }, ""},
		{"peer checks room", CommandPeer, func(c *Config) { c.Room.URL = "" }, "room: url"},
		{"assistant ignores peer", CommandAssistant, func(c *Config) { c.Peer.VaultDir = "" }, ""},
		{"assistant checks room", CommandAssistant, func(c *Config) { c.Room.URL = "" }, "room: url"},
		{"mcp ignores room host", CommandMCP, func(c *Config) { c.RoomHost.Port = -1 }, ""},
		{"unknown command", Command("bogus"), func(*Config) {}, "unknown command"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Command = tc.command
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestReferencesDisabledNeedsNoDatabase(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.References.SQLitePath = ""
	if cfg.References.Enabled() {
		t.Fatal("references enabled without dir")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("RULEKEEPER_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9000
room:
  url: wss://rooms.example.com/ws
  room_id: lost-mine
  player_name: Alice
sync:
  poll_interval: 30s
references:
  dir: ./rules
auth:
  mode: token
  token: ${RULEKEEPER_TEST_TOKEN}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Address() != ":9000" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Room.RoomID != "lost-mine" || cfg.Room.PlayerName != "Alice" {
		t.Errorf("room = %+v", cfg.Room)
	}
	if cfg.Sync.PollInterval != 30*time.Second || cfg.Sync.RequestTimeout != 5*time.Second {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if !cfg.References.Enabled() || cfg.References.SQLitePath != "./references.db" {
		t.Errorf("references = %+v", cfg.References)
	}
	if !cfg.Auth.AuthEnabled() || cfg.Auth.Token != "s3cret" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
}
