package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/rulekeeper/internal/assistant"
	"github.com/starford/rulekeeper/internal/vaultsync"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Command names the process a configuration is loaded for.
type Command string

// Commands.
const (
	CommandAssistant Command = "assistant"
	CommandRoom      Command = "room"
	CommandPeer      Command = "peer"
	CommandMCP       Command = "mcp"
)

// commandSections lists the config sections each command reads.
var commandSections = map[Command][]string{
	CommandAssistant: {"app", "room", "sync", "references", "assistant", "auth"},
	CommandMCP:       {"app", "room", "sync", "references", "assistant"},
	CommandRoom:      {"app", "room_host"},
	CommandPeer:      {"app", "room", "sync", "peer"},
}

// Config represents the application configuration. Validate checks only the
// sections Command reads; an empty Command checks every section.
type Config struct {
	Command    Command           `yaml:"-"`
	App        ApplicationConfig `yaml:"app"`
	Room       RoomConfig        `yaml:"room"`
	Sync       SyncConfig        `yaml:"sync"`
	References ReferencesConfig  `yaml:"references"`
	Assistant  AssistantConfig   `yaml:"assistant"`
	RoomHost   RoomHostConfig    `yaml:"room_host"`
	Peer       PeerConfig        `yaml:"peer"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", c.App},
		{"room", c.Room},
		{"sync", c.Sync},
		{"references", c.References},
		{"assistant", c.Assistant},
		{"room_host", c.RoomHost},
		{"peer", c.Peer},
		{"auth", &c.Auth},
	}

	var wanted map[string]bool
	if c.Command != "" {
		names, ok := commandSections[c.Command]
		if !ok {
			return fmt.Errorf("unknown command %q", c.Command)
		}
		wanted = make(map[string]bool, len(names))
		for _, n := range names {
			wanted[n] = true
		}
	}

	for _, s := range sections {
		if wanted != nil && !wanted[s.name] {
			continue
		}
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func init() {
	// Report validation errors by their config key.
	validation.ErrorTag = "yaml"
}

var (
	wsURL   = regexp.MustCompile(`^wss?://\S+$`)
	httpURL = regexp.MustCompile(`^https?://\S+$`)
)

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c HTTPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RoomConfig locates the room server and the identity to join with.
type RoomConfig struct {
	URL        string `yaml:"url"`
	RoomID     string `yaml:"room_id"`
	PlayerID   string `yaml:"player_id"`
	PlayerName string `yaml:"player_name"`
}

// Validate validates the room configuration.
func (c RoomConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required, validation.Match(wsURL).Error("must be a ws:// or wss:// URL")),
		validation.Field(&c.RoomID, validation.Required),
	)
}

// SyncConfig tunes the vault cache.
type SyncConfig struct {
	Namespace      string        `yaml:"namespace"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Validate validates the sync configuration.
func (c SyncConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Namespace, validation.Required),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(100*time.Millisecond)),
	)
}

// ReferencesConfig holds the rules reference index. An empty Dir disables
// reference lookup.
type ReferencesConfig struct {
	Dir         string `yaml:"dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	SearchLimit int    `yaml:"search_limit"`
	Watch       bool   `yaml:"watch"`
}

// Enabled reports whether a reference directory is configured.
func (c ReferencesConfig) Enabled() bool { return c.Dir != "" }

// Validate validates the references configuration.
func (c ReferencesConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SQLitePath, validation.When(c.Enabled(), validation.Required)),
		validation.Field(&c.SearchLimit, validation.Min(0), validation.Max(20)),
	)
}

// AssistantConfig configures the model endpoint. An empty Model leaves the
// choice to a proxy endpoint.
type AssistantConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Ruleset   string        `yaml:"ruleset"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate validates the assistant configuration.
func (c AssistantConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoint, validation.Required, validation.Match(httpURL).Error("must be an http(s) URL")),
		validation.Field(&c.MaxTokens, validation.Min(0), validation.Max(8192)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
	)
}

// RoomHostConfig configures the "room" command. An empty SQLitePath keeps
// metadata in memory.
type RoomHostConfig struct {
	Port       int    `yaml:"port"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Address returns the room server listen address.
func (c RoomHostConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the room host configuration.
func (c RoomHostConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// PeerConfig configures the "peer" command that shares a vault directory.
type PeerConfig struct {
	VaultDir  string        `yaml:"vault_dir"`
	OwnerName string        `yaml:"owner_name"`
	Watch     bool          `yaml:"watch"`
	Debounce  time.Duration `yaml:"debounce"`
}

// Validate validates the peer configuration.
func (c PeerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.VaultDir, validation.Required),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local play.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP:     HTTPConfig{Port: 8080},
		},
		Room: RoomConfig{
			URL:        "ws://localhost:8090/ws",
			RoomID:     "table",
			PlayerName: "Player",
		},
		Sync: SyncConfig{
			Namespace:      vaultsync.DefaultNamespace,
			PollInterval:   20 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		References: ReferencesConfig{
			SQLitePath:  "./references.db",
			SearchLimit: 3,
			Watch:       true,
		},
		Assistant: AssistantConfig{
			Endpoint:  assistant.DefaultEndpoint,
			MaxTokens: assistant.DefaultMaxTokens,
			Ruleset:   assistant.DefaultRuleset,
			Timeout:   60 * time.Second,
		},
		RoomHost: RoomHostConfig{Port: 8090},
		Peer: PeerConfig{
			VaultDir:  "./vault",
			OwnerName: "GM",
			Watch:     true,
			Debounce:  300 * time.Millisecond,
		},
		Auth: AuthConfig{Mode: AuthModeDisabled},
	}
}
