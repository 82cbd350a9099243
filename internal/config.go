package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Local    LocalConfig       `yaml:"local"`
	Remote   RemoteConfig      `yaml:"remote"`
	Sync     SyncConfig        `yaml:"sync"`
	Importer ImporterConfig    `yaml:"importer"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Local.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// LocalConfig holds the local SQLite store configuration.
type LocalConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Validate validates the local store configuration.
func (c *LocalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SQLitePath, validation.Required),
	)
}

// RemoteConfig holds the remote sync service configuration. An empty
// BaseURL disables the remote side entirely; the app then runs local-only
// with an in-memory remote.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the per-call remote timeout.
func (c *RemoteConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("remote: base_url must be an http(s) URL")
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.TimeoutSeconds, validation.Min(0)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
	)
}

// SyncConfig holds sync engine configuration. OwnerID scopes every
// remote document; it is required whenever a remote is configured.
type SyncConfig struct {
	OwnerID              string `yaml:"owner_id"`
	IntervalSeconds      int    `yaml:"interval_seconds"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
	HistoryPath          string `yaml:"history_path"`
}

// Interval returns the periodic full-pass interval; zero disables the
// scheduler.
func (c *SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval.
func (c *SyncConfig) ProbeInterval() time.Duration {
	if c.ProbeIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IntervalSeconds, validation.Min(0)),
		validation.Field(&c.ProbeIntervalSeconds, validation.Min(0)),
		validation.Field(&c.HistoryPath, validation.Required),
	)
}

// ImporterConfig holds the inbox importer configuration. An empty path
// disables the importer.
type ImporterConfig struct {
	InboxPath string `yaml:"inbox_path"`
}

// AuthConfig holds API authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
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
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Local: LocalConfig{
			SQLitePath: "./skrift.db",
		},
		Remote: RemoteConfig{
			TimeoutSeconds: 15,
			MaxRetries:     3,
		},
		Sync: SyncConfig{
			OwnerID:              "local",
			IntervalSeconds:      300,
			ProbeIntervalSeconds: 30,
			HistoryPath:          "./skrift-sync.json",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
