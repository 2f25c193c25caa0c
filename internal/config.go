package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/duet/internal/schedule"
)

// EnvPrefix prefixes environment variables overriding the config file.
const EnvPrefix = "DUET"

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Reports    ReportsConfig     `yaml:"reports"`
	Summarizer SummarizerConfig  `yaml:"summarizer"`
	MCP        MCPConfig         `yaml:"mcp"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Reports.Validate(); err != nil {
		return fmt.Errorf("reports: %w", err)
	}
	if err := c.Summarizer.Validate(); err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" split_words:"true"`
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

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig configures the built-in identity provider.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" split_words:"true"`
	TokenTTL        time.Duration `yaml:"token_ttl" split_words:"true"`
	BcryptCost      int           `yaml:"bcrypt_cost" split_words:"true"`
	MaxFailedLogins int           `yaml:"max_failed_logins" split_words:"true"`
	Lockout         time.Duration `yaml:"lockout"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.JWTSecret, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.TokenTTL, validation.Min(time.Minute)),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.MaxFailedLogins, validation.Min(1)),
		validation.Field(&c.Lockout, validation.Min(time.Second)),
	)
}

// ReportsConfig holds the reporting schedule.
type ReportsConfig struct {
	// Tick is how often a principal's schedule is re-evaluated.
	Tick time.Duration `yaml:"tick"`
	// Timezone names the location of the weekly boundary; empty means local time.
	Timezone string         `yaml:"timezone"`
	Override OverrideConfig `yaml:"override"`
}

// Validate validates the reports configuration.
func (c *ReportsConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Tick, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Timezone, validation.By(func(any) error {
			_, err := c.Location()
			return err
		})),
	)
	if err != nil {
		return err
	}
	if err := c.Override.Validate(); err != nil {
		return fmt.Errorf("override: %w", err)
	}
	return nil
}

// Location resolves Timezone.
func (c *ReportsConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// OverrideConfig is an explicit reporting window replacing the weekly rule.
// Both bounds are RFC 3339 timestamps; leave both empty to use the weekly rule.
type OverrideConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Validate validates the override window.
func (c *OverrideConfig) Validate() error {
	if c.Start == "" && c.End == "" {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Start, validation.Required, validation.Date(time.RFC3339)),
		validation.Field(&c.End, validation.Required, validation.Date(time.RFC3339)),
	); err != nil {
		return err
	}
	_, err := c.Window()
	return err
}

// Window returns the parsed override, or nil when none is configured.
func (c *OverrideConfig) Window() (*schedule.Override, error) {
	if c.Start == "" && c.End == "" {
		return nil, nil
	}
	start, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, c.End)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	o := &schedule.Override{Start: start, End: end}
	if err := o.Validate(); err != nil {
		return nil, errors.New("start must be before end")
	}
	return o, nil
}

// SummarizerConfig configures the external summarization endpoint.
type SummarizerConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the summarizer configuration.
func (c *SummarizerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Second)),
	)
}

// MCPConfig configures the stdio MCP server.
type MCPConfig struct {
	// PrincipalID is the principal the MCP tools act as.
	PrincipalID string `yaml:"principal_id" split_words:"true"`
}

// Validate validates the MCP configuration. It is only checked by the mcp command.
func (c *MCPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PrincipalID, validation.Required),
	)
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
		SQLite: SQLiteConfig{
			Path: "./duet.db",
		},
		Auth: AuthConfig{
			TokenTTL:        24 * time.Hour,
			BcryptCost:      10,
			MaxFailedLogins: 5,
			Lockout:         15 * time.Minute,
		},
		Reports: ReportsConfig{
			Tick: 90 * time.Second,
		},
		Summarizer: SummarizerConfig{
			Timeout: 90 * time.Second,
		},
	}
}
