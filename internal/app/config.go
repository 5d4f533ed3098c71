package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mariahpope/anemoi-training/internal/auth"
	"github.com/mariahpope/anemoi-training/internal/credstore"
	"github.com/mariahpope/anemoi-training/internal/prompt"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StorageType represents the different storage backends for the refresh token record.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeKeyring StorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigServerTimeout     = 30 * time.Second
	DefaultConfigAuthStorage       = StorageTypeFile
	DefaultConfigKeyringService    = "anemoi-mlflow-token"
	DefaultConfigTokenFileName     = "mlflow-token.json"
	DefaultConfigRefreshExpireDays = auth.DefaultRefreshExpireDays
)

// ServerConfig holds token server configuration.
type ServerConfig struct {
	// URL of the authentication server. Required unless authentication is disabled.
	URL string `json:"url" validate:"omitempty,url"`

	// Timeout for each token-exchange request.
	Timeout time.Duration `json:"timeout"`
}

// AuthConfig describes how the token authority tracks and stores credentials.
type AuthConfig struct {
	// Enabled turns authentication off entirely when false.
	Enabled bool `json:"enabled"`

	// RefreshExpireDays is the client-side refresh token lifetime.
	RefreshExpireDays int `json:"refresh_expire_days" validate:"omitempty,min=1"`

	// Storage configuration - where the refresh token record lives
	Storage StorageType `json:"storage" validate:"required,oneof=file keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`         // For file storage: path to token record
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier

	// SetEnv controls the MLFLOW_TRACKING_TOKEN compatibility shim.
	SetEnv bool `json:"set_env"`
}

// NewStore creates a credstore.Store from the authentication configuration.
func (a *AuthConfig) NewStore() (credstore.Store, error) {
	switch a.Storage {
	case StorageTypeFile:
		return credstore.NewFileStore(a.File)
	case StorageTypeKeyring:
		return credstore.NewKeyringStore(DefaultConfigKeyringService, a.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level   `json:"log_level"`
	LogFormat LogFormat    `json:"log_format" validate:"oneof=text json"`
	LogExport string       `json:"log_export" validate:"omitempty,oneof=otlp-http otlp-grpc stdout"`
	Server    ServerConfig `json:"server"`
	Auth      AuthConfig   `json:"auth"`
}

// Defaults returns the config keys whose zero value is not the desired default.
// They are loaded before any other configuration source so that an explicit
// `enabled = false` still wins.
func Defaults() map[string]any {
	return map[string]any{
		"auth.enabled": true,
		"auth.set_env": true,
	}
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultConfigServerTimeout
	}
	if c.Auth.RefreshExpireDays == 0 {
		c.Auth.RefreshExpireDays = DefaultConfigRefreshExpireDays
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case StorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "anemoi", DefaultConfigTokenFileName)
		}
	case StorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// Required even when authentication is disabled, so a misconfigured job
	// fails before the long run starts rather than at the first API call.
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}

	switch c.Auth.Storage {
	case StorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case StorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}

// NewAuthority builds the token authority described by this configuration.
func (c *Config) NewAuthority(prompter prompt.CredentialPrompter) (*auth.Authority, error) {
	store, err := c.Auth.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	opts := []auth.Option{
		auth.WithEnabled(c.Auth.Enabled),
		auth.WithRefreshExpireDays(c.Auth.RefreshExpireDays),
		auth.WithHTTPClient(&http.Client{Timeout: c.Server.Timeout}),
	}
	if !c.Auth.SetEnv {
		opts = append(opts, auth.WithoutEnv())
	}

	return auth.New(c.Server.URL, store, prompter, opts...)
}
