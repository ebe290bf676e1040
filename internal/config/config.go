package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File names inside the data directory.
const (
	AppName         = "lmpi"
	ConfigFileName  = AppName + "_config.json"
	SaltFileName    = AppName + "_salt.bin"
	SessionFileName = AppName + "_session.json"
	AuditFileName   = AppName + "_audit.db"
)

// Key derivation and session limits.
const (
	MinKDFIterations     = 100000
	DefaultKDFIterations = 100000
	DefaultSessionTTL    = 900 * time.Second
)

// Config holds all application configuration.
type Config struct {
	// Vault file locations
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// Key derivation and session lifetime
	Security SecurityConfig `mapstructure:"security" json:"security"`

	// HTTP client used by model testers
	API APIConfig `mapstructure:"api" json:"api"`

	// Model provider endpoints
	Providers ProvidersConfig `mapstructure:"providers" json:"providers"`

	// Audit journal
	Audit AuditConfig `mapstructure:"audit" json:"audit"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir" json:"data_dir"`           // Base directory for all vault files
	ConfigFile   string `mapstructure:"config_file" json:"config_file"`     // Encrypted configuration document
	SaltFile     string `mapstructure:"salt_file" json:"salt_file"`         // Raw 16-byte salt
	SessionFile  string `mapstructure:"session_file" json:"session_file"`   // Session record
	AtomicWrites bool   `mapstructure:"atomic_writes" json:"atomic_writes"` // Write via temp file + rename
}

// SecurityConfig for key derivation and sessions.
type SecurityConfig struct {
	KDFIterations int           `mapstructure:"kdf_iterations" json:"kdf_iterations"`
	SessionTTL    time.Duration `mapstructure:"session_ttl" json:"session_ttl"`
}

// APIConfig for provider communication.
type APIConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent" json:"user_agent"`
}

// ProvidersConfig maps provider names to the endpoint a tester posts to.
type ProvidersConfig struct {
	Endpoints      map[string]string `mapstructure:"endpoints" json:"endpoints"`
	HuggingFaceURL string            `mapstructure:"huggingface_url" json:"huggingface_url"`
}

// AuditConfig for the event journal.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	File    string `mapstructure:"file" json:"file"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // Log file path (empty = stderr)
	Color  bool   `mapstructure:"color" json:"color"`   // Enable colored output
}

// DefaultDataDir returns the per-user application data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return "." + AppName
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: DefaultDataDir(),
		},
		Security: SecurityConfig{
			KDFIterations: DefaultKDFIterations,
			SessionTTL:    DefaultSessionTTL,
		},
		API: APIConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
			UserAgent:  "lmpi/1.0",
		},
		Providers: ProvidersConfig{
			Endpoints: map[string]string{
				"openai":    "https://api.openai.com/v1/completions",
				"anthropic": "https://api.anthropic.com/v1/complete",
				"cohere":    "https://api.cohere.ai/v1/generate",
			},
			HuggingFaceURL: "https://api-inference.huggingface.co",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	if c.Security.KDFIterations < MinKDFIterations {
		return fmt.Errorf("security.kdf_iterations must be at least %d", MinKDFIterations)
	}

	if c.Security.SessionTTL <= 0 {
		return errors.New("security.session_ttl must be positive")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must not be negative")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// ConfigPath returns the encrypted configuration document path.
func (c *Config) ConfigPath() string {
	return c.resolve(c.Storage.ConfigFile, ConfigFileName)
}

// SaltPath returns the salt file path.
func (c *Config) SaltPath() string {
	return c.resolve(c.Storage.SaltFile, SaltFileName)
}

// SessionPath returns the session file path.
func (c *Config) SessionPath() string {
	return c.resolve(c.Storage.SessionFile, SessionFileName)
}

// AuditPath returns the audit database path.
func (c *Config) AuditPath() string {
	return c.resolve(c.Audit.File, AuditFileName)
}

// resolve expands a configured path, falling back to name inside the data dir.
// Relative overrides are taken relative to the data dir.
func (c *Config) resolve(override, name string) string {
	if override == "" {
		return filepath.Join(expandHome(c.Storage.DataDir), name)
	}
	override = expandHome(override)
	if filepath.IsAbs(override) {
		return override
	}
	return filepath.Join(expandHome(c.Storage.DataDir), override)
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		expandHome(c.Storage.DataDir),
		filepath.Dir(c.ConfigPath()),
		filepath.Dir(c.SaltPath()),
		filepath.Dir(c.SessionPath()),
	}

	if c.Audit.Enabled {
		dirs = append(dirs, filepath.Dir(c.AuditPath()))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(expandHome(c.Log.File)))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
