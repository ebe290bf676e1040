package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "LMPI",
		v:          viper.New(),
	}
}

// Load reads configuration from defaults, file and environment, in that order.
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()
	setDefaults(l.v, cfg)

	// Environment overrides, e.g. LMPI_LOG_LEVEL or LMPI_SECURITY_SESSION_TTL
	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	_ = l.v.BindEnv("storage.data_dir", "LMPI_STORAGE_DATA_DIR", "LMPI_DATA_DIR")

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		// Try default locations
		l.v.SetConfigName(AppName)
		for _, path := range l.defaultPaths() {
			l.v.AddConfigPath(path)
		}
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the settings file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", AppName),
			filepath.Join(homeDir, "."+AppName),
		)
	}

	return paths
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.config_file", cfg.Storage.ConfigFile)
	v.SetDefault("storage.salt_file", cfg.Storage.SaltFile)
	v.SetDefault("storage.session_file", cfg.Storage.SessionFile)
	v.SetDefault("storage.atomic_writes", cfg.Storage.AtomicWrites)

	v.SetDefault("security.kdf_iterations", cfg.Security.KDFIterations)
	v.SetDefault("security.session_ttl", cfg.Security.SessionTTL)

	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	v.SetDefault("api.retry_delay", cfg.API.RetryDelay)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)

	v.SetDefault("providers.endpoints", cfg.Providers.Endpoints)
	v.SetDefault("providers.huggingface_url", cfg.Providers.HuggingFaceURL)

	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.file", cfg.Audit.File)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)
}

// SaveExample writes an example settings file. The format follows the
// file extension (yaml, json or toml).
func SaveExample(path string) error {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("chmod file: %w", err)
	}

	return nil
}
