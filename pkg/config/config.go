package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete DittoSafe engine configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOSAFE_*), including those loaded from a .env file
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Storage backends are selected per safe by the URLs carried in access
// tokens, so the Storage section only holds backend-wide options (S3
// credentials, filesystem root for relative file:// URLs, throttling).
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Database configures the embedded key/value database
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// App configures the application data directory
	App AppConfig `mapstructure:"app" yaml:"app"`

	// Storage contains backend-wide storage options
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Safe contains defaults applied to safe sessions
	Safe SafeConfig `mapstructure:"safe" yaml:"safe"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// DatabaseConfig configures the BadgerDB instance holding settings,
// identities, the local safe index and the write-ahead journal.
type DatabaseConfig struct {
	// Path is the directory where BadgerDB stores its files
	Path string `mapstructure:"path" yaml:"path" validate:"required"`

	// AsyncWrites disables fsync on every commit. Defaults to false: each
	// successful write is durable before the call returns.
	AsyncWrites bool `mapstructure:"async_writes" yaml:"async_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb" yaml:"block_cache_mb" validate:"gte=0"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb" yaml:"index_cache_mb" validate:"gte=0"`
}

// AppConfig configures the application directory.
type AppConfig struct {
	// Dir holds the cache and the default root for relative file:// URLs
	Dir string `mapstructure:"dir" yaml:"dir" validate:"required"`
}

// StorageConfig contains options shared by all stores of a given type.
type StorageConfig struct {
	// MaxRequestsPerSecond throttles requests per store (0 = unlimited)
	MaxRequestsPerSecond uint `mapstructure:"max_requests_per_second" yaml:"max_requests_per_second"`

	// Burst is the number of requests allowed above the sustained rate
	Burst uint `mapstructure:"burst" yaml:"burst"`

	// Filesystem contains filesystem store options (root)
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// S3 contains S3 store options (region, endpoint, access_key_id,
	// secret_access_key, force_path_style, max_retries)
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on metrics collection
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port serves /metrics when > 0
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// SafeConfig contains session defaults.
type SafeConfig struct {
	// Description is used for new safes created without one
	Description string `mapstructure:"description" yaml:"description"`

	// ShutdownTimeout bounds how long Stop waits for open sessions to drain
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// GCInterval runs the orphan sweep periodically on open safes
	// (0 = only when a safe is opened)
	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval" validate:"gte=0"`

	// GCGracePeriod protects objects younger than this from the sweep
	GCGracePeriod time.Duration `mapstructure:"gc_grace_period" yaml:"gc_grace_period" validate:"gte=0"`
}

// envKeys lists the scalar keys that can be overridden from the environment.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"database.path",
	"database.async_writes",
	"database.block_cache_mb",
	"database.index_cache_mb",
	"app.dir",
	"storage.max_requests_per_second",
	"storage.burst",
	"storage.filesystem.root",
	"storage.s3.region",
	"storage.s3.endpoint",
	"storage.s3.access_key_id",
	"storage.s3.secret_access_key",
	"storage.s3.force_path_style",
	"storage.s3.max_retries",
	"metrics.enabled",
	"metrics.port",
	"safe.description",
	"safe.shutdown_timeout",
	"safe.gc_interval",
	"safe.gc_grace_period",
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads a .env file from the working directory, if present.
// Variables already set in the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOSAFE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/dittosafe, ~/.config/dittosafe or ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittosafe")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittosafe")
}

// getDataDir returns $XDG_DATA_HOME/dittosafe, ~/.local/share/dittosafe or "./.dittosafe".
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "dittosafe")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".dittosafe"
	}

	return filepath.Join(home, ".local", "share", "dittosafe")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
