package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDatabaseDefaults(&cfg.Database)
	applyAppDefaults(&cfg.App)
	applyStorageDefaults(&cfg.Storage, cfg.App.Dir)
	applySafeDefaults(&cfg.Safe)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(getDataDir(), "db")
	}
	if cfg.BlockCacheSizeMB == 0 {
		cfg.BlockCacheSizeMB = 64
	}
	if cfg.IndexCacheSizeMB == 0 {
		cfg.IndexCacheSizeMB = 32
	}
}

func applyAppDefaults(cfg *AppConfig) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(getDataDir(), "app")
	}
}

func applyStorageDefaults(cfg *StorageConfig, appDir string) {
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["root"]; !ok {
		cfg.Filesystem["root"] = filepath.Join(appDir, "stores")
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = 10
	}
	// MaxRequestsPerSecond defaults to 0 (unlimited)
}

func applySafeDefaults(cfg *SafeConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.GCGracePeriod == 0 {
		cfg.GCGracePeriod = 10 * time.Minute
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
