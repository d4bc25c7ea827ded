package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "debug"

database:
  path: "` + filepath.Join(tmpDir, "db") + `"

app:
  dir: "` + filepath.Join(tmpDir, "app") + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Database.Path != filepath.Join(tmpDir, "db") {
		t.Errorf("Expected database path from file, got %q", cfg.Database.Path)
	}
	if cfg.Safe.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Safe.ShutdownTimeout)
	}
	if root := cfg.Storage.Filesystem["root"]; root != filepath.Join(tmpDir, "app", "stores") {
		t.Errorf("Expected filesystem root under app dir, got %v", root)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Database.AsyncWrites {
		t.Error("Expected synchronous database writes by default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[storage]
max_requests_per_second = 50
burst = 100

[storage.s3]
region = "eu-west-1"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Storage.MaxRequestsPerSecond != 50 || cfg.Storage.Burst != 100 {
		t.Errorf("Expected storage throttling 50/100, got %d/%d", cfg.Storage.MaxRequestsPerSecond, cfg.Storage.Burst)
	}
	if cfg.Storage.S3["region"] != "eu-west-1" {
		t.Errorf("Expected S3 region 'eu-west-1', got %v", cfg.Storage.S3["region"])
	}
	if cfg.Storage.S3["max_retries"] != 10 {
		t.Errorf("Expected default S3 max_retries 10, got %v", cfg.Storage.S3["max_retries"])
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("DITTOSAFE_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOSAFE_DATABASE_PATH", filepath.Join(tmpDir, "envdb"))

	cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected env level 'ERROR', got %q", cfg.Logging.Level)
	}
	if cfg.Database.Path != filepath.Join(tmpDir, "envdb") {
		t.Errorf("Expected env database path, got %q", cfg.Database.Path)
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := GetConfigDir(); dir != "/custom/config/dittosafe" {
		t.Errorf("Expected XDG config dir, got %q", dir)
	}
	if path := GetDefaultConfigPath(); path != "/custom/config/dittosafe/config.yaml" {
		t.Errorf("Expected default path under XDG dir, got %q", path)
	}
}
