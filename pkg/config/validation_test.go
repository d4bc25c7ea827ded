package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_MissingDatabasePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Database.Path = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for empty database path")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("Expected 'required' validation error, got: %v", err)
	}
}

func TestValidate_BurstWithoutRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Burst = 10

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for burst without rate")
	}
	if !strings.Contains(err.Error(), "max_requests_per_second") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidate_MetricsPortRequiresEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Port = 9090

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for metrics port without metrics enabled")
	}

	cfg.Metrics.Enabled = true
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config, got: %v", err)
	}
}

func TestValidate_SameDatabaseAndAppDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.App.Dir = cfg.Database.Path

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error when database and app dir collide")
	}
}

func TestStruct_Options(t *testing.T) {
	type options struct {
		Limit int `validate:"gte=0"`
	}

	if err := Struct(options{Limit: 3}); err != nil {
		t.Errorf("Expected valid options, got: %v", err)
	}
	if err := Struct(options{Limit: -1}); err == nil {
		t.Error("Expected validation error for negative limit")
	}
}
