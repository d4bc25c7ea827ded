package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that cannot be expressed in tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Storage.Burst > 0 && cfg.Storage.MaxRequestsPerSecond == 0 {
		return fmt.Errorf("storage: burst is set but max_requests_per_second is 0")
	}

	if cfg.Metrics.Port > 0 && !cfg.Metrics.Enabled {
		return fmt.Errorf("metrics: port is set but metrics are disabled")
	}

	if cfg.Database.Path == cfg.App.Dir {
		return fmt.Errorf("database.path and app.dir must be different directories")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}

// Struct validates any struct with the shared validator instance.
//
// Operation option structs use the same validator so their tags follow the
// same rules as configuration files.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}
