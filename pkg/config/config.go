// Package config provides YAML-based configuration loading with environment variable
// expansion and an optional environment overlay.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

type loadOptions struct {
	envPrefix string
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithEnvPrefix overlays environment variables named PREFIX_SECTION_FIELD on top of
// the file, e.g. APP_AUTH_JWT_SECRET. Unset variables leave file values untouched.
func WithEnvPrefix(prefix string) LoadOption {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// Load loads configuration from a YAML file with environment variable expansion.
func Load[T any](filename string, target *T, opts ...LoadOption) error {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if o.envPrefix != "" {
		if err := envconfig.Process(o.envPrefix, target); err != nil {
			return fmt.Errorf("failed to apply %s_* environment: %w", o.envPrefix, err)
		}
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// LoadWithDefaults loads configuration with fallback to a default file.
func LoadWithDefaults[T any](filename, defaultFile string, target *T, opts ...LoadOption) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		if defaultFile != "" {
			return Load(defaultFile, target, opts...)
		}
		return fmt.Errorf("config file not found: %s", filename)
	}
	return Load(filename, target, opts...)
}
