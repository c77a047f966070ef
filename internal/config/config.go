// Package config loads and validates gtsvm configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// FileName is looked up in the working directory when no file is given.
	FileName  = "gtsvm"
	EnvPrefix = "GTSVM"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
	})
}

// defaults mirrors the toolchain's own defaults where it has them.
var defaults = map[string]interface{}{
	"solver.bin_dir":        "../bin/",
	"solver.runtime":        "local",
	"solver.failure_policy": "stderr",
	"solver.stage_timeout":  "0s",
	"solver.docker.image":   "nvidia/cuda:12.4.1-runtime-ubuntu22.04",
	"solver.docker.gpu":     true,
	"solver.docker.pull":    false,
	"model.c":               1.0,
	"model.kernel":          "gaussian",
	"model.gamma":           1.0,
	"model.tolerance":       0.001,
	"model.max_iter":        1000000,
	"model.biased":          false,
	"model.small_clusters":  false,
	"model.active_clusters": 0,
	"model.recalculate":     false,
	"workspace.dir":         "",
	"log.level":             "warn",
}

// New returns a viper instance with every key defaulted and GTSVM_*
// environment overrides enabled. Callers bind flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or gtsvm.yaml from the working directory when path is
// empty, and returns the validated configuration. A missing gtsvm.yaml is
// not an error; a missing explicit path is.
func Load(v *viper.Viper, path string) (*Config, error) {
	v.SetConfigType("yaml")
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config - malformed YAML: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, formatValidationError(err)
	}

	return &cfg, nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, formatFieldError(e))
		}

		if len(errorMessages) == 1 {
			return fmt.Errorf("validation error: %s", errorMessages[0])
		}

		var b strings.Builder
		b.WriteString("validation errors:\n")
		for _, msg := range errorMessages {
			fmt.Fprintf(&b, "  - %s\n", msg)
		}
		return errors.New(b.String())
	}
	return fmt.Errorf("validation failed: %w", err)
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", field, e.Param())
	case "gte", "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, e.Tag())
	}
}
