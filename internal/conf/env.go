// env.go - Environment variable configuration and validation for threatwatch
package conf

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "THREATWATCH_DEBUG", validateEnvBool},

		// Model
		{"model.path", "THREATWATCH_MODEL_PATH", validateEnvPath},
		{"model.url", "THREATWATCH_MODEL_URL", validateEnvURL},
		{"model.labels", "THREATWATCH_MODEL_LABELS", nil},
		{"model.cachedir", "THREATWATCH_MODEL_CACHEDIR", nil},
		{"model.threads", "THREATWATCH_MODEL_THREADS", validateEnvThreads},

		// Capture
		{"capture.device", "THREATWATCH_CAPTURE_DEVICE", nil},
		{"capture.samplerate", "THREATWATCH_CAPTURE_SAMPLERATE", validateEnvSampleRate},

		// Detection
		{"detection.alertthreshold", "THREATWATCH_ALERT_THRESHOLD", validateEnvUnitInterval},
		{"detection.verifythreshold", "THREATWATCH_VERIFY_THRESHOLD", validateEnvUnitInterval},
		{"prototypes.path", "THREATWATCH_PROTOTYPES_PATH", nil},

		// Alert delivery
		{"alerts.mqtt.enabled", "THREATWATCH_MQTT_ENABLED", validateEnvBool},
		{"alerts.mqtt.broker", "THREATWATCH_MQTT_BROKER", validateEnvURL},
		{"alerts.mqtt.username", "THREATWATCH_MQTT_USERNAME", nil},
		{"alerts.mqtt.password", "THREATWATCH_MQTT_PASSWORD", nil},

		// History and telemetry
		{"history.type", "THREATWATCH_HISTORY_TYPE", validateEnvHistoryType},
		{"history.mysql.password", "THREATWATCH_MYSQL_PASSWORD", nil},
		{"sentry.enabled", "THREATWATCH_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "THREATWATCH_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvThreads(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 0 {
		return fmt.Errorf("must be zero or positive, got %d", n)
	}
	return nil
}

func validateEnvSampleRate(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 8000 || n > 384000 {
		return fmt.Errorf("must be between 8000 and 384000, got %d", n)
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1, got %g", f)
	}
	return nil
}

func validateEnvHistoryType(value string) error {
	switch value {
	case HistoryTypeSQLite, HistoryTypeMySQL:
		return nil
	default:
		return fmt.Errorf("must be %q or %q", HistoryTypeSQLite, HistoryTypeMySQL)
	}
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL needs a scheme and host")
	}
	return nil
}

func validateEnvPath(value string) error {
	cleanedPath := filepath.Clean(value)

	if !filepath.IsAbs(cleanedPath) {
		return fmt.Errorf("path must be absolute, got relative path: %s", cleanedPath)
	}

	for part := range strings.SplitSeq(cleanedPath, string(os.PathSeparator)) {
		if part == ".." {
			return fmt.Errorf("path traversal detected in cleaned path: %s", cleanedPath)
		}
	}

	if _, err := os.Stat(cleanedPath); os.IsNotExist(err) {
		return fmt.Errorf("warning: file does not exist: %s", cleanedPath)
	}

	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
