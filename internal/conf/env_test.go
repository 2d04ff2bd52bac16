package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		validate func(string) error
		value    string
		wantErr  bool
	}{
		{"bool true", validateEnvBool, "true", false},
		{"bool one", validateEnvBool, "1", false},
		{"bool maybe", validateEnvBool, "maybe", true},
		{"threads zero", validateEnvThreads, "0", false},
		{"threads negative", validateEnvThreads, "-1", true},
		{"threads text", validateEnvThreads, "four", true},
		{"rate 48k", validateEnvSampleRate, "48000", false},
		{"rate too low", validateEnvSampleRate, "4000", true},
		{"unit half", validateEnvUnitInterval, "0.5", false},
		{"unit above", validateEnvUnitInterval, "1.2", true},
		{"unit text", validateEnvUnitInterval, "high", true},
		{"history sqlite", validateEnvHistoryType, "sqlite", false},
		{"history postgres", validateEnvHistoryType, "postgres", true},
		{"url https", validateEnvURL, "https://example.com/model.tflite", false},
		{"url tcp broker", validateEnvURL, "tcp://broker:1883", false},
		{"url no scheme", validateEnvURL, "example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvPath(t *testing.T) {
	t.Parallel()

	tmpFile := filepath.Join(t.TempDir(), "model.tflite")
	require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o600))

	require.NoError(t, validateEnvPath(tmpFile))

	err := validateEnvPath(filepath.Join("relative", "model.tflite"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")

	err = validateEnvPath(filepath.Join(t.TempDir(), "missing.tflite"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

// Not parallel: touches the global viper instance and process environment.
func TestConfigureEnvironmentVariables(t *testing.T) {
	t.Run("invalid values are reported", func(t *testing.T) {
		viper.Reset()
		t.Setenv("THREATWATCH_DEBUG", "maybe")
		t.Setenv("THREATWATCH_ALERT_THRESHOLD", "2")

		err := configureEnvironmentVariables()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "THREATWATCH_DEBUG")
		assert.Contains(t, err.Error(), "THREATWATCH_ALERT_THRESHOLD")
	})

	t.Run("valid values bind", func(t *testing.T) {
		viper.Reset()
		t.Setenv("THREATWATCH_CAPTURE_DEVICE", "USB Audio")
		t.Setenv("THREATWATCH_ALERT_THRESHOLD", "0.8")

		require.NoError(t, configureEnvironmentVariables())
		assert.Equal(t, "USB Audio", viper.GetString("capture.device"))
		assert.InDelta(t, 0.8, viper.GetFloat64("detection.alertthreshold"), 1e-9)
	})

	viper.Reset()
}
