package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSettings(t *testing.T, v *viper.Viper) *Settings {
	t.Helper()
	s := &Settings{}
	require.NoError(t, v.Unmarshal(s))
	return s
}

func TestDefaultSettingsAreValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSettings(DefaultSettings()))
}

func TestEmbeddedConfigMatchesDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(getDefaultConfig())))

	got := readSettings(t, v)
	want := DefaultSettings()

	assert.Equal(t, want.Detection, got.Detection)
	assert.Equal(t, want.Capture, got.Capture)
	assert.Equal(t, want.Model, got.Model)
	assert.Equal(t, want.Alerts.Cooldown, got.Alerts.Cooldown)
	assert.Equal(t, want.Alerts.RateInterval, got.Alerts.RateInterval)
	assert.Equal(t, want.Alerts.Burst, got.Alerts.Burst)
	assert.Equal(t, want.Alerts.MQTT, got.Alerts.MQTT)
	assert.Equal(t, want.History, got.History)
	assert.Equal(t, want.Metrics, got.Metrics)
	assert.NoError(t, ValidateSettings(got))
}

func TestDetectionDefaults(t *testing.T) {
	t.Parallel()

	d := DefaultSettings().Detection
	assert.InDelta(t, 0.2, d.StrongVetoFloor, 1e-9)
	assert.InDelta(t, 0.5, d.WeakVetoFloor, 1e-9)
	assert.InDelta(t, 0.3, d.WeakVetoPenalty, 1e-9)
	assert.InDelta(t, 0.75, d.VerifyThreshold, 1e-9)
	assert.InDelta(t, 0.6, d.AlertThreshold, 1e-9)
	assert.Equal(t, 5, d.TopK)
	assert.Equal(t, 15600, d.WindowSize)
	assert.Equal(t, 8000, d.TriggerSamples)
	assert.Equal(t, 16000, d.TargetRate)
	assert.Equal(t, 2, d.QueueSize)
}

func TestDefaultSettingsSlicesAreCopies(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.Detection.Veto[0] = "mutated"
	assert.Equal(t, "Clapping", DefaultVetoLabels[0])
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	want := DefaultSettings()
	want.Alerts.MQTT.Enabled = true
	want.Alerts.MQTT.Topic = "site/north"
	want.Detection.AlertThreshold = 0.7
	want.Alerts.Cooldown = 30 * time.Second

	require.NoError(t, SaveYAMLConfig(path, want))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	got := readSettings(t, v)

	assert.Equal(t, want.Detection, got.Detection)
	assert.Equal(t, want.Alerts.MQTT, got.Alerts.MQTT)
	assert.Equal(t, 30*time.Second, got.Alerts.Cooldown)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should be cleaned up")
}

func TestLoggingConfig(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.Main.Log.ModuleLevels = map[string]string{"controller": "trace"}

	cfg := s.LoggingConfig()
	assert.Equal(t, "info", cfg.DefaultLevel)
	assert.Equal(t, "info", cfg.FileOutput.Level)
	assert.False(t, cfg.FileOutput.Enabled)
	assert.Equal(t, "trace", cfg.ModuleLevels["controller"])

	s.Debug = true
	s.Main.Log.File.Level = ""
	cfg = s.LoggingConfig()
	assert.Equal(t, "debug", cfg.DefaultLevel)
	assert.Equal(t, "debug", cfg.Console.Level)
	assert.Equal(t, "debug", cfg.FileOutput.Level)
}
