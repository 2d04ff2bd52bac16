// config.go: settings structs for threatwatch and the functions that load and save them.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/threatwatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// LogSettings controls console and file logging
type LogSettings struct {
	Level        string            // default level: trace, debug, info, warn, error
	Timezone     string            // "Local", "UTC" or an IANA name
	File         LogFileSettings   // JSON file output
	ModuleLevels map[string]string // per-module level overrides
}

// LogFileSettings configures the JSON log file
type LogFileSettings struct {
	Enabled bool
	Path    string
	Level   string
}

// MainSettings holds process-wide settings
type MainSettings struct {
	Name string // node name, included in alerts
	Log  LogSettings
}

// ModelSettings describes where the audio event classifier comes from
type ModelSettings struct {
	Path          string        // local .tflite file, takes precedence over URL
	URL           string        // download location when Path is empty
	SHA256        string        // optional checksum for the downloaded artifact
	Labels        string        // class map CSV or one-label-per-line text
	CacheDir      string        // where downloaded models are kept
	Threads       int           // 0 picks a count from the CPU topology
	EmbeddingSize int           // width of the embedding output
	FetchTimeout  time.Duration // HTTP timeout for the model download
}

// CaptureSettings configures the audio input device
type CaptureSettings struct {
	Device      string // device name or ID substring, empty for the system default
	SampleRate  int    // native capture rate
	Channels    int    // 1 or 2
	BufferMs    int    // ring buffer length in milliseconds
	ChunkFrames int    // frames per chunk for file playback
}

// CategorySettings lists the model labels that make up a threat category
type CategorySettings struct {
	Display string
	Labels  []string
}

// DetectionSettings holds the windowing, veto and fusion parameters
type DetectionSettings struct {
	TargetRate       int     // classifier input rate
	WindowSize       int     // samples per inference window
	TriggerSamples   int     // new samples between inferences
	QueueSize        int     // pending inference tasks before dropping
	VolumeFloor      float64 // RMS below this maps to distance 0
	DistanceRange    float64 // RMS span mapped onto distance 0..1
	DirectionEpsilon float64 // minimum summed energy for a direction estimate
	StrongVetoFloor  float64 // mimic above this zeroes the gunshot score when mimic >= gunshot
	WeakVetoFloor    float64 // mimic above this applies the penalty
	WeakVetoPenalty  float64
	VerifyThreshold  float64 // prototype similarity needed for "(verified)"
	AlertThreshold   float64 // final score needed to flag a category
	TopK             int
	Gunshot          CategorySettings
	Chainsaw         CategorySettings
	Veto             []string // labels that mimic gunshots
}

// PrototypeSettings configures the custom prototype file and enrollment
type PrototypeSettings struct {
	Path    string // JSON prototype set loaded at startup
	Workers int    // parallel decoders during enrollment
}

// MQTTSettings contains settings for MQTT alert publishing.
type MQTTSettings struct {
	Enabled  bool
	Broker   string // tcp://host:port
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      int
	Retain   bool
}

// PushSettings lists shoutrrr service URLs for push notifications
type PushSettings struct {
	Enabled bool
	URLs    []string
	Timeout time.Duration
}

// AlertSettings controls alert dispatch
type AlertSettings struct {
	Enabled      bool
	Cooldown     time.Duration // per-category quiet period after an alert
	RateInterval time.Duration // one alert per interval once the burst is spent
	Burst        int
	MQTT         MQTTSettings
	Push         PushSettings
}

// SQLiteSettings contains settings for the SQLite history database.
type SQLiteSettings struct {
	Path string
}

// MySQLSettings contains settings for the MySQL history database.
type MySQLSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// HistorySettings configures incident persistence
type HistorySettings struct {
	Enabled   bool
	Type      string        // sqlite or mysql
	SlowQuery time.Duration // statements slower than this are logged as warnings, 0 disables
	SQLite    SQLiteSettings
	MySQL     MySQLSettings
}

// MetricsSettings configures the Prometheus textfile export
type MetricsSettings struct {
	Enabled  bool
	Path     string
	Interval time.Duration
}

// SentrySettings configures error reporting
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
}

// Settings contains all configuration options for threatwatch.
type Settings struct {
	Debug bool // true to enable debug logging everywhere

	Main       MainSettings
	Model      ModelSettings
	Capture    CaptureSettings
	Detection  DetectionSettings
	Prototypes PrototypeSettings
	Alerts     AlertSettings
	History    HistorySettings
	Metrics    MetricsSettings
	Sentry     SentrySettings
}

// LoggingConfig converts the log section into the logger package's config
func (s *Settings) LoggingConfig() *logger.LoggingConfig {
	level := s.Main.Log.Level
	if s.Debug {
		level = string(logger.LogLevelDebug)
	}
	fileLevel := s.Main.Log.File.Level
	if fileLevel == "" {
		fileLevel = level
	}
	return &logger.LoggingConfig{
		Timezone:     s.Main.Log.Timezone,
		DefaultLevel: level,
		Console:      &logger.ConsoleOutput{Enabled: true, Level: level},
		FileOutput: &logger.FileOutput{
			Enabled: s.Main.Log.File.Enabled,
			Path:    s.Main.Log.File.Path,
			Level:   fileLevel,
		},
		ModuleLevels: s.Main.Log.ModuleLevels,
	}
}

// settingsMutex serializes Load, which mutates the global viper instance
var settingsMutex sync.Mutex

// Load reads the configuration file and environment variables into a new Settings
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// --config takes precedence over the search paths
	if explicit := viper.GetString("config"); explicit != "" {
		viper.SetConfigFile(explicit)
	} else {
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// bad env values are reported, not fatal; viper falls back to file values
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Debug("configuration loaded", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// createDefaultConfig writes the embedded default config to the first search path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file from embedded FS: %v", err)
	}
	return string(data)
}

// SaveYAMLConfig writes settings to configPath through a temporary file.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// cross-device rename
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
