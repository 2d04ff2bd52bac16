// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", AppName)
	viper.SetDefault("main.log.level", "info")
	viper.SetDefault("main.log.timezone", "Local")
	viper.SetDefault("main.log.file.enabled", false)
	viper.SetDefault("main.log.file.path", "logs/threatwatch.log")
	viper.SetDefault("main.log.file.level", "info")

	viper.SetDefault("model.path", "")
	viper.SetDefault("model.url", "https://storage.googleapis.com/mediapipe-models/audio_classifier/yamnet/float32/latest/yamnet.tflite")
	viper.SetDefault("model.sha256", "")
	viper.SetDefault("model.labels", "yamnet_class_map.csv")
	viper.SetDefault("model.cachedir", "")
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.embeddingsize", DefaultEmbeddingSize)
	viper.SetDefault("model.fetchtimeout", 2*time.Minute)

	viper.SetDefault("capture.device", "")
	viper.SetDefault("capture.samplerate", 48000)
	viper.SetDefault("capture.channels", 2)
	viper.SetDefault("capture.bufferms", 500)
	viper.SetDefault("capture.chunkframes", 1024)

	viper.SetDefault("detection.targetrate", ClassifierSampleRate)
	viper.SetDefault("detection.windowsize", ClassifierWindowSamples)
	viper.SetDefault("detection.triggersamples", TriggerSamples)
	viper.SetDefault("detection.queuesize", DefaultQueueSize)
	viper.SetDefault("detection.volumefloor", 0.01)
	viper.SetDefault("detection.distancerange", 0.3)
	viper.SetDefault("detection.directionepsilon", 0.001)
	viper.SetDefault("detection.strongvetofloor", 0.2)
	viper.SetDefault("detection.weakvetofloor", 0.5)
	viper.SetDefault("detection.weakvetopenalty", 0.3)
	viper.SetDefault("detection.verifythreshold", 0.75)
	viper.SetDefault("detection.alertthreshold", 0.6)
	viper.SetDefault("detection.topk", DefaultTopK)
	viper.SetDefault("detection.gunshot.display", "Gunshot")
	viper.SetDefault("detection.gunshot.labels", DefaultGunshotLabels)
	viper.SetDefault("detection.chainsaw.display", "Chainsaw")
	viper.SetDefault("detection.chainsaw.labels", DefaultChainsawLabels)
	viper.SetDefault("detection.veto", DefaultVetoLabels)

	viper.SetDefault("prototypes.path", "")
	viper.SetDefault("prototypes.workers", 4)

	viper.SetDefault("alerts.enabled", true)
	viper.SetDefault("alerts.cooldown", 10*time.Second)
	viper.SetDefault("alerts.rateinterval", 2*time.Second)
	viper.SetDefault("alerts.burst", 3)
	viper.SetDefault("alerts.mqtt.enabled", false)
	viper.SetDefault("alerts.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("alerts.mqtt.topic", "threatwatch/alerts")
	viper.SetDefault("alerts.mqtt.clientid", AppName)
	viper.SetDefault("alerts.mqtt.qos", 1)
	viper.SetDefault("alerts.mqtt.retain", false)
	viper.SetDefault("alerts.push.enabled", false)
	viper.SetDefault("alerts.push.urls", []string{})
	viper.SetDefault("alerts.push.timeout", 10*time.Second)

	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.type", HistoryTypeSQLite)
	viper.SetDefault("history.slowquery", 200*time.Millisecond)
	viper.SetDefault("history.sqlite.path", "threatwatch.db")
	viper.SetDefault("history.mysql.host", "localhost")
	viper.SetDefault("history.mysql.port", "3306")
	viper.SetDefault("history.mysql.username", AppName)
	viper.SetDefault("history.mysql.database", AppName)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.path", "/var/lib/node_exporter/textfile_collector/threatwatch.prom")
	viper.SetDefault("metrics.interval", 15*time.Second)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
}

// Default taxonomy labels, matching the AudioSet display names used by YAMNet.
var (
	DefaultGunshotLabels = []string{
		"Gunshot, gunfire", "Machine gun", "Fusillade", "Artillery fire", "Cap gun",
	}
	DefaultChainsawLabels = []string{"Chainsaw", "Power tool"}
	DefaultVetoLabels     = []string{
		"Clapping", "Hands", "Finger snapping", "Knock", "Slap, smack",
		"Drum", "Bass drum", "Snare drum", "Drum kit",
		"Door", "Slam", "Tap", "Thump, thud", "Whip", "Wood block",
	}
)

// DefaultSettings returns settings populated from the defaults alone, without
// reading any file or environment. Tests and the enroll command use it.
func DefaultSettings() *Settings {
	return &Settings{
		Main: MainSettings{
			Name: AppName,
			Log:  LogSettings{Level: "info", Timezone: "Local", File: LogFileSettings{Path: "logs/threatwatch.log", Level: "info"}},
		},
		Model: ModelSettings{
			URL:           "https://storage.googleapis.com/mediapipe-models/audio_classifier/yamnet/float32/latest/yamnet.tflite",
			Labels:        "yamnet_class_map.csv",
			EmbeddingSize: DefaultEmbeddingSize,
			FetchTimeout:  2 * time.Minute,
		},
		Capture: CaptureSettings{SampleRate: 48000, Channels: 2, BufferMs: 500, ChunkFrames: 1024},
		Detection: DetectionSettings{
			TargetRate:       ClassifierSampleRate,
			WindowSize:       ClassifierWindowSamples,
			TriggerSamples:   TriggerSamples,
			QueueSize:        DefaultQueueSize,
			VolumeFloor:      0.01,
			DistanceRange:    0.3,
			DirectionEpsilon: 0.001,
			StrongVetoFloor:  0.2,
			WeakVetoFloor:    0.5,
			WeakVetoPenalty:  0.3,
			VerifyThreshold:  0.75,
			AlertThreshold:   0.6,
			TopK:             DefaultTopK,
			Gunshot:          CategorySettings{Display: "Gunshot", Labels: append([]string(nil), DefaultGunshotLabels...)},
			Chainsaw:         CategorySettings{Display: "Chainsaw", Labels: append([]string(nil), DefaultChainsawLabels...)},
			Veto:             append([]string(nil), DefaultVetoLabels...),
		},
		Prototypes: PrototypeSettings{Workers: 4},
		Alerts: AlertSettings{
			Enabled:      true,
			Cooldown:     10 * time.Second,
			RateInterval: 2 * time.Second,
			Burst:        3,
			MQTT:         MQTTSettings{Broker: "tcp://localhost:1883", Topic: "threatwatch/alerts", ClientID: AppName, QoS: 1},
			Push:         PushSettings{Timeout: 10 * time.Second},
		},
		History: HistorySettings{
			Enabled:   true,
			Type:      HistoryTypeSQLite,
			SlowQuery: 200 * time.Millisecond,
			SQLite:    SQLiteSettings{Path: "threatwatch.db"},
			MySQL:     MySQLSettings{Host: "localhost", Port: "3306", Username: AppName, Database: AppName},
		},
		Metrics: MetricsSettings{
			Path:     "/var/lib/node_exporter/textfile_collector/threatwatch.prom",
			Interval: 15 * time.Second,
		},
		Sentry: SentrySettings{Environment: "production"},
	}
}
