// conf/consts.go hard coded constants
package conf

const (
	AppName = "threatwatch"

	// ClassifierSampleRate is the rate the audio event classifier was trained on
	ClassifierSampleRate = 16000
	// ClassifierWindowSamples is 0.975 s at 16 kHz
	ClassifierWindowSamples = 15600
	// TriggerSamples starts an inference every 0.5 s of new audio
	TriggerSamples = 8000

	DefaultEmbeddingSize = 1024
	DefaultTopK          = 5
	DefaultQueueSize     = 2

	HistoryTypeSQLite = "sqlite"
	HistoryTypeMySQL  = "mysql"
)
