// Package analysis assembles the detection pipeline from settings and runs
// it against a sound card, an audio file or an enrollment directory.
package analysis

import (
	"io/fs"
	"os"
	"sync"

	"github.com/tphakala/threatwatch/internal/alerts"
	"github.com/tphakala/threatwatch/internal/capture"
	"github.com/tphakala/threatwatch/internal/classifier"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/controller"
	"github.com/tphakala/threatwatch/internal/cpuspec"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/history"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/observability"
	"github.com/tphakala/threatwatch/internal/prototype"
	"github.com/tphakala/threatwatch/internal/scorer"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the analysis package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("analysis")
	})
	return log
}

// Option customizes NewPipeline
type Option func(*options)

type options struct {
	loader controller.ModelLoader
}

// WithLoader replaces the model loader built from settings.
func WithLoader(l controller.ModelLoader) Option {
	return func(o *options) { o.loader = l }
}

// NewModelLoader builds the classifier loader described by the model settings.
func NewModelLoader(s *conf.Settings) (*classifier.Loader, error) {
	cacheDir, err := conf.ModelCacheDir(s.Model.CacheDir)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Context("operation", "resolve_model_cache").
			Build()
	}
	return classifier.NewLoader(classifier.LoaderConfig{
		ModelPath:     s.Model.Path,
		ModelURL:      s.Model.URL,
		SHA256:        s.Model.SHA256,
		LabelsPath:    s.Model.Labels,
		CacheDir:      cacheDir,
		Threads:       cpuspec.ThreadCount(s.Model.Threads),
		EmbeddingSize: s.Model.EmbeddingSize,
		FetchTimeout:  s.Model.FetchTimeout,
	}), nil
}

// ScorerFactory returns a controller.ScorerFactory using the detection settings.
func ScorerFactory(d *conf.DetectionSettings) controller.ScorerFactory {
	return func(labels []string) (*scorer.Scorer, error) {
		tax, err := scorer.TaxonomyFromSettings(labels, d)
		if err != nil {
			return nil, err
		}
		return scorer.New(tax, scorer.ConfigFromSettings(d)), nil
	}
}

// LoadPrototypes reads the configured prototype file. A missing file or an
// empty path gives an empty set, so detection runs on the classifier alone.
func LoadPrototypes(path string) (*prototype.Set, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		GetLogger().Info("prototype file not found, custom verification disabled", logger.String("path", path))
		return nil, nil
	}
	set, err := prototype.LoadFile(path)
	if err != nil {
		return nil, err
	}
	GetLogger().Info("prototypes loaded",
		logger.String("path", path),
		logger.Int("gunshot", set.Count(prototype.Gunshot)),
		logger.Int("chainsaw", set.Count(prototype.Chainsaw)))
	return set, nil
}

// buildSinks returns the alert sinks enabled in settings. The MQTT sink is
// returned separately so the caller can connect it.
func buildSinks(s *conf.AlertSettings, m *observability.Metrics) ([]alerts.Sink, *alerts.MQTTSink, error) {
	sinks := []alerts.Sink{alerts.NewLogSink(nil)}
	var mq *alerts.MQTTSink
	if s.MQTT.Enabled {
		var err error
		mq, err = alerts.NewMQTTSink(&s.MQTT, m.Alerts)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, mq)
	}
	if s.Push.Enabled {
		push, err := alerts.NewPushSink(&s.Push)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, push)
	}
	return sinks, mq, nil
}

// openHistory opens the incident store when enabled, or returns nil.
func openHistory(s *conf.HistorySettings) (*history.Store, error) {
	if !s.Enabled {
		return nil, nil
	}
	return history.Open(s)
}

// newOpener returns the sound card source for the capture settings.
func newOpener(s *conf.CaptureSettings) capture.Opener {
	return capture.NewMalgo(capture.MalgoConfig{
		Device:     s.Device,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
		BufferMs:   s.BufferMs,
	})
}
