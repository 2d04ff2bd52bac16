package observability

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

// TextfileExporter periodically writes the registry in the Prometheus text
// format, for collection by node_exporter's textfile collector.
type TextfileExporter struct {
	path     string
	interval time.Duration
	metrics  *Metrics

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewTextfileExporter returns an exporter for the metrics settings. It
// returns an error when metrics are disabled or no path is configured.
func NewTextfileExporter(settings *conf.MetricsSettings, m *Metrics) (*TextfileExporter, error) {
	if !settings.Enabled {
		return nil, errors.Newf("metrics export is not enabled in settings").
			Component("metrics").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Path == "" {
		return nil, errors.Newf("metrics textfile path is empty").
			Component("metrics").
			Category(errors.CategoryConfiguration).
			Build()
	}
	interval := settings.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &TextfileExporter{path: settings.Path, interval: interval, metrics: m}, nil
}

// WriteTextfile writes the registry to path once.
func WriteTextfile(path string, registry *prometheus.Registry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("metrics").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return errors.New(err).
			Component("metrics").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return nil
}

// Start begins periodic export. The final snapshot is written on Stop.
func (e *TextfileExporter) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	GetLogger().Info("metrics textfile exporter started",
		logger.String("path", e.path),
		logger.Duration("interval", e.interval))

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := WriteTextfile(e.path, e.metrics.Registry()); err != nil {
					GetLogger().Warn("failed to write metrics textfile", logger.Error(err))
				}
			}
		}
	}()
}

// Stop halts the exporter and writes one last snapshot.
func (e *TextfileExporter) Stop() error {
	var err error
	e.once.Do(func() {
		if e.cancel != nil {
			e.cancel()
			<-e.done
		}
		err = WriteTextfile(e.path, e.metrics.Registry())
	})
	return err
}
