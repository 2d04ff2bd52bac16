package analysis

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/threatwatch/internal/alerts"
	"github.com/tphakala/threatwatch/internal/capture"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/controller"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/history"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/observability"
	"github.com/tphakala/threatwatch/internal/prototype"
)

const (
	alertBuffer  = 16
	renderBuffer = 64
)

// Renderer receives every published DetectionState the subscriber keeps up with.
type Renderer func(controller.DetectionState)

// Pipeline is a controller wired to its alerting, history and metrics
// collaborators.
type Pipeline struct {
	Controller *controller.Controller
	Prototypes *prototype.Store
	Metrics    *observability.Metrics
	Dispatcher *alerts.Dispatcher // nil when alerts are disabled
	History    *history.Store     // nil when history is disabled

	settings *conf.Settings
	sinks    []alerts.Sink
	mqtt     *alerts.MQTTSink
	exporter *observability.TextfileExporter

	cancel    context.CancelFunc
	connected context.CancelFunc // ends the background MQTT connect
	group     *errgroup.Group
	started   bool
	closeOnce sync.Once
	closeErr  error
}

// NewPipeline builds every component enabled in settings around opener.
// Nothing runs until Start.
func NewPipeline(settings *conf.Settings, opener capture.Opener, opts ...Option) (*Pipeline, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	set, err := LoadPrototypes(settings.Prototypes.Path)
	if err != nil {
		return nil, err
	}
	store := prototype.NewStore(set)

	loader := o.loader
	if loader == nil {
		l, err := NewModelLoader(settings)
		if err != nil {
			return nil, err
		}
		loader = l
	}

	ctrl, err := controller.New(controller.ConfigFromSettings(settings), controller.Deps{
		Loader:     loader,
		Opener:     opener,
		Scorers:    ScorerFactory(&settings.Detection),
		Prototypes: store,
		Metrics:    m.Pipeline,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Controller: ctrl,
		Prototypes: store,
		Metrics:    m,
		settings:   settings,
	}

	if settings.Metrics.Enabled {
		if p.exporter, err = observability.NewTextfileExporter(&settings.Metrics, m); err != nil {
			p.abort()
			return nil, err
		}
	}

	if p.History, err = openHistory(&settings.History); err != nil {
		p.abort()
		return nil, err
	}

	if settings.Alerts.Enabled {
		if p.sinks, p.mqtt, err = buildSinks(&settings.Alerts, m); err != nil {
			p.abort()
			return nil, err
		}
		dopts := []alerts.Option{alerts.WithMetrics(m.Alerts)}
		if p.History != nil {
			dopts = append(dopts, alerts.WithRecorder(p.History))
		}
		p.Dispatcher = alerts.NewDispatcher(alerts.ConfigFromSettings(&settings.Alerts), p.sinks, dopts...)
	}

	GetLogger().Debug("pipeline assembled",
		logger.Bool("alerts", p.Dispatcher != nil),
		logger.Bool("history", p.History != nil),
		logger.Bool("metrics_export", p.exporter != nil),
		logger.Int("sinks", len(p.sinks)))
	return p, nil
}

// Start launches the alert dispatcher, the renderer and the metrics
// exporter, then starts capture. render may be nil. On a start failure the
// pipeline is closed and the error returned.
func (p *Pipeline) Start(ctx context.Context, render Renderer) error {
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	p.cancel, p.group, p.started = cancel, g, true

	if p.exporter != nil {
		p.exporter.Start(gctx)
	}
	connectCtx, stopConnect := context.WithCancel(gctx)
	p.connected = stopConnect
	if p.mqtt != nil {
		// paho keeps retrying in the background; alerts fail fast until connected
		g.Go(func() error {
			if err := p.mqtt.Connect(connectCtx); err != nil && connectCtx.Err() == nil {
				GetLogger().Warn("mqtt broker unreachable, alerts will retry", logger.Error(err))
			}
			return nil
		})
	}
	if p.Dispatcher != nil {
		states, _ := p.Controller.Subscribe(alertBuffer)
		g.Go(func() error {
			return ignoreCanceled(p.Dispatcher.Run(gctx, states))
		})
	}
	if render != nil {
		states, _ := p.Controller.Subscribe(renderBuffer)
		g.Go(func() error {
			for st := range states {
				render(st)
			}
			return nil
		})
	}

	if err := p.Controller.Start(ctx); err != nil {
		_ = p.Close()
		return err
	}
	return nil
}

// Close stops capture and waits for subscribers to finish, then releases
// the model, sinks, history and exporter. It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		// closes subscriber channels, which ends the dispatcher and renderer
		if err := p.Controller.Close(); err != nil {
			errs = append(errs, err)
		}
		if p.started {
			p.connected()
			if err := p.group.Wait(); err != nil {
				errs = append(errs, err)
			}
			p.cancel()
		} else {
			// Run closes sinks on return; without it nobody else would
			closeSinks(p.sinks)
		}
		if p.exporter != nil && p.started {
			if err := p.exporter.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if p.History != nil {
			if err := p.History.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// abort releases what NewPipeline created before a later step failed.
func (p *Pipeline) abort() {
	_ = p.Controller.Close()
	closeSinks(p.sinks)
	if p.History != nil {
		_ = p.History.Close()
	}
}

func closeSinks(sinks []alerts.Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				GetLogger().Warn("failed to close sink", logger.String("sink", s.Name()), logger.Error(err))
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
