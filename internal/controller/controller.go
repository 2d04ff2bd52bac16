// Package controller runs the streaming detection pipeline. It owns the
// capture session, the rolling window and the single inference worker, and
// publishes DetectionState snapshots to subscribers.
//
// Lifecycle: Idle -> Loading -> Recording -> Idle on Stop. Fatal setup
// failures move the controller to Error; Start must be called again to
// retry.
package controller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tphakala/threatwatch/internal/capture"
	"github.com/tphakala/threatwatch/internal/classifier"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/observability/metrics"
	"github.com/tphakala/threatwatch/internal/prototype"
	"github.com/tphakala/threatwatch/internal/scorer"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the controller package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("controller")
	})
	return log
}

var (
	// ErrStartAborted is returned by Start when Stop lands while loading.
	ErrStartAborted = errors.NewStd("start aborted by stop")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.NewStd("controller is closed")
)

const (
	startKey  = "start"
	drainPoll = 10 * time.Millisecond
)

// ModelLoader produces a ready classifier
type ModelLoader interface {
	Load(ctx context.Context) (classifier.Classifier, error)
}

// ScorerFactory builds the scorer once the classifier labels are known
type ScorerFactory func(labels []string) (*scorer.Scorer, error)

// Config holds the streaming parameters
type Config struct {
	TargetRate        int
	WindowSize        int
	TriggerSamples    int
	QueueSize         int
	Features          dsp.FeatureConfig
	ModelKey          string // singleflight key for model loads
	DiagnosticsBuffer int
}

// DefaultConfig returns the stock streaming parameters.
func DefaultConfig() Config {
	return Config{
		TargetRate:        conf.ClassifierSampleRate,
		WindowSize:        conf.ClassifierWindowSamples,
		TriggerSamples:    conf.TriggerSamples,
		QueueSize:         conf.DefaultQueueSize,
		Features:          dsp.DefaultFeatureConfig(),
		ModelKey:          "model",
		DiagnosticsBuffer: 16,
	}
}

// ConfigFromSettings copies the detection settings.
func ConfigFromSettings(s *conf.Settings) Config {
	cfg := DefaultConfig()
	d := &s.Detection
	if d.TargetRate > 0 {
		cfg.TargetRate = d.TargetRate
	}
	if d.WindowSize > 0 {
		cfg.WindowSize = d.WindowSize
	}
	if d.TriggerSamples > 0 {
		cfg.TriggerSamples = d.TriggerSamples
	}
	if d.QueueSize > 0 {
		cfg.QueueSize = d.QueueSize
	}
	cfg.Features = dsp.FeatureConfig{
		VolumeFloor:      d.VolumeFloor,
		DistanceRange:    d.DistanceRange,
		DirectionEpsilon: d.DirectionEpsilon,
	}
	if s.Model.Path != "" {
		cfg.ModelKey = s.Model.Path
	} else if s.Model.URL != "" {
		cfg.ModelKey = s.Model.URL
	}
	return cfg
}

// Deps are the collaborators the controller drives. Prototypes, Logger,
// Metrics and Clock are optional.
type Deps struct {
	Loader     ModelLoader
	Opener     capture.Opener
	Scorers    ScorerFactory
	Prototypes *prototype.Store
	Logger     logger.Logger
	Metrics    *metrics.PipelineMetrics
	Clock      func() time.Time
}

// Controller is the streaming state machine
type Controller struct {
	cfg  Config
	deps Deps
	log  logger.Logger
	now  func() time.Time

	starts singleflight.Group
	loads  singleflight.Group

	mu        sync.Mutex
	state     State
	startGen  uint64 // bumped by every Start attempt and Stop
	model     classifier.Classifier
	scorer    *scorer.Scorer
	session   *session
	snapshot  DetectionState
	subs      map[int]*subscriber
	nextSubID int
	closed    bool

	diag chan Diagnostic
}

// New validates the dependencies and returns an idle controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Loader == nil || deps.Opener == nil || deps.Scorers == nil {
		return nil, errors.Newf("controller requires a model loader, an audio opener and a scorer factory").
			Component("controller").
			Category(errors.CategoryValidation).
			Build()
	}
	def := DefaultConfig()
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = def.TargetRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.TriggerSamples <= 0 {
		cfg.TriggerSamples = def.TriggerSamples
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ModelKey == "" {
		cfg.ModelKey = def.ModelKey
	}
	if cfg.DiagnosticsBuffer <= 0 {
		cfg.DiagnosticsBuffer = def.DiagnosticsBuffer
	}
	if deps.Prototypes == nil {
		deps.Prototypes = prototype.NewStore(nil)
	}

	c := &Controller{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
		now:  deps.Clock,
		subs: make(map[int]*subscriber),
		diag: make(chan Diagnostic, cfg.DiagnosticsBuffer),
	}
	if c.log == nil {
		c.log = GetLogger()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.snapshot.Status = Idle
	c.snapshot.UpdatedAt = c.now()
	c.deps.Metrics.SetState(Idle.String())
	return c, nil
}

// Start loads the model if needed, opens the audio source and begins
// streaming. Concurrent callers share one attempt. Calling Start while
// recording returns nil.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == Recording:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, shared := c.starts.Do(startKey, func() (any, error) {
		return nil, c.start(ctx)
	})
	if shared {
		c.log.Debug("start shared with a concurrent caller")
	}
	return err
}

func (c *Controller) start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Recording {
		c.mu.Unlock()
		return nil
	}
	c.startGen++
	gen := c.startGen
	c.setStateLocked(Loading)
	c.snapshot.Error = ""
	c.publishLocked()
	c.mu.Unlock()

	c.log.Info("starting capture")

	model, sc, err := c.ensureModel(ctx)
	if err != nil {
		return c.fail(gen, err)
	}

	c.mu.Lock()
	if gen != c.startGen || c.state != Loading {
		c.mu.Unlock()
		c.log.Info("start aborted before opening the audio source")
		return ErrStartAborted
	}
	c.mu.Unlock()

	s := newSession(c, model, sc)
	stream, err := c.deps.Opener.Open(s.ctx, s.onChunk)
	if err != nil {
		s.shutdown()
		if !errors.IsPermission(err) && !errors.IsCategory(err, errors.CategoryAudioSource) {
			err = errors.New(err).
				Component("controller").
				Category(errors.CategoryAudioSource).
				Context("operation", "open_audio").
				Build()
		}
		return c.fail(gen, err)
	}
	s.stream = stream

	c.mu.Lock()
	if gen != c.startGen || c.state != Loading || c.closed {
		c.mu.Unlock()
		s.shutdown()
		c.log.Info("start aborted after opening the audio source")
		return ErrStartAborted
	}
	c.session = s
	s.run()
	c.setStateLocked(Recording)
	c.snapshot.SessionID = s.id
	c.snapshot.Cycle = 0
	c.publishLocked()
	c.mu.Unlock()

	c.log.Info("capture started", logger.String("session_id", s.id))
	return nil
}

// fail publishes a fatal setup error unless a Stop superseded the attempt.
func (c *Controller) fail(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.startGen {
		return err
	}
	c.setStateLocked(Error)
	c.snapshot.Error = err.Error()
	c.publishLocked()
	c.log.Error("capture start failed",
		logger.Error(err),
		logger.Bool("permission", errors.IsPermission(err)),
		logger.Bool("model_load", errors.IsModelLoad(err)))
	return err
}

// ensureModel returns the loaded classifier, sharing one in-flight load
// between callers. A failed load is not cached.
func (c *Controller) ensureModel(ctx context.Context) (classifier.Classifier, *scorer.Scorer, error) {
	c.mu.Lock()
	if c.model != nil {
		m, sc := c.model, c.scorer
		c.mu.Unlock()
		return m, sc, nil
	}
	c.mu.Unlock()

	_, err, _ := c.loads.Do(c.cfg.ModelKey, func() (any, error) {
		c.mu.Lock()
		loaded := c.model != nil
		c.mu.Unlock()
		if loaded {
			return nil, nil
		}

		start := time.Now()
		m, err := c.deps.Loader.Load(ctx)
		if err == nil {
			var sc *scorer.Scorer
			sc, err = c.deps.Scorers(m.Labels())
			if err != nil {
				_ = m.Close()
			} else {
				c.mu.Lock()
				if c.closed {
					_ = m.Close()
					err = ErrClosed
				} else {
					c.model, c.scorer = m, sc
				}
				c.mu.Unlock()
			}
		}
		c.deps.Metrics.RecordModelLoad(time.Since(start), err)
		if err != nil && !errors.IsModelLoad(err) && !errors.Is(err, ErrClosed) {
			err = errors.New(err).
				Component("controller").
				Category(errors.CategoryModelLoad).
				Build()
		}
		return nil, err
	})
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return nil, nil, ErrClosed
	}
	return c.model, c.scorer, nil
}

// Stop ends the session. It is a no-op when idle or in error. The model
// stays loaded for the next Start.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case Idle, Error:
		c.mu.Unlock()
		return nil
	}

	c.startGen++
	s := c.session
	c.session = nil
	if s != nil {
		s.active.Store(false)
	}
	c.setStateLocked(Idle)
	c.snapshot.Volume, c.snapshot.Distance, c.snapshot.Direction = 0, 0, 0
	c.publishLocked()
	c.mu.Unlock()

	if s != nil {
		s.shutdown()
		c.log.Info("capture stopped",
			logger.String("session_id", s.id),
			logger.Uint64("cycles", s.cycles.Load()),
			logger.Uint64("dropped", s.dropped.Load()))
	}
	return nil
}

// SetPrototypes replaces the prototype set without interrupting capture.
// The next inference cycle sees the new set.
func (c *Controller) SetPrototypes(set *prototype.Set) {
	c.deps.Prototypes.Swap(set)
	c.log.Info("prototypes updated",
		logger.Int("gunshot", set.Count(prototype.Gunshot)),
		logger.Int("chainsaw", set.Count(prototype.Chainsaw)))
}

// Drain waits until every task queued by the current session has been
// scored. It returns at once when no session is running. File playback
// uses it to collect the last cycles after end of input.
func (c *Controller) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		s := c.session
		c.mu.Unlock()
		if s == nil || s.inflight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Level returns the features of the most recent capture chunk. Unlike the
// snapshot fields it follows the chunk rate. It is zero when not recording.
func (c *Controller) Level() dsp.Features {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return dsp.Features{}
	}
	if f := s.level.Load(); f != nil {
		return *f
	}
	return dsp.Features{}
}

// State returns the latest published snapshot.
func (c *Controller) State() DetectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Diagnostics returns the channel of per-cycle faults. Diagnostics are
// dropped when nobody reads them. The channel is closed by Close.
func (c *Controller) Diagnostics() <-chan Diagnostic {
	return c.diag
}

// Close stops capture, releases the model and closes subscriber channels.
func (c *Controller) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.startGen++
	model := c.model
	c.model, c.scorer = nil, nil
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	close(c.diag)

	if model != nil {
		if err := model.Close(); err != nil {
			return errors.New(err).
				Component("controller").
				Category(errors.CategoryModelLoad).
				Context("operation", "release_model").
				Build()
		}
	}
	return nil
}

func (c *Controller) setStateLocked(s State) {
	if c.state != s {
		c.log.Debug("state change",
			logger.String("from", c.state.String()),
			logger.String("to", s.String()))
	}
	c.state = s
	c.deps.Metrics.SetState(s.String())
}

// emit sends a diagnostic without blocking.
func (c *Controller) emit(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.diag <- d:
	default:
	}
}
