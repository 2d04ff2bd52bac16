package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/threatwatch/internal/capture"
	"github.com/tphakala/threatwatch/internal/classifier"
	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/scorer"
)

// task is one queued inference
type task struct {
	window   []float32
	features dsp.Features
	cycle    uint64
}

// session is one capture run. The rolling window and feature accumulator
// belong to the capture goroutine; the worker only sees queued copies.
type session struct {
	id     string
	c      *Controller
	model  classifier.Classifier
	scorer *scorer.Scorer
	log    logger.Logger

	stream capture.Stream
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan task
	wg     sync.WaitGroup
	once   sync.Once

	active atomic.Bool
	level  atomic.Pointer[dsp.Features] // features of the latest chunk

	// capture goroutine only
	window *dsp.RollingWindow
	acc    dsp.FeatureAccumulator
	seq    uint64

	cycles   atomic.Uint64
	dropped  atomic.Uint64
	inflight atomic.Int64 // queued or running tasks
}

func newSession(c *Controller, model classifier.Classifier, sc *scorer.Scorer) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	s := &session{
		id:     id,
		c:      c,
		model:  model,
		scorer: sc,
		log:    c.log.With(logger.String("session_id", id)),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan task, c.cfg.QueueSize),
		window: dsp.NewRollingWindow(c.cfg.WindowSize, c.cfg.TriggerSamples),
	}
	// accept audio as soon as the source is opened; cycles wait in the
	// queue until run starts the worker
	s.active.Store(true)
	return s
}

// run starts the inference worker once the session is current.
func (s *session) run() {
	s.wg.Add(1)
	go s.work()
}

// onChunk runs on the capture goroutine. It never blocks on inference.
func (s *session) onChunk(ch capture.Chunk) {
	if !s.active.Load() || len(ch.Channels) == 0 {
		return
	}
	cfg := &s.c.cfg
	level := dsp.ExtractFeatures(ch.Channels, cfg.Features)
	s.level.Store(&level)
	s.c.deps.Metrics.RecordChunk(level.Volume)

	s.acc.Add(ch.Channels)
	mono := dsp.Resample(ch.Channels[0], ch.SampleRate, cfg.TargetRate)
	window, trigger := s.window.Push(mono)
	if !trigger {
		return
	}

	features := s.acc.Features(cfg.Features)
	s.acc.Reset()
	s.seq++

	s.inflight.Add(1)
	select {
	case s.queue <- task{window: window, features: features, cycle: s.seq}:
	default:
		s.inflight.Add(-1)
		s.dropped.Add(1)
		s.c.deps.Metrics.RecordDropped()
		err := errors.Newf("inference queue full, cycle %d dropped", s.seq).
			Component("controller").
			Category(errors.CategoryQueue).
			Context("queue_size", cfg.QueueSize).
			Build()
		s.log.Debug("inference task dropped", logger.Uint64("cycle", s.seq))
		s.c.emit(Diagnostic{Kind: DiagTaskDropped, SessionID: s.id, Cycle: s.seq, Err: err, Time: s.c.now()})
	}
}

// work is the single inference worker.
func (s *session) work() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.queue:
			s.process(t)
			s.inflight.Add(-1)
		}
	}
}

func (s *session) process(t task) {
	start := time.Now()
	inf, err := s.model.Infer(t.window)
	s.c.deps.Metrics.RecordInference(time.Since(start), err)
	if err != nil {
		if !errors.IsInference(err) {
			err = errors.New(err).
				Component("controller").
				Category(errors.CategoryInference).
				Build()
		}
		s.log.Warn("inference failed, cycle skipped", logger.Uint64("cycle", t.cycle), logger.Error(err))
		s.c.emit(Diagnostic{Kind: DiagInferenceError, SessionID: s.id, Cycle: t.cycle, Err: err, Time: s.c.now()})
		return
	}

	res := s.scorer.Score(inf, s.c.deps.Prototypes.Snapshot())
	s.cycles.Add(1)
	for _, th := range res.Threats {
		s.c.deps.Metrics.RecordScore(string(th.Category), th.Final, th.Flagged)
	}

	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	// late results from a stopped session are discarded
	if c.session != s || c.state != Recording || !s.active.Load() {
		return
	}
	c.snapshot.Results = res.Ranked
	c.snapshot.Threats = res.Threats
	c.snapshot.Mimic = res.Mimic
	c.snapshot.Volume = t.features.Volume
	c.snapshot.Distance = t.features.Distance
	c.snapshot.Direction = t.features.Direction
	c.snapshot.Cycle = t.cycle
	c.publishLocked()

	for _, th := range res.Threats {
		if th.Flagged {
			s.log.Info("threat flagged",
				logger.Uint64("cycle", t.cycle),
				logger.String("label", th.Label),
				logger.Float64("score", th.Final),
				logger.Bool("vetoed", th.Vetoed))
		}
	}
	s.log.Trace("cycle scored", logger.Uint64("cycle", t.cycle), logger.Duration("elapsed", time.Since(start)))
}

// shutdown closes the stream, then stops the worker and waits for it. An
// in-flight inference finishes but its result is discarded.
func (s *session) shutdown() {
	s.once.Do(func() {
		s.active.Store(false)
		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				s.log.Warn("failed to close audio stream", logger.Error(err))
			}
		}
		s.cancel()
		s.wg.Wait()
	})
}
