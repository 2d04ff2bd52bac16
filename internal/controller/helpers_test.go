package controller

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/threatwatch/internal/capture"
	"github.com/tphakala/threatwatch/internal/classifier"
	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
	"github.com/tphakala/threatwatch/internal/scorer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testLabels = []string{"Speech", "Gunshot, gunfire", "Chainsaw", "Clapping", "Sine wave", "Music"}

// fakeClassifier scores "Sine wave" by loudness and keeps threats quiet.
type fakeClassifier struct {
	inferCalls atomic.Int64
	closed     atomic.Bool
	fail       atomic.Bool
	entered    chan struct{} // receives once per Infer when non-nil
	gate       chan struct{} // Infer blocks until closed when non-nil
	gunshot    float32
}

func (f *fakeClassifier) Infer(window []float32) (*classifier.Inference, error) {
	f.inferCalls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.fail.Load() {
		return nil, errors.Newf("tensor shape mismatch").Category(errors.CategoryInference).Build()
	}
	if len(window) != 15600 {
		return nil, errors.Newf("window has %d samples", len(window)).Category(errors.CategoryInference).Build()
	}
	scores := []float32{0.05, f.gunshot, 0.01, 0.02, float32(min(1, dsp.RMS(window)*2)), 0.1}
	return &classifier.Inference{Scores: scores, Embedding: []float32{1, 0, 0, 0}, Frames: 1}, nil
}

func (f *fakeClassifier) Labels() []string   { return testLabels }
func (f *fakeClassifier) EmbeddingSize() int { return 4 }
func (f *fakeClassifier) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeLoader hands out one classifier, optionally failing or blocking.
type fakeLoader struct {
	model   *fakeClassifier
	loads   atomic.Int64
	failN   atomic.Int64 // fail this many loads first
	gate    chan struct{}
	started chan struct{}
}

func (l *fakeLoader) Load(ctx context.Context) (classifier.Classifier, error) {
	l.loads.Add(1)
	if l.started != nil {
		l.started <- struct{}{}
	}
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.failN.Load() > 0 {
		l.failN.Add(-1)
		return nil, errors.Newf("model download failed: HTTP 503").Category(errors.CategoryModelLoad).Build()
	}
	return l.model, nil
}

// fakeOpener records the handler so tests drive chunk delivery themselves.
type fakeOpener struct {
	mu      sync.Mutex
	handler capture.Handler
	opens   int
	closes  int
	err     error
}

func (o *fakeOpener) Open(_ context.Context, h capture.Handler) (capture.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	o.opens++
	o.handler = h
	return &fakeStream{o: o}, nil
}

func (o *fakeOpener) counts() (opens, closes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens, o.closes
}

// feed delivers n frames of a constant-amplitude mono signal at 16 kHz in
// chunks of 1000 frames.
func (o *fakeOpener) feed(n int, amplitude float32) {
	o.mu.Lock()
	h := o.handler
	o.mu.Unlock()

	var seq uint64
	for n > 0 {
		size := min(n, 1000)
		frame := make([]float32, size)
		for i := range frame {
			frame[i] = amplitude
		}
		h(capture.Chunk{Channels: [][]float32{frame}, SampleRate: 16000, Seq: seq})
		seq++
		n -= size
	}
}

// feedStereo delivers n frames of constant left and right amplitudes.
func (o *fakeOpener) feedStereo(n int, left, right float32) {
	o.mu.Lock()
	h := o.handler
	o.mu.Unlock()

	var seq uint64
	for n > 0 {
		size := min(n, 1000)
		l, r := make([]float32, size), make([]float32, size)
		for i := range l {
			l[i], r[i] = left, right
		}
		h(capture.Chunk{Channels: [][]float32{l, r}, SampleRate: 16000, Seq: seq})
		seq++
		n -= size
	}
}

// eagerOpener plays frames through the handler before Open returns, like a
// source that starts delivering while the device is still being set up.
type eagerOpener struct {
	frames int
	fakeOpener
}

func (o *eagerOpener) Open(ctx context.Context, h capture.Handler) (capture.Stream, error) {
	stream, err := o.fakeOpener.Open(ctx, h)
	if err != nil {
		return nil, err
	}
	o.feed(o.frames, 0.5)
	return stream, nil
}

type fakeStream struct {
	o    *fakeOpener
	once sync.Once
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.o.mu.Lock()
		s.o.closes++
		s.o.mu.Unlock()
	})
	return nil
}

func testScorers(labels []string) (*scorer.Scorer, error) {
	tax, err := scorer.NewTaxonomy(labels, []scorer.CategoryDef{
		{Category: prototype.Gunshot, Display: "Gunshot", Labels: []string{"Gunshot, gunfire"}},
		{Category: prototype.Chainsaw, Display: "Chainsaw", Labels: []string{"Chainsaw"}},
	}, []string{"Clapping"})
	if err != nil {
		return nil, err
	}
	return scorer.New(tax, scorer.DefaultConfig()), nil
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func newTestController(t *testing.T, loader ModelLoader, opener capture.Opener, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg, Deps{
		Loader:  loader,
		Opener:  opener,
		Scorers: testScorers,
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
