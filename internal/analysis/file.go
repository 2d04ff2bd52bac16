package analysis

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/tphakala/threatwatch/internal/audiofile"
	"github.com/tphakala/threatwatch/internal/capture"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/controller"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// maxFileQueue bounds the inference queue for fast file playback. Each task
// holds one window, so 1024 tasks are about 64 MB.
const maxFileQueue = 1024

// FileOptions controls AnalyzeFile
type FileOptions struct {
	// Realtime paces playback at the file's sample rate.
	Realtime bool
}

// FileSummary is the outcome of AnalyzeFile
type FileSummary struct {
	Path     string
	Duration time.Duration
	Cycles   int
	Flagged  map[prototype.Category]int
	Peak     map[prototype.Category]float64
}

// AnalyzeFile plays the audio file at path through the full pipeline,
// printing a line per cycle to w, and returns once the last window has been
// scored.
func AnalyzeFile(ctx context.Context, settings *conf.Settings, path string, fo FileOptions, w io.Writer, opts ...Option) (FileSummary, error) {
	clip, err := audiofile.Decode(path)
	if err != nil {
		return FileSummary{}, err
	}

	run := *settings
	if !fo.Realtime {
		// chunks arrive faster than inference; queue every window the file yields
		run.Detection.QueueSize = max(run.Detection.QueueSize, fileQueueSize(clip, &run.Detection))
	}

	gate := make(chan struct{})
	eof := make(chan struct{})
	var eofOnce sync.Once
	source := capture.NewFile(clip, capture.FileOptions{
		ChunkFrames: run.Capture.ChunkFrames,
		Realtime:    fo.Realtime,
		Gate:        gate,
		OnEOF:       func() { eofOnce.Do(func() { close(eof) }) },
	})

	p, err := NewPipeline(&run, source, opts...)
	if err != nil {
		return FileSummary{}, err
	}

	t := newTally()
	printer := statePrinter(w)
	err = p.Start(ctx, func(st controller.DetectionState) {
		t.observe(st)
		printer(st)
	})
	if err != nil {
		return FileSummary{}, err
	}
	GetLogger().Info("analyzing file",
		logger.String("path", path),
		logger.Duration("duration", clip.Duration()),
		logger.Int("sample_rate", clip.SampleRate),
		logger.Int("channels", len(clip.Channels)))
	close(gate)

	select {
	case <-eof:
	case <-ctx.Done():
		_ = p.Close()
		return FileSummary{}, ctx.Err()
	}
	if err := p.Controller.Drain(ctx); err != nil {
		_ = p.Close()
		return FileSummary{}, err
	}
	if err := p.Close(); err != nil {
		return FileSummary{}, err
	}

	sum := t.summary()
	sum.Path = path
	sum.Duration = clip.Duration()
	return sum, nil
}

// FormatSummary renders a FileSummary for the terminal.
func FormatSummary(s FileSummary) string {
	out := fmt.Sprintf("%s: %s, %d cycles\n", s.Path, s.Duration.Round(time.Millisecond), s.Cycles)
	for _, c := range prototype.Categories {
		out += fmt.Sprintf("  %s: flagged %d, peak %.2f\n", c, s.Flagged[c], s.Peak[c])
	}
	return out
}

func fileQueueSize(clip *audiofile.Clip, d *conf.DetectionSettings) int {
	if clip.SampleRate <= 0 || d.TriggerSamples <= 0 {
		return 0
	}
	resampled := clip.Frames() * d.TargetRate / clip.SampleRate
	return min(resampled/d.TriggerSamples+1, maxFileQueue)
}

// tally counts scored cycles from the renderer goroutine.
type tally struct {
	mu      sync.Mutex
	seen    map[string]uint64 // session -> last counted cycle
	cycles  int
	flagged map[prototype.Category]int
	peak    map[prototype.Category]float64
}

func newTally() *tally {
	return &tally{
		seen:    make(map[string]uint64),
		flagged: make(map[prototype.Category]int),
		peak:    make(map[prototype.Category]float64),
	}
}

func (t *tally) observe(st controller.DetectionState) {
	if st.Status != controller.Recording || st.Cycle == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[st.SessionID] == st.Cycle {
		return
	}
	t.seen[st.SessionID] = st.Cycle
	t.cycles++
	for _, th := range st.Threats {
		t.peak[th.Category] = max(t.peak[th.Category], th.Final)
		if th.Flagged {
			t.flagged[th.Category]++
		}
	}
}

func (t *tally) summary() FileSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return FileSummary{
		Cycles:  t.cycles,
		Flagged: maps.Clone(t.flagged),
		Peak:    maps.Clone(t.peak),
	}
}
