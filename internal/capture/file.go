package capture

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/threatwatch/internal/audiofile"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

// DefaultChunkFrames is the file source chunk size.
const DefaultChunkFrames = 1024

// FileOptions configures playback of a decoded clip
type FileOptions struct {
	ChunkFrames int
	// Realtime paces chunks at the clip's sample rate. Otherwise chunks are
	// delivered as fast as the handler accepts them.
	Realtime bool
	// OnEOF runs once after the last chunk of a playback was handled.
	OnEOF func()
	// Gate delays playback until it is closed. A nil gate plays immediately.
	Gate <-chan struct{}
}

// File plays a decoded clip as a capture source. Each Open replays the clip
// from the start.
type File struct {
	clip *audiofile.Clip
	opts FileOptions
}

// NewFile returns an Opener for clip.
func NewFile(clip *audiofile.Clip, opts FileOptions) *File {
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = DefaultChunkFrames
	}
	return &File{clip: clip, opts: opts}
}

// Open starts playback on a new goroutine.
func (f *File) Open(ctx context.Context, handler Handler) (Stream, error) {
	if handler == nil {
		return nil, errors.Newf("capture handler is nil").
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	if f.clip == nil || f.clip.Frames() == 0 || f.clip.SampleRate <= 0 {
		return nil, errors.Newf("file source has no audio").
			Component("capture").
			Category(errors.CategoryAudioSource).
			Build()
	}

	playCtx, cancel := context.WithCancel(ctx)
	s := &fileStream{cancel: cancel, done: make(chan struct{})}
	go s.play(playCtx, f.clip, f.opts, handler)

	GetLogger().Debug("file source opened",
		logger.String("source", f.clip.Source),
		logger.Int("frames", f.clip.Frames()),
		logger.Bool("realtime", f.opts.Realtime))
	return s, nil
}

type fileStream struct {
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *fileStream) play(ctx context.Context, clip *audiofile.Clip, opts FileOptions, handler Handler) {
	defer close(s.done)

	if opts.Gate != nil {
		select {
		case <-ctx.Done():
			return
		case <-opts.Gate:
		}
	}

	var tick <-chan time.Time
	if opts.Realtime {
		interval := time.Duration(opts.ChunkFrames) * time.Second / time.Duration(clip.SampleRate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	total := clip.Frames()
	var seq uint64
	for start := 0; start < total; start += opts.ChunkFrames {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}

		end := min(start+opts.ChunkFrames, total)
		channels := make([][]float32, len(clip.Channels))
		for ch := range clip.Channels {
			channels[ch] = clip.Channels[ch][start:end]
		}
		handler(Chunk{Channels: channels, SampleRate: clip.SampleRate, Seq: seq})
		seq++
	}

	if opts.OnEOF != nil && ctx.Err() == nil {
		opts.OnEOF()
	}
}

// Close cancels playback and waits for the playback goroutine.
func (s *fileStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
