// Package capture delivers raw audio chunks from a sound card or a decoded
// file. A source calls its handler from a single goroutine, so chunk
// delivery never runs concurrently with itself.
package capture

import (
	"context"
	"sync"

	"github.com/tphakala/threatwatch/internal/logger"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the capture package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("capture")
	})
	return log
}

// Chunk is one block of captured audio at the source's native rate. The
// slices are only valid for the duration of the handler call.
type Chunk struct {
	Channels   [][]float32
	SampleRate int
	Seq        uint64
}

// Frames returns the number of samples per channel.
func (c Chunk) Frames() int {
	if len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// Handler receives chunks in order
type Handler func(Chunk)

// Stream is an open capture session. Close releases the device and returns
// after the last handler call has finished.
type Stream interface {
	Close() error
}

// Opener opens capture sessions. A source may deliver chunks before Open
// returns; the handler accepts them.
type Opener interface {
	Open(ctx context.Context, handler Handler) (Stream, error)
}
