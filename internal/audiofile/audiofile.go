// Package audiofile decodes WAV and FLAC recordings into per-channel float32
// samples normalized to [-1, 1].
package audiofile

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the audiofile package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("audiofile")
	})
	return log
}

// Clip is a fully decoded recording
type Clip struct {
	SampleRate int
	Channels   [][]float32
	BitDepth   int
	Source     string
}

// Frames returns the number of samples per channel.
func (c *Clip) Frames() int {
	if c == nil || len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Mono returns the first channel.
func (c *Clip) Mono() []float32 {
	if c == nil || len(c.Channels) == 0 {
		return nil
	}
	return c.Channels[0]
}

// Supported reports whether path has an extension Decode understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".flac":
		return true
	default:
		return false
	}
}

// Decode reads a WAV or FLAC file. Every failure is a decode error wrapping
// the cause, see errors.IsDecode.
func Decode(path string) (*Clip, error) {
	start := time.Now()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, decodeError(err, path, 0)
	}
	defer func() { _ = f.Close() }()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	var clip *Clip
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		clip, err = decodeWAV(f)
	case ".flac":
		clip, err = decodeFLAC(f)
	default:
		err = errors.Newf("unsupported audio format %q", ext).Build()
	}
	if err != nil {
		return nil, decodeError(err, path, size)
	}
	if clip.Frames() == 0 {
		return nil, decodeError(errors.NewStd("file contains no audio frames"), path, size)
	}
	clip.Source = path

	GetLogger().Debug("decoded audio file",
		logger.String("path", path),
		logger.Int("sample_rate", clip.SampleRate),
		logger.Int("channels", len(clip.Channels)),
		logger.Int("bit_depth", clip.BitDepth),
		logger.Duration("duration", clip.Duration()),
		logger.Duration("elapsed", time.Since(start)))
	return clip, nil
}

func decodeError(err error, path string, size int64) error {
	return errors.New(err).
		Component("audiofile").
		Category(errors.CategoryDecode).
		FileContext(path, size).
		Build()
}

// divisor maps a bit depth onto the full-scale value used for normalization.
func divisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, errors.Newf("unsupported bit depth: %d", bitDepth).Build()
	}
}

// deinterleave splits interleaved integer samples into normalized channels.
// A trailing partial frame is dropped.
func deinterleave(data []int, channels int, div float32, out [][]float32) [][]float32 {
	frames := len(data) / channels
	for f := range frames {
		base := f * channels
		for ch := range channels {
			out[ch] = append(out[ch], float32(data[base+ch])/div)
		}
	}
	return out
}
