package audiofile

import (
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/threatwatch/internal/errors"
)

// WriteWAV encodes a clip as integer PCM. Samples outside [-1, 1] are clipped.
func WriteWAV(path string, clip *Clip, bitDepth int) error {
	if clip == nil || len(clip.Channels) == 0 {
		return errors.NewStd("clip has no channels")
	}
	div, err := divisor(bitDepth)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	channels := len(clip.Channels)
	frames := clip.Frames()
	maxVal := float64(div) - 1
	data := make([]int, 0, frames*channels)
	for f := range frames {
		for ch := range channels {
			v := float64(clip.Channels[ch][f]) * float64(div)
			data = append(data, int(math.Max(-float64(div), math.Min(maxVal, math.Round(v)))))
		}
	}

	enc := wav.NewEncoder(out, clip.SampleRate, bitDepth, channels, 1)
	if err := enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: clip.SampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}); err != nil {
		return errors.Newf("failed to write to WAV encoder: %w", err).Build()
	}
	return enc.Close()
}

// Sine returns a mono clip holding a sine tone at the given amplitude.
func Sine(freq float64, sampleRate int, d float64, amplitude float32) *Clip {
	n := int(d * float64(sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amplitude * float32(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return &Clip{SampleRate: sampleRate, Channels: [][]float32{samples}, BitDepth: 16}
}
