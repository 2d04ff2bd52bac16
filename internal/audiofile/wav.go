package audiofile

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/threatwatch/internal/errors"
)

// wavReadFrames is the decode buffer size in frames.
const wavReadFrames = 16384

func decodeWAV(r io.ReadSeeker) (*Clip, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.NewStd("invalid WAV file format")
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, errors.Newf("unsupported number of channels: %d", channels).Build()
	}
	bitDepth := int(decoder.BitDepth)
	div, err := divisor(bitDepth)
	if err != nil {
		return nil, err
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, wavReadFrames*channels),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
	}

	out := make([][]float32, channels)
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		out = deinterleave(buf.Data[:n], channels, div, out)
	}

	return &Clip{
		SampleRate: int(decoder.SampleRate),
		Channels:   out,
		BitDepth:   bitDepth,
	}, nil
}
