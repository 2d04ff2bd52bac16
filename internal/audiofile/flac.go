package audiofile

import (
	"encoding/binary"
	"io"

	"github.com/tphakala/flac"

	"github.com/tphakala/threatwatch/internal/errors"
)

func decodeFLAC(r io.Reader) (*Clip, error) {
	decoder, err := flac.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	channels := decoder.NChannels
	if channels < 1 {
		return nil, errors.Newf("unsupported number of channels: %d", channels).Build()
	}
	bitDepth := decoder.BitsPerSample
	div, err := divisor(bitDepth)
	if err != nil {
		return nil, err
	}
	bytesPerSample := bitDepth / 8

	out := make([][]float32, channels)
	var ints []int
	for {
		frame, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		ints = ints[:0]
		for i := 0; i+bytesPerSample <= len(frame); i += bytesPerSample {
			ints = append(ints, pcmSample(frame[i:i+bytesPerSample], bitDepth))
		}
		out = deinterleave(ints, channels, div, out)
	}

	return &Clip{
		SampleRate: decoder.SampleRate,
		Channels:   out,
		BitDepth:   bitDepth,
	}, nil
}

// pcmSample reads one little-endian signed sample.
func pcmSample(b []byte, bitDepth int) int {
	switch bitDepth {
	case 16:
		return int(int16(binary.LittleEndian.Uint16(b)))
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		// sign-extend bit 23
		return int(v<<8) >> 8
	default:
		return int(int32(binary.LittleEndian.Uint32(b)))
	}
}
