package capture

import "encoding/binary"

const s16Divisor = 32768.0

// deinterleaveS16 converts whole interleaved S16LE frames into per-channel
// float32 samples. Trailing bytes of an incomplete frame are ignored.
func deinterleaveS16(data []byte, channels int) [][]float32 {
	frameBytes := 2 * channels
	frames := len(data) / frameBytes
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for f := range frames {
		base := f * frameBytes
		for ch := range channels {
			v := int16(binary.LittleEndian.Uint16(data[base+2*ch:]))
			out[ch][f] = float32(v) / s16Divisor
		}
	}
	return out
}
