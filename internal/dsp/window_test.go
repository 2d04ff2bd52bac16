package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingWindowStartsZeroFilled(t *testing.T) {
	t.Parallel()

	w := NewRollingWindow(8, 4)
	assert.Equal(t, 8, w.Len())
	win, trig := w.Push(nil)
	assert.False(t, trig)
	assert.Equal(t, make([]float32, 8), win)
}

func TestRollingWindowLengthInvariant(t *testing.T) {
	t.Parallel()

	w := NewRollingWindow(15600, 8000)
	for _, m := range []int{0, 1, 341, 8000, 15599, 15600, 40000} {
		win, _ := w.Push(ramp(m))
		assert.Len(t, win, 15600, "frame of %d samples", m)
	}
}

func TestRollingWindowTailHoldsRecentSamples(t *testing.T) {
	t.Parallel()

	w := NewRollingWindow(6, 100)
	w.Push([]float32{1, 2, 3, 4})
	win, _ := w.Push([]float32{5, 6, 7})
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 7}, win)

	long := []float32{10, 11, 12, 13, 14, 15, 16, 17}
	win, _ = w.Push(long)
	assert.Equal(t, long[2:], win)
}

func TestRollingWindowTrigger(t *testing.T) {
	t.Parallel()

	w := NewRollingWindow(10, 5)

	_, trig := w.Push(make([]float32, 3))
	assert.False(t, trig)
	assert.Equal(t, 3, w.Pending())

	_, trig = w.Push(make([]float32, 3))
	assert.True(t, trig)
	assert.Equal(t, 0, w.Pending(), "overflow is not carried")

	_, trig = w.Push(make([]float32, 4))
	assert.False(t, trig)
	_, trig = w.Push(make([]float32, 1))
	assert.True(t, trig)
}

func TestRollingWindowTriggerCadenceAt48k(t *testing.T) {
	t.Parallel()

	// 1024-frame chunks at 48 kHz resample to 341 samples each
	w := NewRollingWindow(15600, 8000)
	triggers := 0
	for range 100 {
		if _, trig := w.Push(make([]float32, 341)); trig {
			triggers++
		}
	}
	// 34100 samples, one trigger per 24 chunks (8184 samples)
	assert.Equal(t, 4, triggers)
}

func TestRollingWindowReturnsCopy(t *testing.T) {
	t.Parallel()

	w := NewRollingWindow(4, 2)
	win, _ := w.Push([]float32{1, 2, 3, 4})
	win[0] = 99
	next, _ := w.Push(nil)
	require.Len(t, next, 4)
	assert.InDelta(t, 1.0, next[0], 1e-9)
}

func TestRollingWindowReset(t *testing.T) {
	t.Parallel()

	w := NewRollingWindow(4, 10)
	w.Push([]float32{1, 2, 3})
	w.Reset()
	assert.Equal(t, 0, w.Pending())
	win, _ := w.Push(nil)
	assert.Equal(t, make([]float32, 4), win)
}
