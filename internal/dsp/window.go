package dsp

// RollingWindow keeps the most recent capacity samples for the classifier and
// counts new samples toward the next inference trigger. It always holds
// exactly capacity samples, zero-filled at start.
//
// A RollingWindow belongs to a single capture session and is not safe for
// concurrent use.
type RollingWindow struct {
	buf     []float32
	trigger int
	pending int
}

// NewRollingWindow returns a zero-filled window. trigger is clamped to at least 1.
func NewRollingWindow(capacity, trigger int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{
		buf:     make([]float32, capacity),
		trigger: max(trigger, 1),
	}
}

// Push appends frame, dropping the oldest samples, and returns a copy of the
// window. trigger reports that at least the trigger count of samples arrived
// since the last trigger; the counter then restarts at zero without carrying
// the excess.
func (w *RollingWindow) Push(frame []float32) (window []float32, trigger bool) {
	capacity := len(w.buf)
	m := len(frame)

	if m >= capacity {
		copy(w.buf, frame[m-capacity:])
	} else if m > 0 {
		copy(w.buf, w.buf[m:])
		copy(w.buf[capacity-m:], frame)
	}

	w.pending += m
	if w.pending >= w.trigger {
		w.pending = 0
		trigger = true
	}

	window = make([]float32, capacity)
	copy(window, w.buf)
	return window, trigger
}

// Reset zero-fills the window and clears the trigger counter.
func (w *RollingWindow) Reset() {
	clear(w.buf)
	w.pending = 0
}

// Len is the fixed window length.
func (w *RollingWindow) Len() int { return len(w.buf) }

// Pending is the number of samples pushed since the last trigger.
func (w *RollingWindow) Pending() int { return w.pending }
