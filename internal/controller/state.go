package controller

import (
	"time"

	"github.com/tphakala/threatwatch/internal/scorer"
)

// State is the controller lifecycle state
type State int

const (
	Idle State = iota
	Loading
	Recording
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Recording:
		return "recording"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// DetectionState is the published snapshot. All fields of one snapshot come
// from the same inference cycle. Slices are shared between subscribers and
// must be treated as read-only.
type DetectionState struct {
	Results   []scorer.Ranked // at most TopK entries
	Threats   []scorer.CategoryScore
	Mimic     float64
	Volume    float64
	Distance  float64 // 0 near .. 1 far
	Direction float64 // -1 left .. 1 right

	Status      State
	IsRecording bool
	IsLoading   bool
	Error       string // most recent fatal error, empty when none

	Cycle     uint64 // inference cycle within the session
	SessionID string
	UpdatedAt time.Time
}

// Flagged reports whether any threat category reached the alert threshold.
func (s DetectionState) Flagged() bool {
	for i := range s.Threats {
		if s.Threats[i].Flagged {
			return true
		}
	}
	return false
}

// DiagnosticKind classifies a per-cycle fault
type DiagnosticKind string

const (
	DiagInferenceError DiagnosticKind = "inference_error"
	DiagTaskDropped    DiagnosticKind = "task_dropped"
)

// Diagnostic reports a fault that cost one cycle but not the session. These
// never reach DetectionState.Error.
type Diagnostic struct {
	Kind      DiagnosticKind
	SessionID string
	Cycle     uint64
	Err       error
	Time      time.Time
}
