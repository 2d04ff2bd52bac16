// Package classifier wraps the pretrained audio event model. It turns a fixed
// 16 kHz window into per-label scores and an optional embedding vector.
package classifier

import (
	"sync"

	"github.com/tphakala/threatwatch/internal/logger"
)

// Classifier runs the general audio event model on one window
type Classifier interface {
	// Infer classifies a window of exactly InputSize samples at 16 kHz.
	Infer(window []float32) (*Inference, error)
	// Labels returns the class labels in score order.
	Labels() []string
	// EmbeddingSize is the embedding width, 0 when the model has no embedding output.
	EmbeddingSize() int
	Close() error
}

// Inference is the model output for one window
type Inference struct {
	Scores    []float32 // one per label, mean-pooled over frames
	Embedding []float32 // mean-pooled then L2-normalized; nil without an embedding output
	Frames    int       // number of model frames pooled
}

// Layout is how the model exposes its outputs. It is resolved once when the
// model is loaded.
type Layout int

const (
	// LayoutScoresOnly has a single scores output; custom prototypes are unavailable.
	LayoutScoresOnly Layout = iota
	// LayoutPaired has separate scores and embedding outputs identified by width.
	LayoutPaired
	// LayoutNamed has outputs identified by tensor name.
	LayoutNamed
)

func (l Layout) String() string {
	switch l {
	case LayoutNamed:
		return "named"
	case LayoutPaired:
		return "paired"
	default:
		return "scores-only"
	}
}

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the classifier package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("classifier")
	})
	return log
}
