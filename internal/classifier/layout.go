package classifier

import (
	"fmt"
	"strings"

	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/errors"
)

// tensorInfo describes one output tensor for layout resolution
type tensorInfo struct {
	Name string
	Dims []int
}

func (ti tensorInfo) lastDim() int {
	if len(ti.Dims) == 0 {
		return 0
	}
	return ti.Dims[len(ti.Dims)-1]
}

// outputMap is the resolved layout: which output index carries what.
// embedding is -1 for LayoutScoresOnly.
type outputMap struct {
	layout    Layout
	scores    int
	embedding int
}

// resolveLayout inspects the output tensors once and decides how to read them.
func resolveLayout(outputs []tensorInfo, labelCount, embeddingSize int) (outputMap, error) {
	if len(outputs) == 0 {
		return outputMap{}, layoutError("model has no output tensors", outputs)
	}

	// named outputs, e.g. "scores" and "embeddings" in a signature
	scoresIdx, embIdx := -1, -1
	for i, o := range outputs {
		name := strings.ToLower(o.Name)
		switch {
		case strings.Contains(name, "score") && o.lastDim() == labelCount:
			scoresIdx = i
		case strings.Contains(name, "embedding") && o.lastDim() > 0:
			embIdx = i
		}
	}
	if scoresIdx >= 0 && embIdx >= 0 {
		return outputMap{layout: LayoutNamed, scores: scoresIdx, embedding: embIdx}, nil
	}

	// paired outputs identified by width
	if len(outputs) >= 2 && embeddingSize > 0 {
		scoresIdx, embIdx = -1, -1
		for i, o := range outputs {
			switch {
			case scoresIdx < 0 && o.lastDim() == labelCount:
				scoresIdx = i
			case embIdx < 0 && o.lastDim() == embeddingSize:
				embIdx = i
			}
		}
		if scoresIdx >= 0 && embIdx >= 0 {
			return outputMap{layout: LayoutPaired, scores: scoresIdx, embedding: embIdx}, nil
		}
	}

	if outputs[0].lastDim() == labelCount {
		return outputMap{layout: LayoutScoresOnly, scores: 0, embedding: -1}, nil
	}

	return outputMap{}, layoutError(
		fmt.Sprintf("no output matches %d labels or embedding size %d", labelCount, embeddingSize), outputs)
}

func layoutError(msg string, outputs []tensorInfo) error {
	shapes := make([]string, len(outputs))
	for i, o := range outputs {
		shapes[i] = fmt.Sprintf("%s%v", o.Name, o.Dims)
	}
	return errors.Newf("unsupported model output layout: %s", msg).
		Component("classifier").
		Category(errors.CategoryModelLoad).
		Context("outputs", strings.Join(shapes, ", ")).
		Build()
}

// poolFrames mean-pools a [frames, width] tensor into one width-long vector.
// A 1-D tensor counts as one frame.
func poolFrames(data []float32, width int) (pooled []float32, frames int) {
	if width <= 0 || len(data) < width {
		return nil, 0
	}
	frames = len(data) / width
	if frames == 1 {
		out := make([]float32, width)
		copy(out, data[:width])
		return out, 1
	}
	rows := make([][]float32, frames)
	for f := range frames {
		rows[f] = data[f*width : (f+1)*width]
	}
	return dsp.MeanPool(rows), frames
}

// buildInference turns raw output buffers into an Inference for the given layout.
func buildInference(m outputMap, scores []float32, scoresWidth int, embedding []float32, embWidth int) (*Inference, error) {
	pooled, frames := poolFrames(scores, scoresWidth)
	if pooled == nil {
		return nil, errors.Newf("scores output has %d values, expected at least %d", len(scores), scoresWidth).
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}
	inf := &Inference{Scores: pooled, Frames: frames}
	if m.layout == LayoutScoresOnly {
		return inf, nil
	}
	emb, _ := poolFrames(embedding, embWidth)
	if emb == nil {
		return nil, errors.Newf("embedding output has %d values, expected at least %d", len(embedding), embWidth).
			Component("classifier").
			Category(errors.CategoryInference).
			Build()
	}
	inf.Embedding = dsp.L2Normalize(emb)
	return inf, nil
}
