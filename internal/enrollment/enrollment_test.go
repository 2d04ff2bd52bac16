package enrollment

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/threatwatch/internal/audiofile"
	"github.com/tphakala/threatwatch/internal/classifier"
	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// embedder returns an embedding that tracks the window loudness.
type embedder struct {
	dim     int
	windows atomic.Int64
	badLen  atomic.Int64
}

func (e *embedder) Infer(w []float32) (*classifier.Inference, error) {
	e.windows.Add(1)
	if len(w) != 15600 {
		e.badLen.Add(1)
	}
	var emb []float32
	if e.dim > 0 {
		emb = make([]float32, e.dim)
		emb[0] = float32(dsp.AbsSum(w) / float64(len(w)))
		emb[1] = 0.5
	}
	return &classifier.Inference{Scores: []float32{0.1}, Embedding: emb, Frames: 1}, nil
}
func (e *embedder) Labels() []string   { return []string{"Speech"} }
func (e *embedder) EmbeddingSize() int { return e.dim }
func (e *embedder) Close() error       { return nil }

func quiet() logger.Logger { return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil) }

func writeSine(t *testing.T, path string, rate int, seconds float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, audiofile.WriteWAV(path, audiofile.Sine(440, rate, seconds, 0.5), 16))
}

func TestWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples int
		want    int
	}{
		{"empty", 0, 0},
		{"short", 5, 1},
		{"exact", 8, 1},
		{"padded", 17, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := make([]float32, tt.samples)
			for i := range in {
				in[i] = 1
			}
			got := Windows(in, 8)
			require.Len(t, got, tt.want)
			for _, w := range got {
				assert.Len(t, w, 8)
			}
		})
	}

	w := Windows([]float32{1, 2, 3}, 2)
	assert.Equal(t, []float32{3, 0}, w[1], "last window is zero-padded")
}

func TestBuildOnePrototypePerFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSine(t, filepath.Join(root, "gunshot", "a.wav"), 48000, 1.5)
	writeSine(t, filepath.Join(root, "gunshot", "b.wav"), 16000, 0.5)
	writeSine(t, filepath.Join(root, "chainsaw", "c.wav"), 44100, 1)

	files, err := DirectoryLayout(root)
	require.NoError(t, err)

	model := &embedder{dim: 4}
	b := &Builder{Classifier: model, Workers: 2, Logger: quiet()}
	set, report, err := b.Build(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 2, set.Count(prototype.Gunshot))
	assert.Equal(t, 1, set.Count(prototype.Chainsaw))
	assert.Equal(t, 4, set.Dim())
	assert.Empty(t, report.Skipped())
	assert.Empty(t, report.Warnings)
	assert.Equal(t, 2, report.Enrolled(prototype.Gunshot))

	// 1.5 s at 48 kHz resamples to 24000 samples, two windows
	require.Len(t, report.Files, 3)
	assert.Equal(t, 2, report.Files[0].Windows)
	assert.Zero(t, model.badLen.Load())

	for _, p := range set.Prototypes() {
		var norm float64
		for _, v := range p.Vector {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5, p.Source)
	}
}

func TestBuildSkipsUndecodableFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSine(t, filepath.Join(root, "gunshot", "good.wav"), 16000, 1)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "chainsaw"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "chainsaw", "broken.wav"), []byte("not audio"), 0o600))

	files, err := DirectoryLayout(root)
	require.NoError(t, err)

	b := &Builder{Classifier: &embedder{dim: 3}, Logger: quiet()}
	set, report, err := b.Build(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 1, set.Count(prototype.Gunshot))
	assert.Zero(t, set.Count(prototype.Chainsaw))

	skipped := report.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, prototype.Chainsaw, skipped[0].Category)
	assert.True(t, errors.IsDecode(skipped[0].Err))
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "chainsaw")
}

func TestBuildRequiresEmbeddings(t *testing.T) {
	t.Parallel()

	model := &embedder{}
	b := &Builder{Classifier: model, Logger: quiet()}
	_, _, err := b.Build(context.Background(), map[prototype.Category][]string{
		prototype.Gunshot: {"whatever.wav"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))
	assert.Zero(t, model.windows.Load())
}

func TestBuildCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSine(t, filepath.Join(root, "gunshot", "a.wav"), 16000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &Builder{Classifier: &embedder{dim: 2}, Logger: quiet()}
	_, _, err := b.Build(ctx, map[prototype.Category][]string{
		prototype.Gunshot: {filepath.Join(root, "gunshot", "a.wav")},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func TestDirectoryLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSine(t, filepath.Join(root, "gunshot", "b.wav"), 16000, 0.1)
	writeSine(t, filepath.Join(root, "gunshot", "a.wav"), 16000, 0.1)
	require.NoError(t, os.WriteFile(filepath.Join(root, "gunshot", "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "gunshot", ".hidden.wav"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "gunshot", "nested.wav"), 0o755))

	files, err := DirectoryLayout(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "gunshot", "a.wav"),
		filepath.Join(root, "gunshot", "b.wav"),
	}, files[prototype.Gunshot])
	assert.NotContains(t, files, prototype.Chainsaw)
}

func TestDirectoryLayoutErrors(t *testing.T) {
	t.Parallel()

	_, err := DirectoryLayout(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = DirectoryLayout(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
