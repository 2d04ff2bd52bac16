package analysis

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/threatwatch/internal/audiofile"
	"github.com/tphakala/threatwatch/internal/capture"
	"github.com/tphakala/threatwatch/internal/classifier"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/history"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// stubModel reports a fixed gunshot score and a loudness embedding.
type stubModel struct {
	gunshot float32
	closed  atomic.Bool
}

func (m *stubModel) Infer(w []float32) (*classifier.Inference, error) {
	return &classifier.Inference{
		Scores:    []float32{0.1, m.gunshot, 0, 0},
		Embedding: []float32{float32(dsp.RMS(w)), 1, 0, 0},
		Frames:    1,
	}, nil
}

func (m *stubModel) Labels() []string {
	return []string{"Speech", "Gunshot, gunfire", "Chainsaw", "Clapping"}
}
func (m *stubModel) EmbeddingSize() int { return 4 }
func (m *stubModel) Close() error {
	m.closed.Store(true)
	return nil
}

type stubLoader struct {
	model *stubModel
	loads atomic.Int64
	err   error
}

func (l *stubLoader) Load(context.Context) (classifier.Classifier, error) {
	l.loads.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	s := conf.DefaultSettings()
	s.History.SQLite.Path = filepath.Join(dir, "db", "history.db")
	s.Metrics = conf.MetricsSettings{Enabled: true, Path: filepath.Join(dir, "metrics", "threatwatch.prom"), Interval: time.Hour}
	s.Prototypes.Path = filepath.Join(dir, "prototypes.json")
	return s
}

func writeSine(t *testing.T, path string, rate int, seconds float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, audiofile.WriteWAV(path, audiofile.Sine(440, rate, seconds, 0.5), 16))
}

func TestAnalyzeFileRaisesAndRecordsAlert(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	wav := filepath.Join(t.TempDir(), "shot.wav")
	writeSine(t, wav, 16000, 3)

	model := &stubModel{gunshot: 0.9}
	var out bytes.Buffer
	sum, err := AnalyzeFile(context.Background(), s, wav, FileOptions{}, &out, WithLoader(&stubLoader{model: model}))
	require.NoError(t, err)

	assert.Equal(t, wav, sum.Path)
	assert.Equal(t, 3*time.Second, sum.Duration)
	require.Positive(t, sum.Cycles)
	assert.Equal(t, sum.Cycles, sum.Flagged[prototype.Gunshot])
	assert.Zero(t, sum.Flagged[prototype.Chainsaw])
	assert.InDelta(t, 0.9, sum.Peak[prototype.Gunshot], 1e-6)
	assert.Contains(t, out.String(), "ALERT")
	assert.True(t, model.closed.Load(), "model released on close")

	info, err := os.Stat(s.Metrics.Path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// the 10 s cooldown leaves one gunshot alert for the whole file
	st, err := history.Open(&s.History)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	recent, err := st.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, string(prototype.Gunshot), recent[0].Category)
	assert.InDelta(t, 0.9, recent[0].Score, 1e-6)
}

func TestAnalyzeFileQuietClip(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	s.History.Enabled = false
	s.Metrics.Enabled = false
	wav := filepath.Join(t.TempDir(), "tone.wav")
	writeSine(t, wav, 48000, 2)

	sum, err := AnalyzeFile(context.Background(), s, wav, FileOptions{}, &bytes.Buffer{},
		WithLoader(&stubLoader{model: &stubModel{gunshot: 0.05}}))
	require.NoError(t, err)
	require.Positive(t, sum.Cycles)
	assert.Zero(t, sum.Flagged[prototype.Gunshot])
	assert.Contains(t, FormatSummary(sum), "gunshot: flagged 0")
}

func TestAnalyzeFileErrors(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	_, err := AnalyzeFile(context.Background(), s, filepath.Join(t.TempDir(), "missing.wav"), FileOptions{}, &bytes.Buffer{})
	require.Error(t, err)

	wav := filepath.Join(t.TempDir(), "tone.wav")
	writeSine(t, wav, 16000, 1)
	loadErr := errors.Newf("model download failed").Category(errors.CategoryModelLoad).Build()
	_, err = AnalyzeFile(context.Background(), s, wav, FileOptions{}, &bytes.Buffer{}, WithLoader(&stubLoader{err: loadErr}))
	require.Error(t, err)
	assert.True(t, errors.IsModelLoad(err))
}

func TestPipelinePrototypesAndReload(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	s.History.Enabled = false
	s.Metrics.Enabled = false

	one, err := prototype.NewSet([]prototype.Prototype{{Category: prototype.Gunshot, Source: "a.wav", Vector: []float32{1, 0, 0, 0}}})
	require.NoError(t, err)
	require.NoError(t, prototype.Save(s.Prototypes.Path, one))

	source := capture.NewFile(audiofile.Sine(440, 16000, 1, 0.5), capture.FileOptions{})
	p, err := NewPipeline(s, source, WithLoader(&stubLoader{model: &stubModel{}}))
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close()) }()

	assert.NotNil(t, p.Dispatcher)
	assert.Nil(t, p.History)
	assert.Equal(t, 1, p.Prototypes.Snapshot().Count(prototype.Gunshot))

	two, err := prototype.NewSet([]prototype.Prototype{
		{Category: prototype.Gunshot, Source: "a.wav", Vector: []float32{1, 0, 0, 0}},
		{Category: prototype.Chainsaw, Source: "b.wav", Vector: []float32{0, 1, 0, 0}},
	})
	require.NoError(t, err)
	require.NoError(t, prototype.Save(s.Prototypes.Path, two))
	require.NoError(t, p.ReloadPrototypes())
	assert.Equal(t, 1, p.Prototypes.Snapshot().Count(prototype.Chainsaw))
}

func TestLoadPrototypesMissingFile(t *testing.T) {
	t.Parallel()

	set, err := LoadPrototypes(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Zero(t, set.Len())

	set, err = LoadPrototypes("")
	require.NoError(t, err)
	assert.Zero(t, set.Len())

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = LoadPrototypes(bad)
	require.Error(t, err)
}

func TestEnroll(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	root := t.TempDir()
	writeSine(t, filepath.Join(root, "gunshot", "a.wav"), 16000, 1)
	writeSine(t, filepath.Join(root, "chainsaw", "b.wav"), 48000, 2)

	model := &stubModel{}
	report, err := Enroll(context.Background(), s, root, "", WithLoader(&stubLoader{model: model}))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enrolled(prototype.Gunshot))
	assert.Equal(t, 1, report.Enrolled(prototype.Chainsaw))
	assert.True(t, model.closed.Load())

	set, err := prototype.LoadFile(s.Prototypes.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Contains(t, FormatReport(report, s.Prototypes.Path), "gunshot: 1 prototype(s)")
}

func TestEnrollErrors(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	s.Prototypes.Path = ""
	_, err := Enroll(context.Background(), s, t.TempDir(), "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = Enroll(context.Background(), s, filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "p.json"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
