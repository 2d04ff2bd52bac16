// Package enrollment turns reference recordings into prototype embeddings.
// Each file becomes one prototype: the file is decoded, cut into classifier
// windows, embedded window by window and mean-pooled.
package enrollment

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/threatwatch/internal/audiofile"
	"github.com/tphakala/threatwatch/internal/classifier"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/dsp"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the enrollment package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("enrollment")
	})
	return log
}

// Builder embeds enrollment files with a loaded classifier
type Builder struct {
	Classifier classifier.Classifier
	TargetRate int // classifier input rate, defaults to 16 kHz
	WindowSize int // samples per classifier window, defaults to 15600
	Workers    int // parallel decoders, defaults to 4
	Logger     logger.Logger
}

// FileResult is the outcome for one enrollment file
type FileResult struct {
	Category prototype.Category
	Path     string
	Windows  int
	Err      error // nil when the file produced a prototype
}

// Report summarizes a Build
type Report struct {
	Files    []FileResult
	Warnings []string
	Duration time.Duration
}

// Enrolled counts the prototypes built for category c.
func (r Report) Enrolled(c prototype.Category) int {
	n := 0
	for i := range r.Files {
		if r.Files[i].Category == c && r.Files[i].Err == nil {
			n++
		}
	}
	return n
}

// Skipped returns the files that produced no prototype.
func (r Report) Skipped() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// job is one file moving through decode and embed
type job struct {
	category prototype.Category
	path     string
	samples  []float32
	err      error
}

// Build decodes every file in parallel, then embeds them one at a time on
// the classifier. Files that fail are recorded in the Report and skipped. Build
// itself fails only when the classifier has no embedding output or ctx ends.
func (b *Builder) Build(ctx context.Context, files map[prototype.Category][]string) (*prototype.Set, Report, error) {
	start := time.Now()
	lg := b.Logger
	if lg == nil {
		lg = GetLogger()
	}
	var report Report

	if b.Classifier == nil || b.Classifier.EmbeddingSize() == 0 {
		return nil, report, errors.Newf("classifier has no embedding output, prototypes cannot be enrolled").
			Component("enrollment").
			Category(errors.CategoryModelInit).
			Build()
	}
	targetRate := b.TargetRate
	if targetRate <= 0 {
		targetRate = conf.ClassifierSampleRate
	}
	windowSize := b.WindowSize
	if windowSize <= 0 {
		windowSize = conf.ClassifierWindowSamples
	}
	workers := b.Workers
	if workers <= 0 {
		workers = 4
	}

	var jobs []*job
	for _, c := range prototype.Categories {
		for _, p := range files[c] {
			jobs = append(jobs, &job{category: c, path: p})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			clip, err := audiofile.Decode(j.path)
			if err != nil {
				j.err = err
				return nil
			}
			j.samples = dsp.Resample(clip.Mono(), clip.SampleRate, targetRate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, cancelled(err)
	}

	var protos []prototype.Prototype
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return nil, report, cancelled(err)
		}
		res := FileResult{Category: j.category, Path: j.path, Err: j.err}
		if j.err == nil {
			var vec []float32
			vec, res.Windows, res.Err = b.embed(j.samples, windowSize)
			if res.Err == nil {
				protos = append(protos, prototype.Prototype{
					Category: j.category,
					Source:   filepath.Base(j.path),
					Vector:   vec,
				})
			}
		}
		if res.Err != nil {
			lg.Warn("enrollment file skipped",
				logger.String("category", string(j.category)),
				logger.String("path", j.path),
				logger.Error(res.Err))
		}
		report.Files = append(report.Files, res)
	}

	for _, c := range prototype.Categories {
		if len(files[c]) > 0 && report.Enrolled(c) == 0 {
			msg := "no usable enrollment files for " + string(c)
			report.Warnings = append(report.Warnings, msg)
			lg.Warn(msg, logger.Int("files", len(files[c])))
		}
	}

	set, err := prototype.NewSet(protos)
	if err != nil {
		return nil, report, err
	}
	report.Duration = time.Since(start)
	lg.Info("enrollment complete",
		logger.Int("gunshot", set.Count(prototype.Gunshot)),
		logger.Int("chainsaw", set.Count(prototype.Chainsaw)),
		logger.Int("skipped", len(report.Skipped())),
		logger.Duration("duration", report.Duration))
	return set, report, nil
}

// embed runs the classifier over every window of samples and returns the
// unit-length mean of the window embeddings.
func (b *Builder) embed(samples []float32, windowSize int) ([]float32, int, error) {
	wins := Windows(samples, windowSize)
	if len(wins) == 0 {
		return nil, 0, errors.Newf("no audio after resampling").
			Component("enrollment").
			Category(errors.CategoryValidation).
			Build()
	}
	embeddings := make([][]float32, 0, len(wins))
	for _, w := range wins {
		inf, err := b.Classifier.Infer(w)
		if err != nil {
			return nil, len(wins), err
		}
		if len(inf.Embedding) == 0 {
			return nil, len(wins), errors.Newf("classifier returned no embedding").
				Component("enrollment").
				Category(errors.CategoryInference).
				Build()
		}
		embeddings = append(embeddings, inf.Embedding)
	}
	return dsp.L2Normalize(dsp.MeanPool(embeddings)), len(wins), nil
}

// Windows splits samples into consecutive non-overlapping windows of size,
// zero-padding the last one. Empty input yields no windows.
func Windows(samples []float32, size int) [][]float32 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	n := (len(samples) + size - 1) / size
	out := make([][]float32, n)
	for i := range out {
		w := make([]float32, size)
		copy(w, samples[i*size:min((i+1)*size, len(samples))])
		out[i] = w
	}
	return out
}

func cancelled(err error) error {
	return errors.New(err).
		Component("enrollment").
		Category(errors.CategoryCancellation).
		Build()
}
