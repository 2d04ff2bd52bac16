package analysis

import (
	"context"

	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/controller"
	"github.com/tphakala/threatwatch/internal/enrollment"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// Enroll builds prototypes from the gunshot and chainsaw subdirectories of
// dir and saves them to out, or to the configured prototype path when out
// is empty.
func Enroll(ctx context.Context, settings *conf.Settings, dir, out string, opts ...Option) (enrollment.Report, error) {
	if out == "" {
		out = settings.Prototypes.Path
	}
	if out == "" {
		return enrollment.Report{}, errors.Newf("no output path for prototypes").
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}

	files, err := enrollment.DirectoryLayout(dir)
	if err != nil {
		return enrollment.Report{}, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var loader controller.ModelLoader = o.loader
	if loader == nil {
		l, err := NewModelLoader(settings)
		if err != nil {
			return enrollment.Report{}, err
		}
		loader = l
	}

	model, err := loader.Load(ctx)
	if err != nil {
		return enrollment.Report{}, err
	}
	defer func() {
		if err := model.Close(); err != nil {
			GetLogger().Warn("failed to release model", logger.Error(err))
		}
	}()

	b := enrollment.Builder{
		Classifier: model,
		TargetRate: settings.Detection.TargetRate,
		WindowSize: settings.Detection.WindowSize,
		Workers:    settings.Prototypes.Workers,
	}
	set, report, err := b.Build(ctx, files)
	if err != nil {
		return report, err
	}
	if set.Len() == 0 {
		return report, errors.Newf("no enrollment file produced a prototype").
			Component("analysis").
			Category(errors.CategoryValidation).
			Context("skipped", len(report.Skipped())).
			Build()
	}

	if err := prototype.Save(out, set); err != nil {
		return report, err
	}
	GetLogger().Info("prototypes saved",
		logger.String("path", out),
		logger.Int("gunshot", set.Count(prototype.Gunshot)),
		logger.Int("chainsaw", set.Count(prototype.Chainsaw)))
	return report, nil
}
