// Package telemetry wires optional Sentry error reporting. Reports go through
// the errors package reporter, so only errors built with the errors builder
// are sent, after privacy scrubbing.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/threatwatch/internal/buildinfo"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

var (
	log     logger.Logger
	logOnce sync.Once

	initialized atomic.Bool
)

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("telemetry")
	})
	return log
}

// Init configures Sentry and installs the error reporter. With reporting
// disabled it removes any reporter and returns nil.
func Init(s *conf.SentrySettings, info buildinfo.Info) error {
	if !s.Enabled {
		errors.SetTelemetryReporter(nil)
		GetLogger().Debug("error reporting disabled")
		return nil
	}
	if s.DSN == "" {
		return errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	env := s.Environment
	if env == "" {
		env = "production"
	}
	return initWithOptions(sentry.ClientOptions{
		Dsn:              s.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      env,
		ServerName:       "",
		Release:          info.Release(),
	})
}

func initWithOptions(opts sentry.ClientOptions) error {
	opts.BeforeSend = func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		return applyPrivacyFilters(event)
	}
	if err := sentry.Init(opts); err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	initialized.Store(true)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	// the DSN carries a key and is never logged
	GetLogger().Info("error reporting enabled",
		logger.String("environment", opts.Environment),
		logger.String("release", opts.Release))
	return nil
}

// Flush waits up to timeout for queued events. It reports whether the queue
// drained and is a no-op when Sentry was never initialized.
func Flush(timeout time.Duration) bool {
	if !initialized.Load() {
		return true
	}
	return sentry.Flush(timeout)
}

// applyPrivacyFilters strips host and user identifying data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
