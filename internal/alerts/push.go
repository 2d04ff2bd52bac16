package alerts

import (
	"context"
	"io"
	stdlog "log"
	"slices"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/errors"
)

// pushSender is the part of the shoutrrr router the sink uses
type pushSender interface {
	Send(message string, params *types.Params) []error
}

// PushSink sends alerts through shoutrrr service URLs (ntfy, telegram,
// pushover and so on).
type PushSink struct {
	sender pushSender
	count  int
}

// NewPushSink validates the service URLs and builds one router for all of them.
func NewPushSink(cfg *conf.PushSettings) (*PushSink, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("push sink requires at least one service URL").
			Component("alerts").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(slices.Clone(cfg.URLs)...)
	if err != nil {
		// the cause may echo a URL with tokens in it
		return nil, errors.Newf("invalid push service URL: %s", errors.ScrubMessage(err.Error())).
			Component("alerts").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout > 0 {
		sender.Timeout = cfg.Timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))
	return &PushSink{sender: sender, count: len(cfg.URLs)}, nil
}

func (s *PushSink) Name() string { return "push" }

// Send delivers a to every service. The router applies its own timeout;
// ctx only short-circuits a send that has not started.
func (s *PushSink) Send(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := types.Params{}
	params.SetTitle(a.Title())
	start := time.Now()
	errs := s.sender.Send(a.Message(), &params)
	for _, err := range errs {
		if err != nil {
			return errors.Newf("push delivery failed: %s", errors.ScrubMessage(err.Error())).
				Component("alerts").
				Category(errors.CategoryAlert).
				Context("services", s.count).
				Timing("push_send", time.Since(start)).
				Build()
		}
	}
	return nil
}
