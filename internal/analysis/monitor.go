package analysis

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/logger"
)

// Monitor captures from the sound card and prints a status line per cycle
// until ctx ends or the process gets SIGINT or SIGTERM. SIGHUP reloads the
// prototype file without interrupting capture.
func Monitor(ctx context.Context, settings *conf.Settings, w io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := NewPipeline(settings, newOpener(&settings.Capture))
	if err != nil {
		return err
	}
	if err := p.Start(ctx, statePrinter(w)); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			GetLogger().Info("shutting down monitor")
			return p.Close()
		case <-hup:
			if err := p.ReloadPrototypes(); err != nil {
				GetLogger().Warn("prototype reload failed, keeping current set", logger.Error(err))
			}
		}
	}
}

// ReloadPrototypes rereads the configured prototype file into the running
// controller.
func (p *Pipeline) ReloadPrototypes() error {
	set, err := LoadPrototypes(p.settings.Prototypes.Path)
	if err != nil {
		return err
	}
	p.Controller.SetPrototypes(set)
	return nil
}
