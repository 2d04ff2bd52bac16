package alerts

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/controller"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/observability/metrics"
)

// Config holds the dispatch limits
type Config struct {
	Cooldown     time.Duration // per category, 0 disables
	RateInterval time.Duration
	Burst        int
	SendTimeout  time.Duration // per sink delivery
	QueueSize    int           // alerts waiting for delivery
}

// DefaultConfig returns 10 s cooldown and a burst of 3 refilled every 2 s.
func DefaultConfig() Config {
	return Config{
		Cooldown:     10 * time.Second,
		RateInterval: 2 * time.Second,
		Burst:        3,
		SendTimeout:  10 * time.Second,
		QueueSize:    16,
	}
}

// ConfigFromSettings copies the alert settings.
func ConfigFromSettings(a *conf.AlertSettings) Config {
	cfg := DefaultConfig()
	cfg.Cooldown = a.Cooldown
	if a.RateInterval > 0 {
		cfg.RateInterval = a.RateInterval
	}
	if a.Burst > 0 {
		cfg.Burst = a.Burst
	}
	if a.Push.Timeout > 0 {
		cfg.SendTimeout = a.Push.Timeout
	}
	return cfg
}

// Option customizes a Dispatcher
type Option func(*Dispatcher)

// WithMetrics records raised, suppressed and delivered alerts.
func WithMetrics(m *metrics.AlertMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger overrides the package logger.
func WithLogger(lg logger.Logger) Option {
	return func(d *Dispatcher) { d.log = lg }
}

// WithRecorder persists every alert before it goes to the sinks.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithClock replaces time.Now for alert timestamps and the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher gates flagged states into alerts and fans them out to sinks.
// Delivery runs on its own goroutine so slow sinks never hold up the
// detection pipeline.
type Dispatcher struct {
	cfg      Config
	sinks    []Sink
	recorder Recorder
	metrics  *metrics.AlertMetrics
	log      logger.Logger
	now      func() time.Time

	cooldown *cache.Cache
	limiter  *rate.Limiter

	mu       sync.Mutex
	lastSeen string // session/cycle of the last evaluated state
}

// NewDispatcher returns a dispatcher delivering to sinks.
func NewDispatcher(cfg Config, sinks []Sink, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = def.RateInterval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	d := &Dispatcher{
		cfg:   cfg,
		sinks: sinks,
		log:   GetLogger(),
		now:   time.Now,
		// two keys at most, and Get ignores expired entries, so no janitor
		cooldown: cache.New(cfg.Cooldown, 0),
		limiter:  rate.NewLimiter(rate.Every(cfg.RateInterval), cfg.Burst),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Evaluate returns the alerts raised by one state. Each session cycle is
// evaluated once; repeated publications of the same cycle raise nothing.
func (d *Dispatcher) Evaluate(st controller.DetectionState) []Alert {
	if !st.IsRecording || st.Cycle == 0 || !st.Flagged() {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := st.SessionID + "/" + strconv.FormatUint(st.Cycle, 10)
	if key == d.lastSeen {
		return nil
	}
	d.lastSeen = key

	var raised []Alert
	for _, th := range st.Threats {
		if !th.Flagged {
			continue
		}
		category := string(th.Category)
		if d.cfg.Cooldown > 0 {
			if _, found := d.cooldown.Get(category); found {
				d.metrics.RecordSuppressed(category, metrics.ReasonCooldown)
				d.log.Debug("alert suppressed by cooldown", logger.String("category", category))
				continue
			}
		}
		now := d.now()
		if !d.limiter.AllowN(now, 1) {
			d.metrics.RecordSuppressed(category, metrics.ReasonRateLimit)
			d.log.Debug("alert suppressed by rate limit", logger.String("category", category))
			continue
		}

		a := Alert{
			ID:        uuid.New().String(),
			Category:  th.Category,
			Label:     th.Label,
			Score:     th.Final,
			Verified:  th.Verified,
			Vetoed:    th.Vetoed,
			Volume:    st.Volume,
			Distance:  st.Distance,
			Direction: st.Direction,
			SessionID: st.SessionID,
			Cycle:     st.Cycle,
			Time:      now,
		}
		if d.cfg.Cooldown > 0 {
			d.cooldown.Set(category, a.ID, cache.DefaultExpiration)
		}
		d.metrics.RecordRaised(category)
		raised = append(raised, a)
	}
	return raised
}

// Run evaluates states until ctx is done or states is closed, then drains
// pending deliveries and closes sinks that implement io.Closer.
func (d *Dispatcher) Run(ctx context.Context, states <-chan controller.DetectionState) error {
	pending := make(chan Alert, d.cfg.QueueSize)
	var wg sync.WaitGroup
	wg.Go(func() {
		// deliveries already accepted finish after ctx ends
		deliverCtx := context.WithoutCancel(ctx)
		for a := range pending {
			d.Deliver(deliverCtx, a)
		}
	})
	defer func() {
		close(pending)
		wg.Wait()
		d.closeSinks()
	}()

	d.log.Info("alert dispatcher started", logger.Int("sinks", len(d.sinks)))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				return nil
			}
			for _, a := range d.Evaluate(st) {
				select {
				case pending <- a:
				default:
					d.metrics.RecordSuppressed(string(a.Category), metrics.ReasonQueueFull)
					d.log.Warn("alert dropped, delivery queue full", logger.String("alert_id", a.ID))
				}
			}
		}
	}
}

// Deliver records a and sends it to every sink. Failures are logged and
// counted; one failing sink does not stop the others.
func (d *Dispatcher) Deliver(ctx context.Context, a Alert) {
	if d.recorder != nil {
		if err := d.recorder.Record(ctx, a); err != nil {
			d.log.Warn("failed to record alert", logger.String("alert_id", a.ID), logger.Error(err))
		}
	}
	for _, s := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		start := time.Now()
		err := s.Send(sendCtx, a)
		cancel()
		d.metrics.RecordDelivery(s.Name(), time.Since(start), err)
		if err != nil {
			d.log.Warn("alert delivery failed",
				logger.String("sink", s.Name()),
				logger.String("alert_id", a.ID),
				logger.Error(err))
		}
	}
}

func (d *Dispatcher) closeSinks() {
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.log.Warn("failed to close sink", logger.String("sink", s.Name()), logger.Error(err))
			}
		}
	}
}
