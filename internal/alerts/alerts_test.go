package alerts

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/controller"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/observability/metrics"
	"github.com/tphakala/threatwatch/internal/prototype"
	"github.com/tphakala/threatwatch/internal/scorer"
)

func quiet() logger.Logger { return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil) }

func flaggedState(cycle uint64, cats ...prototype.Category) controller.DetectionState {
	st := controller.DetectionState{
		Status:      controller.Recording,
		IsRecording: true,
		SessionID:   "session-1",
		Cycle:       cycle,
		Distance:    0.4,
		Direction:   -0.2,
	}
	for _, c := range cats {
		st.Threats = append(st.Threats, scorer.CategoryScore{
			Category: c,
			Label:    string(c),
			Final:    0.9,
			Flagged:  true,
		})
	}
	return st
}

func newAlertMetrics(t *testing.T) *metrics.AlertMetrics {
	t.Helper()
	m, err := metrics.NewAlertMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	got  []Alert
	shut bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shut = true
	return nil
}

func (s *recordingSink) alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.got...)
}

func TestEvaluateRaisesPerFlaggedCategory(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DefaultConfig(), nil, WithLogger(quiet()))
	got := d.Evaluate(flaggedState(1, prototype.Gunshot, prototype.Chainsaw))
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, prototype.Gunshot, got[0].Category)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	assert.InDelta(t, -0.2, got[0].Direction, 1e-9)
	assert.Equal(t, "session-1", got[0].SessionID)
}

func TestEvaluateIgnores(t *testing.T) {
	t.Parallel()

	stopped := flaggedState(3, prototype.Gunshot)
	stopped.IsRecording = false

	quietState := flaggedState(4)
	unflagged := flaggedState(5, prototype.Gunshot)
	unflagged.Threats[0].Flagged = false

	d := NewDispatcher(DefaultConfig(), nil, WithLogger(quiet()))
	assert.Empty(t, d.Evaluate(stopped))
	assert.Empty(t, d.Evaluate(quietState))
	assert.Empty(t, d.Evaluate(unflagged))
}

func TestEvaluateOncePerCycle(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Cooldown = 0
	d := NewDispatcher(cfg, nil, WithLogger(quiet()))
	st := flaggedState(1, prototype.Gunshot)
	assert.Len(t, d.Evaluate(st), 1)
	assert.Empty(t, d.Evaluate(st))
	assert.Len(t, d.Evaluate(flaggedState(2, prototype.Gunshot)), 1)
}

func TestCooldownIsPerCategory(t *testing.T) {
	t.Parallel()

	m := newAlertMetrics(t)
	d := NewDispatcher(DefaultConfig(), nil, WithLogger(quiet()), WithMetrics(m))

	require.Len(t, d.Evaluate(flaggedState(1, prototype.Gunshot)), 1)
	got := d.Evaluate(flaggedState(2, prototype.Gunshot, prototype.Chainsaw))
	require.Len(t, got, 1)
	assert.Equal(t, prototype.Chainsaw, got[0].Category)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Suppressed.WithLabelValues("gunshot", metrics.ReasonCooldown)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Raised.WithLabelValues("gunshot")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Raised.WithLabelValues("chainsaw")), 0)
}

func TestCooldownExpires(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Cooldown = 30 * time.Millisecond
	d := NewDispatcher(cfg, nil, WithLogger(quiet()))

	require.Len(t, d.Evaluate(flaggedState(1, prototype.Gunshot)), 1)
	require.Empty(t, d.Evaluate(flaggedState(2, prototype.Gunshot)))
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, d.Evaluate(flaggedState(3, prototype.Gunshot)), 1)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	now := base
	m := newAlertMetrics(t)
	cfg := Config{Cooldown: 0, RateInterval: 2 * time.Second, Burst: 3}
	d := NewDispatcher(cfg, nil, WithLogger(quiet()), WithMetrics(m), WithClock(func() time.Time { return now }))

	raised := 0
	for cycle := uint64(1); cycle <= 5; cycle++ {
		raised += len(d.Evaluate(flaggedState(cycle, prototype.Gunshot)))
	}
	assert.Equal(t, 3, raised)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Suppressed.WithLabelValues("gunshot", metrics.ReasonRateLimit)), 0)

	// one token back after the interval
	now = base.Add(2 * time.Second)
	assert.Len(t, d.Evaluate(flaggedState(6, prototype.Gunshot)), 1)
	assert.Empty(t, d.Evaluate(flaggedState(7, prototype.Gunshot)))
}

type memRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *memRecorder) Record(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, a.ID)
	return nil
}

func TestRunDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	m := newAlertMetrics(t)
	failing := &recordingSink{name: "broken", err: errors.NewStd("broker unreachable")}
	ok := &recordingSink{name: "ok"}
	rec := &memRecorder{}
	d := NewDispatcher(DefaultConfig(), []Sink{failing, ok},
		WithLogger(quiet()), WithMetrics(m), WithRecorder(rec))

	states := make(chan controller.DetectionState, 4)
	states <- flaggedState(1, prototype.Gunshot)
	states <- flaggedState(1, prototype.Gunshot)
	states <- flaggedState(2, prototype.Chainsaw)
	close(states)

	require.NoError(t, d.Run(context.Background(), states))

	assert.Len(t, failing.alerts(), 2)
	got := ok.alerts()
	require.Len(t, got, 2)
	assert.Equal(t, prototype.Gunshot, got[0].Category)
	assert.Equal(t, prototype.Chainsaw, got[1].Category)
	assert.Len(t, rec.ids, 2)
	assert.True(t, ok.shut)
	assert.True(t, failing.shut)

	assert.InDelta(t, 2, testutil.ToFloat64(m.SinkDeliveries.WithLabelValues("broken", metrics.StatusError)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SinkDeliveries.WithLabelValues("ok", metrics.StatusSuccess)), 0)
}

func TestRunStopsOnContext(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DefaultConfig(), []Sink{NewLogSink(quiet())}, WithLogger(quiet()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, make(chan controller.DetectionState)) }()
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestAlertText(t *testing.T) {
	t.Parallel()

	a := Alert{Label: "Gunshot (verified)", Score: 0.91, Distance: 0.5, Direction: 0.25,
		Time: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	assert.Equal(t, "Threat detected: Gunshot (verified)", a.Title())
	assert.Contains(t, a.Message(), "score 0.91")
	assert.Contains(t, a.Message(), "direction +0.25")
	assert.Contains(t, a.Message(), "2026-10-18T12:00:00Z")
}

// fakeToken is an already completed paho token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	connected  bool
	publishErr error

	topic    string
	qos      byte
	retained bool
	payload  []byte
	disc     int
}

func (f *fakeMQTT) Connect() mqtt.Token {
	f.connected = true
	return newToken(nil)
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }

func (f *fakeMQTT) Disconnect(uint) {
	f.connected = false
	f.disc++
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	f.topic, f.qos, f.retained = topic, qos, retained
	f.payload, _ = payload.([]byte)
	return newToken(f.publishErr)
}

func newTestMQTTSink(client *fakeMQTT) *MQTTSink {
	return &MQTTSink{client: client, topic: "threatwatch/alerts", qos: 1, broker: "tcp://broker:1883", log: quiet()}
}

func TestMQTTSinkPublishesJSON(t *testing.T) {
	t.Parallel()

	client := &fakeMQTT{}
	s := newTestMQTTSink(client)
	require.NoError(t, s.Connect(context.Background()))

	a := Alert{ID: "a-1", Category: prototype.Gunshot, Label: "Gunshot", Score: 0.8, Verified: true}
	require.NoError(t, s.Send(context.Background(), a))

	assert.Equal(t, "threatwatch/alerts", client.topic)
	assert.Equal(t, byte(1), client.qos)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(client.payload, &decoded))
	assert.Equal(t, "gunshot", decoded["category"])
	assert.Equal(t, true, decoded["verified"])
	assert.Equal(t, "a-1", decoded["id"])

	require.NoError(t, s.Close())
	assert.Equal(t, 1, client.disc)
}

func TestMQTTSinkErrors(t *testing.T) {
	t.Parallel()

	disconnected := newTestMQTTSink(&fakeMQTT{})
	err := disconnected.Send(context.Background(), Alert{ID: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))

	failing := newTestMQTTSink(&fakeMQTT{connected: true, publishErr: errors.NewStd("not authorized")})
	err = failing.Send(context.Background(), Alert{ID: "y"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	assert.Contains(t, err.Error(), "not authorized")

	_, err = NewMQTTSink(&conf.MQTTSettings{Topic: "t"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

type fakeSender struct {
	message string
	title   string
	errs    []error
}

func (f *fakeSender) Send(message string, params *types.Params) []error {
	f.message = message
	if params != nil {
		f.title, _ = params.Title()
	}
	return f.errs
}

func TestPushSink(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	s := &PushSink{sender: sender, count: 1}
	a := Alert{Label: "Chainsaw", Score: 0.7, Time: time.Now()}
	require.NoError(t, s.Send(context.Background(), a))
	assert.Equal(t, "Threat detected: Chainsaw", sender.title)
	assert.Contains(t, sender.message, "Chainsaw")

	sender.errs = []error{nil, errors.NewStd("POST https://ntfy.example.com/topic?auth=secret: 401")}
	err := s.Send(context.Background(), a)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAlert))
	assert.NotContains(t, err.Error(), "secret")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Send(ctx, a), context.Canceled)
}

func TestNewPushSinkValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPushSink(&conf.PushSettings{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewPushSink(&conf.PushSettings{URLs: []string{"nosuchservice://token@host"}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.NotContains(t, err.Error(), "token@")
}
