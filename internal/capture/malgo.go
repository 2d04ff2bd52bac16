package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

// pollInterval is how often the reader drains the capture ring.
const pollInterval = 10 * time.Millisecond

// MalgoConfig configures the sound card source
type MalgoConfig struct {
	Device     string // name or ID substring, empty for the default device
	SampleRate int
	Channels   int
	BufferMs   int // ring capacity in milliseconds of audio
}

// Malgo captures S16 audio from a sound card through miniaudio
type Malgo struct {
	cfg MalgoConfig
}

// NewMalgo returns a sound card Opener.
func NewMalgo(cfg MalgoConfig) *Malgo {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.BufferMs <= 0 {
		cfg.BufferMs = 500
	}
	return &Malgo{cfg: cfg}
}

// ringCapacity returns the ring size in bytes, rounded to whole frames.
func ringCapacity(cfg MalgoConfig) int {
	frameBytes := 2 * cfg.Channels
	frames := cfg.SampleRate * cfg.BufferMs / 1000
	return max(frames, 1024) * frameBytes
}

// Open initializes the backend and device and starts capture. Denied
// microphone access is reported with errors.CategoryPermission.
func (m *Malgo) Open(ctx context.Context, handler Handler) (Stream, error) {
	if handler == nil {
		return nil, errors.Newf("capture handler is nil").
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}

	mctx, err := malgo.InitContext([]malgo.Backend{backendForPlatform()}, malgo.ContextConfig{}, func(message string) {
		GetLogger().Trace("miniaudio", logger.String("message", message))
	})
	if err != nil {
		return nil, deviceError(err, "init_context")
	}
	releaseContext := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		releaseContext()
		return nil, deviceError(err, "enumerate_devices")
	}
	selected, err := selectDevice(describeDevices(infos), m.cfg.Device)
	if err != nil {
		releaseContext()
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.cfg.Channels)
	deviceConfig.Capture.DeviceID = infos[selected.Index].ID.Pointer()
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	s := &malgoStream{
		ring:       ringbuffer.New(ringCapacity(m.cfg)),
		ringBytes:  ringCapacity(m.cfg),
		channels:   m.cfg.Channels,
		sampleRate: m.cfg.SampleRate,
		handler:    handler,
		done:       make(chan struct{}),
		log:        GetLogger().With(logger.String("device", selected.Name)),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		releaseContext()
		return nil, deviceError(err, "init_device")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		releaseContext()
		return nil, deviceError(err, "start_device")
	}

	s.device = device
	s.mctx = mctx
	if rate := int(device.SampleRate()); rate > 0 {
		s.sampleRate = rate
	}

	readerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.readLoop(readerCtx)

	s.log.Info("capture device started",
		logger.Int("sample_rate", s.sampleRate),
		logger.Int("channels", s.channels),
		logger.Int("ring_bytes", ringCapacity(m.cfg)))
	return s, nil
}

type malgoStream struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	ring   *ringbuffer.RingBuffer

	ringBytes  int // one read drains the whole ring
	channels   int
	sampleRate int
	handler    Handler
	seq        uint64
	pending    []byte // partial frame carried to the next read

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	dropped atomic.Uint64
	log     logger.Logger
}

// onData runs on the audio thread and must not block. The ring is in
// non-blocking mode, so a full ring returns ringbuffer.ErrIsFull.
func (s *malgoStream) onData(_, input []byte, _ uint32) {
	n, err := s.ring.Write(input)
	if err != nil || n < len(input) {
		s.dropped.Add(uint64(len(input) - n))
	}
}

func (s *malgoStream) onStop() {
	s.log.Debug("capture device stopped")
}

func (s *malgoStream) readLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	buf := make([]byte, s.ringBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(buf)
		}
	}
}

// drain reads everything buffered and hands whole frames to the handler.
func (s *malgoStream) drain(buf []byte) {
	n, err := s.ring.Read(buf)
	if err != nil || n == 0 {
		if dropped := s.dropped.Swap(0); dropped > 0 {
			s.log.Warn("capture ring overflow, audio dropped", logger.Uint64("bytes", dropped))
		}
		return
	}

	data := append(s.pending, buf[:n]...)
	frameBytes := 2 * s.channels
	whole := len(data) - len(data)%frameBytes
	s.pending = append(s.pending[:0:0], data[whole:]...)
	if whole == 0 {
		return
	}

	s.handler(Chunk{
		Channels:   deinterleaveS16(data[:whole], s.channels),
		SampleRate: s.sampleRate,
		Seq:        s.seq,
	})
	s.seq++
}

// Close stops the device, waits for the reader and releases the backend.
func (s *malgoStream) Close() error {
	s.closeOnce.Do(func() {
		if err := s.device.Stop(); err != nil {
			s.closeErr = deviceError(err, "stop_device")
		}
		s.cancel()
		<-s.done
		s.device.Uninit()
		if err := s.mctx.Uninit(); err != nil && s.closeErr == nil {
			s.closeErr = deviceError(err, "uninit_context")
		}
		s.mctx.Free()
		s.log.Info("capture device closed", logger.Uint64("chunks", s.seq))
	})
	return s.closeErr
}
