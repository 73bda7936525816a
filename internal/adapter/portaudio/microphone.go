// Package portaudio records the default input device through PortAudio
// and encodes it as a streaming WAV container.
package portaudio

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"live-presenter/internal/domain"
	"live-presenter/internal/pkg/media"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
)

const (
	defaultFramesPerBuffer = 160
	// frameBacklog is how many callback buffers may queue before drops.
	frameBacklog = 256
)

// Initialize starts PortAudio and returns its matching Terminate.
func Initialize() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return func() {
		if err := portaudio.Terminate(); err != nil {
			glog.Errorf("Failed to terminate portaudio: %v", err)
		}
	}, nil
}

// Microphone opens the default input device.
type Microphone struct {
	FramesPerBuffer int
}

func (m *Microphone) Open(ctx context.Context, c domain.Constraints) (domain.Stream, error) {
	const op = "open microphone"
	if c.Audio == nil {
		return nil, domain.Errorf(domain.KindState, op, "audio constraints required")
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewError(domain.KindDevice, op, err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, domain.Errorf(domain.KindPermission, op, "no default input device: %v", err)
	}
	glog.Infof("portaudio: using default input device: %s", dev.Name)

	channels := c.Audio.Channels
	if channels <= 0 {
		channels = 1
	}
	rate := c.Audio.SampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}
	fpb := m.FramesPerBuffer
	if fpb <= 0 {
		fpb = defaultFramesPerBuffer
	}

	s := &pcmStream{
		id:         uuid.NewString(),
		frames:     make(chan []byte, frameBacklog),
		sampleRate: rate,
		channels:   channels,
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: fpb,
	}
	s.pa, err = portaudio.OpenStream(params, s.callback)
	if err != nil {
		return nil, classify(op, err)
	}
	if err := s.pa.Start(); err != nil {
		_ = s.pa.Close()
		return nil, classify(op, err)
	}
	s.active.Store(true)
	return s, nil
}

func classify(op string, err error) *domain.Error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "busy"):
		return domain.NewError(domain.KindDevice, op, err)
	case strings.Contains(msg, "invalid device"), strings.Contains(msg, "no device"):
		return domain.NewError(domain.KindPermission, op, err)
	default:
		return domain.NewError(domain.KindDevice, op, err)
	}
}

// pcmStream receives little-endian 16-bit PCM from the audio callback.
type pcmStream struct {
	id         string
	pa         *portaudio.Stream
	sampleRate int
	channels   int

	mu      sync.Mutex
	frames  chan []byte
	closed  bool
	dropped int

	active  atomic.Bool
	claimed atomic.Bool
}

func (s *pcmStream) ID() string              { return s.id }
func (s *pcmStream) Kind() domain.DeviceKind { return domain.DeviceAudio }
func (s *pcmStream) Active() bool            { return s.active.Load() }

// callback runs on the PortAudio thread and must not block.
func (s *pcmStream) callback(in []int16) {
	data := media.PCM16LE(in)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- data:
	default:
		s.dropped++
	}
}

func (s *pcmStream) Stop() error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	err := s.pa.Stop()
	if cerr := s.pa.Close(); err == nil {
		err = cerr
	}
	s.mu.Lock()
	s.closed = true
	close(s.frames)
	dropped := s.dropped
	s.mu.Unlock()
	if dropped > 0 {
		glog.Warningf("portaudio: stream %s dropped %d buffers", s.id, dropped)
	}
	return err
}

// WAVEncoder wraps PCM from a portaudio stream in a WAV container.
type WAVEncoder struct{}

func (WAVEncoder) MimeType() string { return media.MimeWAV }

func (WAVEncoder) Encode(s domain.Stream) (domain.Recorder, error) {
	ps, ok := s.(*pcmStream)
	if !ok {
		return nil, domain.Errorf(domain.KindState, "encode", "stream %s was not opened by portaudio", s.ID())
	}
	if !ps.claimed.CompareAndSwap(false, true) {
		return nil, domain.Errorf(domain.KindState, "encode", "stream %s is already being recorded", s.ID())
	}
	r := &wavRecorder{
		stream: ps,
		events: make(chan domain.RecorderEvent, 16),
		stop:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

type wavRecorder struct {
	stream   *pcmStream
	events   chan domain.RecorderEvent
	stop     chan struct{}
	stopOnce sync.Once
}

func (r *wavRecorder) Events() <-chan domain.RecorderEvent { return r.events }

func (r *wavRecorder) Stop() error {
	r.stopOnce.Do(func() { close(r.stop) })
	return nil
}

func (r *wavRecorder) run() {
	defer close(r.events)

	r.events <- domain.RecorderEvent{Type: domain.EventChunk, Data: media.WAVHeader(r.stream.sampleRate, r.stream.channels)}
	for {
		select {
		case pcm, ok := <-r.stream.frames:
			if !ok {
				r.events <- domain.RecorderEvent{
					Type: domain.EventFailed,
					Err:  domain.Errorf(domain.KindDevice, "record", "input stream closed"),
				}
				return
			}
			r.events <- domain.RecorderEvent{Type: domain.EventChunk, Data: pcm}
		case <-r.stop:
			r.drain()
			r.events <- domain.RecorderEvent{Type: domain.EventFinalized}
			return
		}
	}
}

// drain forwards buffers captured before the stop request.
func (r *wavRecorder) drain() {
	for {
		select {
		case pcm, ok := <-r.stream.frames:
			if !ok {
				return
			}
			r.events <- domain.RecorderEvent{Type: domain.EventChunk, Data: pcm}
		default:
			return
		}
	}
}
