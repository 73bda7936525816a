package ffmpeg

import (
	"context"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"live-presenter/internal/domain"
	"live-presenter/internal/pkg/media"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

const readChunkSize = 4096

// Config selects the ffmpeg binary and capture inputs.
type Config struct {
	Binary string
	// AudioFormat is the ffmpeg input device family (alsa, pulse, avfoundation, dshow).
	AudioFormat string
	AudioDevice string
	VideoFormat string
	VideoDevice string
	// StartupGrace is how long a fresh process must survive before Open
	// reports success.
	StartupGrace time.Duration
}

// DefaultConfig picks the usual capture inputs for the host OS.
func DefaultConfig() Config {
	c := Config{Binary: defaultBinary, StartupGrace: defaultStartupGrace}
	switch runtime.GOOS {
	case "darwin":
		c.AudioFormat, c.AudioDevice = "avfoundation", ":0"
		c.VideoFormat, c.VideoDevice = "avfoundation", "0"
	case "windows":
		c.AudioFormat, c.AudioDevice = "dshow", "audio=default"
		c.VideoFormat, c.VideoDevice = "dshow", "video=default"
	default:
		c.AudioFormat, c.AudioDevice = "pulse", "default"
		c.VideoFormat, c.VideoDevice = "v4l2", "/dev/video0"
	}
	return c
}

// Microphone opens the capture device as an Ogg/Opus encoding process.
type Microphone struct {
	cfg Config
}

func NewMicrophone(cfg Config) *Microphone {
	return &Microphone{cfg: cfg}
}

func (m *Microphone) Open(ctx context.Context, c domain.Constraints) (domain.Stream, error) {
	if c.Audio == nil {
		return nil, domain.Errorf(domain.KindState, "open microphone", "audio constraints required")
	}
	proc, err := startProcess(ctx, m.cfg.Binary, audioArgs(m.cfg, *c.Audio), "open microphone", m.cfg.StartupGrace)
	if err != nil {
		return nil, err
	}
	s := &audioStream{id: uuid.NewString(), proc: proc}
	glog.Infof("ffmpeg: microphone %s/%s opened as stream %s", m.cfg.AudioFormat, m.cfg.AudioDevice, s.id)
	return s, nil
}

func audioArgs(cfg Config, a domain.AudioConstraints) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", cfg.AudioFormat, "-i", cfg.AudioDevice,
		"-vn",
	}
	if a.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(a.Channels))
	}
	if a.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(a.SampleRate))
	}
	// ffmpeg has no echo canceller; noise suppression maps to the FFT denoiser.
	if a.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return append(args,
		"-c:a", "libopus", "-b:a", "32k", "-application", "voip",
		"-flush_packets", "1", "-page_duration", "100000",
		"-f", "ogg", "pipe:1",
	)
}

type audioStream struct {
	id      string
	proc    *process
	claimed atomic.Bool
}

func (s *audioStream) ID() string              { return s.id }
func (s *audioStream) Kind() domain.DeviceKind { return domain.DeviceAudio }
func (s *audioStream) Active() bool            { return !s.proc.exited() }

func (s *audioStream) Stop() error {
	s.proc.kill()
	return nil
}

// OggOpusEncoder reads the container an audioStream's process produces.
type OggOpusEncoder struct{}

func (OggOpusEncoder) MimeType() string { return media.MimeOggOpus }

func (OggOpusEncoder) Encode(s domain.Stream) (domain.Recorder, error) {
	as, ok := s.(*audioStream)
	if !ok {
		return nil, domain.Errorf(domain.KindState, "encode", "stream %s was not opened by ffmpeg", s.ID())
	}
	if !as.claimed.CompareAndSwap(false, true) {
		return nil, domain.Errorf(domain.KindState, "encode", "stream %s is already being recorded", s.ID())
	}
	r := &processRecorder{proc: as.proc, events: make(chan domain.RecorderEvent, 16)}
	go r.run()
	return r, nil
}

// processRecorder forwards stdout reads as chunks. The stream is finalized
// once the process exits after Stop; any other exit is a failure.
type processRecorder struct {
	proc     *process
	events   chan domain.RecorderEvent
	stopping atomic.Bool
}

func (r *processRecorder) Events() <-chan domain.RecorderEvent { return r.events }

func (r *processRecorder) Stop() error {
	r.stopping.Store(true)
	return r.proc.interrupt()
}

func (r *processRecorder) run() {
	defer close(r.events)

	total := 0
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.proc.stdout.Read(buf)
		if n > 0 {
			total += n
			r.events <- domain.RecorderEvent{Type: domain.EventChunk, Data: append([]byte(nil), buf[:n]...)}
		}
		if err != nil {
			break
		}
	}

	if r.stopping.Load() {
		<-r.proc.done
		glog.V(1).Infof("ffmpeg(%s): finalized after %d bytes", r.proc.op, total)
		r.events <- domain.RecorderEvent{Type: domain.EventFinalized}
		return
	}
	err := r.proc.failure()
	glog.Warningf("ffmpeg(%s): capture ended unexpectedly: %v", r.proc.op, err)
	r.events <- domain.RecorderEvent{Type: domain.EventFailed, Err: err}
}
