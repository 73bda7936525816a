package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"live-presenter/internal/domain"
	"live-presenter/internal/pkg/media"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	chunkSize     = 4096
	chunkInterval = 100 * time.Millisecond
)

// Microphone replays a recorded question (Ogg/Opus or WAV) as capture
// input. Each recording yields the whole file.
type Microphone struct {
	path string
}

func NewMicrophone(path string) *Microphone {
	return &Microphone{path: path}
}

func (m *Microphone) Open(ctx context.Context, c domain.Constraints) (domain.Stream, error) {
	const op = "open microphone"
	if c.Audio == nil {
		return nil, domain.Errorf(domain.KindState, op, "audio constraints required")
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewError(domain.KindDevice, op, err)
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, openError(op, err)
	}
	mime, err := sniff(m.path, data)
	if err != nil {
		return nil, domain.Errorf(domain.KindDevice, op, "%s: %v", m.path, err)
	}

	s := &replayStream{id: uuid.NewString(), data: data, mime: mime}
	s.active.Store(true)
	glog.Infof("file: microphone %s (%s, %d bytes) opened as stream %s", m.path, mime, len(data), s.id)
	return s, nil
}

// sniff validates the container and returns its mime type.
func sniff(path string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		if _, err := media.WAVDuration(data); err != nil {
			return "", err
		}
		return media.MimeWAV, nil
	default:
		if _, _, err := oggreader.NewWith(bytes.NewReader(data)); err != nil {
			return "", err
		}
		return media.MimeOggOpus, nil
	}
}

type replayStream struct {
	id      string
	data    []byte
	mime    string
	active  atomic.Bool
	claimed atomic.Bool
}

func (s *replayStream) ID() string              { return s.id }
func (s *replayStream) Kind() domain.DeviceKind { return domain.DeviceAudio }
func (s *replayStream) Active() bool            { return s.active.Load() }

func (s *replayStream) Stop() error {
	s.active.Store(false)
	return nil
}

// Encoder paces the replayed file out in chunks.
type Encoder struct {
	// Mime must match the files the paired Microphone serves.
	Mime string
}

func (e Encoder) MimeType() string {
	if e.Mime == "" {
		return media.MimeOggOpus
	}
	return e.Mime
}

func (e Encoder) Encode(s domain.Stream) (domain.Recorder, error) {
	rs, ok := s.(*replayStream)
	if !ok {
		return nil, domain.Errorf(domain.KindState, "encode", "stream %s was not opened from a file", s.ID())
	}
	if rs.mime != e.MimeType() {
		return nil, domain.Errorf(domain.KindState, "encode", "file is %s, encoder expects %s", rs.mime, e.MimeType())
	}
	if !rs.claimed.CompareAndSwap(false, true) {
		return nil, domain.Errorf(domain.KindState, "encode", "stream %s is already being recorded", s.ID())
	}
	r := &replayRecorder{
		stream: rs,
		events: make(chan domain.RecorderEvent, 16),
		stop:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// MimeFor reports the mime type Microphone will detect for path.
func MimeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return media.MimeWAV
	}
	return media.MimeOggOpus
}

type replayRecorder struct {
	stream   *replayStream
	events   chan domain.RecorderEvent
	stop     chan struct{}
	stopOnce sync.Once
}

func (r *replayRecorder) Events() <-chan domain.RecorderEvent { return r.events }

func (r *replayRecorder) Stop() error {
	r.stopOnce.Do(func() { close(r.stop) })
	return nil
}

func (r *replayRecorder) run() {
	defer close(r.events)

	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()

	rest := r.stream.data
	for {
		select {
		case <-r.stop:
			if len(rest) > 0 {
				r.events <- domain.RecorderEvent{Type: domain.EventChunk, Data: rest}
			}
			r.events <- domain.RecorderEvent{Type: domain.EventFinalized}
			return
		case <-ticker.C:
			if !r.stream.Active() {
				r.events <- domain.RecorderEvent{
					Type: domain.EventFailed,
					Err:  domain.Errorf(domain.KindDevice, "record", "stream released"),
				}
				return
			}
			if len(rest) == 0 {
				continue
			}
			n := min(chunkSize, len(rest))
			r.events <- domain.RecorderEvent{Type: domain.EventChunk, Data: rest[:n]}
			rest = rest[n:]
		}
	}
}
