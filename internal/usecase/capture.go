package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"live-presenter/internal/domain"
	"live-presenter/internal/pkg/media"

	"github.com/golang/glog"
	"github.com/samber/lo"
)

// CaptureState is the recording lifecycle of a CaptureSession.
type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureAcquiring
	CaptureRecording
	CaptureStopping
	CaptureProcessing
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "Idle"
	case CaptureAcquiring:
		return "Acquiring"
	case CaptureRecording:
		return "Recording"
	case CaptureStopping:
		return "Stopping"
	case CaptureProcessing:
		return "Processing"
	default:
		return "Unknown"
	}
}

// closeTimeout bounds the forced stop performed on teardown.
const closeTimeout = 3 * time.Second

// MicrophoneConstraints are fixed for question capture.
var MicrophoneConstraints = domain.Constraints{
	Audio: &domain.AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       16000,
		Channels:         1,
	},
}

// CaptureSession records one spoken question at a time and can round-trip
// it through the question-answering backend.
type CaptureSession struct {
	device   *DeviceSession
	encoder  domain.Encoder
	objects  domain.ObjectStore
	answerer domain.QuestionAnswerer
	events   domain.EventPublisher

	mu        sync.Mutex
	state     CaptureState
	seq       uint64
	stream    domain.Stream
	recorder  domain.Recorder
	pending   *recording
	chunks    [][]byte
	artifact  *domain.Artifact
	answer    *domain.Answer
	permitted bool
	closed    bool
	lastErr   error
}

// recording carries the outcome of one recording to the Stop waiting on it.
// artifact and err are written before done is closed.
type recording struct {
	done     chan struct{}
	artifact *domain.Artifact
	err      error
}

func NewCaptureSession(
	device domain.Device,
	encoder domain.Encoder,
	objects domain.ObjectStore,
	answerer domain.QuestionAnswerer,
	events domain.EventPublisher,
) *CaptureSession {
	return &CaptureSession{
		device:   NewDeviceSession(device, domain.DeviceAudio),
		encoder:  encoder,
		objects:  objects,
		answerer: answerer,
		events:   events,
	}
}

// RequestPermission probes the microphone without keeping it open. It is
// rejected unless the session is idle.
func (s *CaptureSession) RequestPermission(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state != CaptureIdle || s.closed {
		state := s.state
		s.mu.Unlock()
		return false, domain.Errorf(domain.KindState, "request permission", "capture session is %s", state)
	}
	s.mu.Unlock()

	err := s.device.Probe(ctx, MicrophoneConstraints)

	s.mu.Lock()
	s.permitted = err == nil
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		glog.Warningf("CaptureSession: microphone permission denied: %v", err)
	}
	s.notify("permission", err)
	return err == nil, err
}

// Start begins a new recording. It returns false without touching any
// state if the session is not idle.
func (s *CaptureSession) Start(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state != CaptureIdle || s.closed {
		s.mu.Unlock()
		return false, nil
	}
	s.state = CaptureAcquiring
	s.mu.Unlock()

	if err := s.device.Acquire(ctx, MicrophoneConstraints); err != nil {
		s.abortStart(err)
		return false, err
	}
	stream := s.device.Stream()

	rec, err := s.encoder.Encode(stream)
	if err != nil {
		s.device.ReleaseStream(stream)
		if domain.KindOf(err) == domain.KindUnknown {
			err = domain.NewError(domain.KindDevice, "start recording", err)
		}
		s.abortStart(err)
		return false, err
	}

	rc := &recording{done: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.state = CaptureIdle
		s.mu.Unlock()
		_ = rec.Stop()
		s.device.ReleaseStream(stream)
		return false, nil
	}
	s.seq++
	seq := s.seq
	s.state = CaptureRecording
	s.stream = stream
	s.recorder = rec
	s.pending = rc
	s.chunks = nil
	s.permitted = true
	s.lastErr = nil
	s.mu.Unlock()

	go s.consume(rec.Events(), seq, stream, rc)

	glog.Infof("CaptureSession: recording started (stream %s)", stream.ID())
	s.notify("started", nil)
	return true, nil
}

func (s *CaptureSession) abortStart(err error) {
	s.mu.Lock()
	s.state = CaptureIdle
	s.lastErr = err
	s.mu.Unlock()
	glog.Errorf("CaptureSession: failed to start recording: %v", err)
	s.notify("error", err)
}

// consume is the only writer of recorded chunks. It exits after the
// finalize event, a failure, or when the recorder closes its channel.
func (s *CaptureSession) consume(events <-chan domain.RecorderEvent, seq uint64, stream domain.Stream, rc *recording) {
	defer close(rc.done)

	for ev := range events {
		switch ev.Type {
		case domain.EventChunk:
			if len(ev.Data) == 0 {
				continue
			}
			s.mu.Lock()
			if s.seq == seq {
				s.chunks = append(s.chunks, ev.Data)
			}
			s.mu.Unlock()
		case domain.EventFinalized:
			rc.artifact, rc.err = s.finalize(seq, stream, nil)
			return
		case domain.EventFailed:
			err := ev.Err
			if err == nil {
				err = errors.New("recorder failed")
			}
			rc.artifact, rc.err = s.finalize(seq, stream, err)
			return
		}
	}
	glog.Warningf("CaptureSession: recorder closed without finalize event")
	rc.artifact, rc.err = s.finalize(seq, stream, nil)
}

func (s *CaptureSession) finalize(seq uint64, stream domain.Stream, failure error) (*domain.Artifact, error) {
	s.device.ReleaseStream(stream)

	s.mu.Lock()
	if s.seq != seq {
		// Abandoned by a timed-out Stop; a newer recording may own the session.
		s.mu.Unlock()
		return nil, domain.Errorf(domain.KindState, "record", "recording #%d abandoned", seq)
	}
	s.state = CaptureIdle
	s.stream = nil
	s.recorder = nil

	if failure != nil {
		if domain.KindOf(failure) == domain.KindUnknown {
			failure = domain.NewError(domain.KindDevice, "record", failure)
		}
		s.lastErr = failure
		s.mu.Unlock()
		glog.Errorf("CaptureSession: recording failed: %v", failure)
		s.notify("error", failure)
		return nil, failure
	}

	s.revokeLocked()
	data := bytes.Join(s.chunks, nil)
	mime := s.encoder.MimeType()
	s.artifact = &domain.Artifact{
		Data:      data,
		MimeType:  mime,
		Chunks:    len(s.chunks),
		CreatedAt: time.Now(),
	}
	// No playback reference may outlive a closed session.
	if !s.closed {
		s.artifact.URL = s.objects.Create(data, mime)
	}
	out := copyArtifact(s.artifact)
	size, chunks := len(data), len(s.chunks)
	s.mu.Unlock()

	glog.Infof("CaptureSession: recording finalized (%d bytes in %d chunks)", size, chunks)
	s.notify("stopped", nil)
	return out, nil
}

func (s *CaptureSession) revokeLocked() {
	if s.artifact != nil && s.artifact.URL != "" {
		s.objects.Revoke(s.artifact.URL)
	}
}

// Stop asks the recorder to finalize and waits until the last chunk has
// been flushed. It returns nil, nil when nothing is recording.
func (s *CaptureSession) Stop(ctx context.Context) (*domain.Artifact, error) {
	s.mu.Lock()
	if s.state != CaptureRecording {
		s.mu.Unlock()
		return nil, nil
	}
	s.state = CaptureStopping
	seq, rec, stream, rc := s.seq, s.recorder, s.stream, s.pending
	s.mu.Unlock()

	if err := rec.Stop(); err != nil {
		// Without a clean finalize signal, dropping the device ends the encoder.
		glog.Warningf("CaptureSession: recorder stop signal failed: %v", err)
		s.device.ReleaseStream(stream)
	}

	select {
	case <-rc.done:
	case <-ctx.Done():
		err := domain.NewError(domain.KindDevice, "stop recording", ctx.Err())
		s.mu.Lock()
		if s.seq == seq {
			s.seq++
			s.state = CaptureIdle
			s.stream = nil
			s.recorder = nil
			s.lastErr = err
		}
		s.mu.Unlock()
		s.device.ReleaseStream(stream)
		s.notify("error", err)
		return nil, err
	}

	return rc.artifact, rc.err
}

// ProcessRemote sends the artifact (or the session's own when nil) to the
// question-answering backend. Only one round trip runs at a time.
func (s *CaptureSession) ProcessRemote(ctx context.Context, artifact *domain.Artifact, qc domain.QuestionContext) (*domain.Answer, error) {
	s.mu.Lock()
	if s.state != CaptureIdle {
		s.mu.Unlock()
		return nil, nil
	}
	a := artifact
	if a == nil {
		a = s.artifact
	}
	if a == nil || len(a.Data) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	s.state = CaptureProcessing
	data, mime := a.Data, a.MimeType
	s.mu.Unlock()
	s.notify("processing", nil)

	ans, err := s.answerer.Ask(ctx, data, mime, qc)
	if err == nil && (ans == nil || ans.Transcript == "" || ans.Response == "") {
		err = domain.Errorf(domain.KindBackend, "process question", "response missing transcript or answer")
	}
	if err != nil && domain.KindOf(err) == domain.KindUnknown {
		err = domain.NewError(domain.KindTransport, "process question", err)
	}

	s.mu.Lock()
	s.state = CaptureIdle
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		glog.Errorf("CaptureSession: audio processing failed: %v", err)
		s.notify("error", err)
		return nil, err
	}
	stored := *ans
	s.answer = &stored
	s.lastErr = nil
	s.mu.Unlock()

	glog.Infof("CaptureSession: question processed (%d chars transcript)", len(stored.Transcript))
	s.notify("answered", nil)
	out := stored
	return &out, nil
}

// Clear drops the artifact and answer. It is rejected while a recording
// or round trip is in progress.
func (s *CaptureSession) Clear() bool {
	s.mu.Lock()
	if s.state != CaptureIdle {
		s.mu.Unlock()
		return false
	}
	s.revokeLocked()
	s.artifact = nil
	s.answer = nil
	s.chunks = nil
	s.mu.Unlock()

	s.notify("cleared", nil)
	return true
}

// Close tears the session down. It force-stops a recording or waits for
// one already stopping, then releases the microphone and revokes any
// outstanding playback reference.
func (s *CaptureSession) Close() {
	s.mu.Lock()
	s.closed = true
	state, rc := s.state, s.pending
	s.mu.Unlock()

	switch {
	case state == CaptureRecording:
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if _, err := s.Stop(ctx); err != nil {
			glog.Warningf("CaptureSession: forced stop on close: %v", err)
		}
		cancel()
	case state == CaptureStopping && rc != nil:
		select {
		case <-rc.done:
		case <-time.After(closeTimeout):
			glog.Warningf("CaptureSession: recording still stopping after %s", closeTimeout)
		}
	}
	s.device.Release()

	s.mu.Lock()
	s.revokeLocked()
	s.artifact = nil
	s.mu.Unlock()
	glog.Info("CaptureSession: closed")
}

func (s *CaptureSession) State() CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CaptureSession) Artifact() *domain.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyArtifact(s.artifact)
}

func (s *CaptureSession) Answer() *domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answer == nil {
		return nil
	}
	a := *s.answer
	return &a
}

func (s *CaptureSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// BufferedBytes reports the size of the chunk buffer.
func (s *CaptureSession) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.SumBy(s.chunks, func(c []byte) int { return len(c) })
}

// Duration of the current artifact.
func (s *CaptureSession) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return 0
	}
	return media.Duration(s.artifact.Data, s.artifact.MimeType)
}

// Device exposes the underlying device session for status reads.
func (s *CaptureSession) Device() *DeviceSession { return s.device }

// CaptureStatus is a read-only view for the API layer.
type CaptureStatus struct {
	State      string  `json:"state"`
	Permitted  bool    `json:"permitted"`
	Granted    bool    `json:"granted"`
	AudioURL   string  `json:"audioUrl,omitempty"`
	AudioBytes int     `json:"audioBytes"`
	MimeType   string  `json:"mimeType,omitempty"`
	Seconds    float64 `json:"seconds"`
	Transcript string  `json:"transcript,omitempty"`
	Response   string  `json:"response,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func (s *CaptureSession) Status() CaptureStatus {
	granted := s.device.Granted()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := CaptureStatus{
		State:     s.state.String(),
		Permitted: s.permitted,
		Granted:   granted,
	}
	if s.artifact != nil {
		st.AudioURL = s.artifact.URL
		st.AudioBytes = len(s.artifact.Data)
		st.MimeType = s.artifact.MimeType
		st.Seconds = media.Duration(s.artifact.Data, s.artifact.MimeType).Seconds()
	}
	if s.answer != nil {
		st.Transcript = s.answer.Transcript
		st.Response = s.answer.Response
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

func (s *CaptureSession) notify(typ string, err error) {
	publish(s.events, "capture", typ, s.State().String(), err)
}

func copyArtifact(a *domain.Artifact) *domain.Artifact {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

func publish(p domain.EventPublisher, subject, typ, state string, err error) {
	if p == nil {
		return
	}
	ev := domain.Event{Type: typ, Subject: subject, State: state, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	p.Publish(ev)
}
