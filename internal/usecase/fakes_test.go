package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"live-presenter/internal/domain"
)

type fakeStream struct {
	id      string
	kind    domain.DeviceKind
	stopped atomic.Int32
}

func (s *fakeStream) ID() string              { return s.id }
func (s *fakeStream) Kind() domain.DeviceKind { return s.kind }
func (s *fakeStream) Active() bool            { return s.stopped.Load() == 0 }
func (s *fakeStream) Stop() error {
	s.stopped.Add(1)
	return nil
}

type fakeDevice struct {
	mu      sync.Mutex
	err     error
	panics  bool
	streams []*fakeStream
}

func (d *fakeDevice) Open(ctx context.Context, c domain.Constraints) (domain.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panics {
		panic("driver crashed")
	}
	if d.err != nil {
		return nil, d.err
	}
	kind := domain.DeviceAudio
	if c.Video != nil {
		kind = domain.DeviceVideo
	}
	s := &fakeStream{id: fmt.Sprintf("stream-%d", len(d.streams)+1), kind: kind}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) opened() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeStream(nil), d.streams...)
}

// activeCount reports streams that were opened and never stopped.
func (d *fakeDevice) activeCount() int {
	n := 0
	for _, s := range d.opened() {
		if s.Active() {
			n++
		}
	}
	return n
}

type fakeRecorder struct {
	events  chan domain.RecorderEvent
	stopped atomic.Bool
	// hang leaves the channel open on Stop to simulate a stuck encoder.
	hang    bool
	stopErr error
	once    sync.Once
}

func (r *fakeRecorder) Events() <-chan domain.RecorderEvent { return r.events }

func (r *fakeRecorder) Stop() error {
	r.stopped.Store(true)
	if r.stopErr != nil {
		return r.stopErr
	}
	if !r.hang {
		r.once.Do(func() {
			r.events <- domain.RecorderEvent{Type: domain.EventFinalized}
			close(r.events)
		})
	}
	return nil
}

func (r *fakeRecorder) chunk(b []byte) {
	r.events <- domain.RecorderEvent{Type: domain.EventChunk, Data: b}
}

type fakeEncoder struct {
	mu        sync.Mutex
	err       error
	hang      bool
	recorders []*fakeRecorder
}

func (e *fakeEncoder) MimeType() string { return "audio/ogg; codecs=opus" }

func (e *fakeEncoder) Encode(s domain.Stream) (domain.Recorder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	r := &fakeRecorder{events: make(chan domain.RecorderEvent, 64), hang: e.hang}
	e.recorders = append(e.recorders, r)
	return r, nil
}

func (e *fakeEncoder) last() *fakeRecorder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recorders[len(e.recorders)-1]
}

type fakeObjects struct {
	mu      sync.Mutex
	n       int
	live    map[string][]byte
	revoked []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{live: make(map[string][]byte)}
}

func (o *fakeObjects) Create(data []byte, mime string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.n++
	url := fmt.Sprintf("/blob/%d", o.n)
	o.live[url] = data
	return url
}

func (o *fakeObjects) Revoke(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.live, url)
	o.revoked = append(o.revoked, url)
}

func (o *fakeObjects) liveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live)
}

type fakeAnswerer struct {
	mu     sync.Mutex
	answer *domain.Answer
	err    error
	calls  int
	gotQC  domain.QuestionContext
	gotLen int
	block  chan struct{}
}

func (a *fakeAnswerer) Ask(ctx context.Context, audio []byte, mimeType string, qc domain.QuestionContext) (*domain.Answer, error) {
	a.mu.Lock()
	a.calls++
	a.gotQC = qc
	a.gotLen = len(audio)
	block := a.block
	a.mu.Unlock()
	if block != nil {
		<-block
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.answer, nil
}

type fakeBackend struct {
	mu           sync.Mutex
	uploadErr    map[domain.AssetKind]error
	healthErr    error
	genErr       error
	presentation *domain.Presentation
	uploads      int
	healthCalls  int
	genCalls     int
	lastReq      domain.GenerateRequest
	// gate, when set, blocks Generate until a value is received.
	gate chan struct{}
	// uploadGate blocks the next Upload of the given kind.
	uploadGate map[domain.AssetKind]chan struct{}
}

func (b *fakeBackend) Upload(ctx context.Context, kind domain.AssetKind, f domain.File) (domain.RemoteRef, error) {
	b.mu.Lock()
	b.uploads++
	n := b.uploads
	err := b.uploadErr[kind]
	gate := b.uploadGate[kind]
	delete(b.uploadGate, kind)
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.RemoteRef{}, err
	}
	blob := fmt.Sprintf("%s-blob-%d", kind, n)
	return domain.RemoteRef{Blob: blob, URL: "https://storage.example/" + blob}, nil
}

func (b *fakeBackend) Health(ctx context.Context) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthCalls++
	if b.healthErr != nil {
		return nil, b.healthErr
	}
	return json.RawMessage(`{"status":"ok"}`), nil
}

func (b *fakeBackend) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Presentation, error) {
	b.mu.Lock()
	b.genCalls++
	b.lastReq = req
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.genErr != nil {
		return nil, b.genErr
	}
	p := *b.presentation
	return &p, nil
}

func (b *fakeBackend) counts() (health, gen int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthCalls, b.genCalls
}

type memHandoff struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemHandoff() *memHandoff { return &memHandoff{m: make(map[string][]byte)} }

func (h *memHandoff) Put(key string, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[key] = value
	return nil
}

func (h *memHandoff) Get(key string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.m[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) types(subject string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		if ev.Subject == subject {
			out = append(out, ev.Type)
		}
	}
	return out
}
