package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-presenter/internal/adapter/backend"
	"live-presenter/internal/domain"
	"live-presenter/internal/infrastructure"
	"live-presenter/internal/usecase"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

type stubStream struct {
	id      string
	kind    domain.DeviceKind
	stopped atomic.Bool
	frames  atomic.Int32
}

func (s *stubStream) ID() string              { return s.id }
func (s *stubStream) Kind() domain.DeviceKind { return s.kind }
func (s *stubStream) Active() bool            { return !s.stopped.Load() }
func (s *stubStream) Stop() error {
	s.stopped.Store(true)
	return nil
}

func (s *stubStream) NextFrame() (*domain.MediaFrame, error) {
	if !s.Active() {
		return nil, domain.ErrStreamEnded
	}
	n := s.frames.Add(1)
	return &domain.MediaFrame{Type: domain.FrameVideo, Data: []byte{byte(n)}, IsKey: n == 1, Duration: 10 * time.Millisecond}, nil
}

func (s *stubStream) Close() error { return s.Stop() }

type stubDevice struct {
	kind domain.DeviceKind
	err  error
}

func (d *stubDevice) Open(ctx context.Context, c domain.Constraints) (domain.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &stubStream{id: "s", kind: d.kind}, nil
}

// chunkEncoder emits one fixed chunk and finalizes on Stop.
type chunkEncoder struct{ chunk []byte }

func (e chunkEncoder) MimeType() string { return "audio/ogg;codecs=opus" }

func (e chunkEncoder) Encode(s domain.Stream) (domain.Recorder, error) {
	r := &chunkRecorder{events: make(chan domain.RecorderEvent, 4)}
	r.events <- domain.RecorderEvent{Type: domain.EventChunk, Data: e.chunk}
	return r, nil
}

type chunkRecorder struct {
	events chan domain.RecorderEvent
	once   sync.Once
}

func (r *chunkRecorder) Events() <-chan domain.RecorderEvent { return r.events }
func (r *chunkRecorder) Stop() error {
	r.once.Do(func() {
		r.events <- domain.RecorderEvent{Type: domain.EventFinalized}
		close(r.events)
	})
	return nil
}

type sinkPublisher struct{ n atomic.Int32 }

func (p *sinkPublisher) Publish(*domain.MediaFrame) error {
	p.n.Add(1)
	return nil
}

type stubNegotiator struct{ pub *sinkPublisher }

func (n *stubNegotiator) Negotiate(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, domain.StreamPublisher, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, n.pub, nil
}

type fixture struct {
	srv     *httptest.Server
	mock    *backend.Mock
	blobs   *infrastructure.BlobStore
	events  *infrastructure.EventBroadcaster
	relay   *usecase.CameraRelay
	viewers *stubNegotiator
}

func newFixture(t *testing.T, mic domain.Device) *fixture {
	t.Helper()
	mock := backend.NewMock()
	backendSrv := httptest.NewServer(mock.Handler())
	t.Cleanup(backendSrv.Close)
	client := backend.NewClient(backendSrv.URL)

	handoff, err := infrastructure.NewBadgerHandoff(time.Minute)
	if err != nil {
		t.Fatalf("NewBadgerHandoff() error: %v", err)
	}
	t.Cleanup(func() { handoff.Close() })

	blobs := infrastructure.NewBlobStore()
	events := infrastructure.NewEventBroadcaster()
	t.Cleanup(events.Close)

	workflow := usecase.NewWorkflow(client, handoff, events, usecase.WorkflowConfig{
		ExistingVoiceID:     "existing-voice",
		FallbackVoiceID:     "fallback-voice",
		FallbackVideoFileID: "fallback-video",
	})
	capture := usecase.NewCaptureSession(mic, chunkEncoder{chunk: []byte("OggS-question")}, blobs, client, events)
	t.Cleanup(capture.Close)
	camera := usecase.NewCameraSession(&stubDevice{kind: domain.DeviceVideo}, events)
	t.Cleanup(camera.Close)
	relay := usecase.NewCameraRelay(camera, events)
	t.Cleanup(relay.Stop)
	viewers := &stubNegotiator{pub: &sinkPublisher{}}

	h := NewHandlers(Deps{
		Workflow: workflow,
		Capture:  capture,
		Camera:   camera,
		Relay:    relay,
		Viewers:  viewers,
		Handoff:  handoff,
		Batch:    client,
		Events:   events,
		Language: "en-US",
	})
	srv := httptest.NewServer(h.Router(blobs, nil))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, mock: mock, blobs: blobs, events: events, relay: relay, viewers: viewers}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, f.srv.URL+path, rdr)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func (f *fixture) upload(t *testing.T, kind, name string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", name)
	fw.Write([]byte("content of " + name))
	mw.Close()

	resp, err := http.Post(f.srv.URL+"/api/upload/"+kind, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload %s: %v", kind, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decoding %s: %v", raw, err)
	}
	return v
}

func TestWorkflow_EndToEnd(t *testing.T) {
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio})

	for kind, name := range map[string]string{"ppt": "deck.pptx", "face": "face.mp4", "voice": "voice.wav"} {
		resp, body := f.upload(t, kind, name)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("upload %s status %d: %s", kind, resp.StatusCode, body)
		}
		slot := decode[domain.UploadSlot](t, body)
		if slot.Status != domain.UploadSuccess || slot.Ref == nil {
			t.Errorf("slot %s = %+v", kind, slot)
		}
	}

	resp, body := f.do(t, http.MethodPost, "/api/workflow/next", nil)
	if step := decode[stepResponse](t, body); resp.StatusCode != http.StatusOK || !step.OK || step.Step != 1 {
		t.Fatalf("next = %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/generate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status %d: %s", resp.StatusCode, body)
	}
	snap := decode[usecase.WorkflowSnapshot](t, body)
	if snap.Result == nil || !strings.Contains(snap.Result.Script, "\n\n") || len(snap.Result.VideoURLs) != 3 {
		t.Fatalf("generated result = %+v", snap.Result)
	}

	resp, body = f.do(t, http.MethodPost, "/api/presentation", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("presentation status %d: %s", resp.StatusCode, body)
	}
	key := decode[map[string]string](t, body)["key"]
	if !strings.HasPrefix(key, "presentation:") {
		t.Fatalf("key = %q", key)
	}

	resp, body = f.do(t, http.MethodGet, "/api/presentation/"+key, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load presentation status %d: %s", resp.StatusCode, body)
	}
	data := decode[usecase.PresentationData](t, body)
	if !strings.HasSuffix(data.PPTURL, "/deck.pptx") || data.VoiceID == "" || data.VideoBlob == "" {
		t.Errorf("presentation data = %+v", data)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/presentation/presentation:unknown", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown presentation status = %d, want 404", resp.StatusCode)
	}
}

func TestUpload_BadRequests(t *testing.T) {
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio})

	if resp, _ := f.upload(t, "music", "a.mp3"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown kind status = %d, want 404", resp.StatusCode)
	}
	resp, err := http.Post(f.srv.URL+"/api/upload/ppt", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerate_BackendDown(t *testing.T) {
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio})
	f.mock.SetUnhealthy(true)

	resp, body := f.do(t, http.MethodPost, "/api/generate", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", resp.StatusCode, body)
	}
	e := decode[errorResponse](t, body)
	if !strings.Contains(e.Error, "backend server is not running") || e.Kind != "transport" {
		t.Errorf("error = %+v", e)
	}

	resp, body = f.do(t, http.MethodPost, "/api/presentation", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("presentation without result status = %d: %s", resp.StatusCode, body)
	}
}

func TestWorkflow_SettingsAndNavigation(t *testing.T) {
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio})

	resp, body := f.do(t, http.MethodPut, "/api/workflow/voice-choice", map[string]string{"voiceChoice": "existing"})
	if resp.StatusCode != http.StatusOK || decode[usecase.WorkflowSnapshot](t, body).VoiceChoice != domain.VoiceExisting {
		t.Errorf("voice choice = %d %s", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPut, "/api/workflow/voice-choice", map[string]string{"voiceChoice": "robot"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid voice choice status = %d", resp.StatusCode)
	}

	opts := domain.DefaultGenerationOptions()
	opts.Style = "casual"
	resp, body = f.do(t, http.MethodPut, "/api/workflow/options", map[string]any{"options": opts})
	if snap := decode[usecase.WorkflowSnapshot](t, body); resp.StatusCode != http.StatusOK || snap.Options.Style != "casual" {
		t.Errorf("options = %d %s", resp.StatusCode, body)
	}

	_, body = f.do(t, http.MethodPost, "/api/workflow/next", nil)
	if step := decode[stepResponse](t, body); step.OK {
		t.Error("next without uploads should be refused")
	}
	_, body = f.do(t, http.MethodPost, "/api/workflow/restore", map[string]int{"step": 7})
	if step := decode[stepResponse](t, body); step.Step != 1 {
		t.Errorf("restore clamps to last step, got %d", step.Step)
	}
	_, body = f.do(t, http.MethodPost, "/api/workflow/previous", nil)
	if step := decode[stepResponse](t, body); !step.OK || step.Step != 0 {
		t.Errorf("previous = %+v", step)
	}
}

func TestBatchStatus(t *testing.T) {
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio})

	if resp, _ := f.do(t, http.MethodGet, "/api/generate/batch-status", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing taskId status = %d", resp.StatusCode)
	}
	resp, body := f.do(t, http.MethodGet, "/api/generate/batch-status?taskId=t-1", nil)
	if resp.StatusCode != http.StatusOK || decode[map[string]any](t, body)["task_id"] != "t-1" {
		t.Errorf("batch status = %d %s", resp.StatusCode, body)
	}
}

func TestCapture_RecordAndAsk(t *testing.T) {
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio})

	if resp, _ := f.do(t, http.MethodPost, "/api/capture/stop", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("stop while idle status = %d, want 409", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/api/capture/start", nil)
	if resp.StatusCode != http.StatusOK || decode[usecase.CaptureStatus](t, body).State != "Recording" {
		t.Fatalf("start = %d %s", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/capture/start", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/api/capture/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop = %d %s", resp.StatusCode, body)
	}
	st := decode[usecase.CaptureStatus](t, body)
	if st.AudioBytes != len("OggS-question") || st.AudioURL == "" {
		t.Fatalf("status after stop = %+v", st)
	}

	blob, err := http.Get(f.srv.URL + st.AudioURL)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(blob.Body)
	blob.Body.Close()
	if string(got) != "OggS-question" {
		t.Errorf("blob body = %q", got)
	}

	slide := 2
	resp, body = f.do(t, http.MethodPost, "/api/capture/process", processRequest{SlideIndex: &slide})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("process = %d %s", resp.StatusCode, body)
	}
	if ans := decode[domain.Answer](t, body); ans.Transcript == "" || !strings.Contains(ans.Response, "slide 3") {
		t.Errorf("answer = %+v", ans)
	}
	qs := f.mock.Questions()
	if len(qs) != 1 || qs[0].SlideIndex != "2" || qs[0].Language != "en-US" {
		t.Errorf("backend saw %+v", qs)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/capture/clear", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clear status = %d", resp.StatusCode)
	}
	if f.blobs.Len() != 0 {
		t.Errorf("clear left %d blobs", f.blobs.Len())
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/capture/process", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("process without recording status = %d, want 409", resp.StatusCode)
	}
}

func TestCapture_PermissionDenied(t *testing.T) {
	denied := domain.Errorf(domain.KindPermission, "open microphone", "denied")
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio, err: denied})

	resp, body := f.do(t, http.MethodPost, "/api/capture/permission", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("permission status = %d, want 403: %s", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/capture/start", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("start status = %d, want 403", resp.StatusCode)
	}
	_, body = f.do(t, http.MethodGet, "/api/capture", nil)
	if st := decode[usecase.CaptureStatus](t, body); st.State != "Idle" || st.Error == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestCamera_OfferRelaysFrames(t *testing.T) {
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio})
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}

	if resp, _ := f.do(t, http.MethodPost, "/api/camera/offer", offer); resp.StatusCode != http.StatusConflict {
		t.Errorf("offer without camera status = %d, want 409", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/camera/offer", map[string]string{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty offer status = %d, want 400", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/api/camera/connect", nil)
	if resp.StatusCode != http.StatusOK || !decode[cameraStatus](t, body).Connected {
		t.Fatalf("connect = %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/camera/offer", offer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("offer = %d %s", resp.StatusCode, body)
	}
	if answer := decode[webrtc.SessionDescription](t, body); answer.Type != webrtc.SDPTypeAnswer {
		t.Errorf("answer = %+v", answer)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.viewers.pub.n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := f.viewers.pub.n.Load(); n < 3 {
		t.Fatalf("relayed %d frames", n)
	}

	_, body = f.do(t, http.MethodPost, "/api/camera/disconnect", nil)
	if st := decode[cameraStatus](t, body); st.Connected || st.Relaying {
		t.Errorf("after disconnect = %+v", st)
	}
	_, body = f.do(t, http.MethodPost, "/api/camera/test", nil)
	if !decode[map[string]bool](t, body)["ok"] {
		t.Error("camera test failed")
	}
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	f := newFixture(t, &stubDevice{kind: domain.DeviceAudio})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.events.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := conn.WriteJSON(WebSocketMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	f.do(t, http.MethodPost, "/api/capture/start", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var sawPong, sawStart bool
	for !(sawPong && sawStart) {
		var raw map[string]any
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read: %v (pong=%v start=%v)", err, sawPong, sawStart)
		}
		switch {
		case raw["type"] == "pong":
			sawPong = true
		case raw["subject"] == "capture" && raw["type"] == "started":
			sawStart = true
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindPermission, http.StatusForbidden},
		{domain.KindDevice, http.StatusConflict},
		{domain.KindTransport, http.StatusServiceUnavailable},
		{domain.KindBackend, http.StatusBadGateway},
		{domain.KindState, http.StatusConflict},
	}
	for _, tt := range tests {
		err := fmt.Errorf("wrapped: %w", domain.NewError(tt.kind, "op", errors.New("x")))
		if got := statusFor(err); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
	if got := statusFor(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("statusFor(plain) = %d", got)
	}
}
