package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"live-presenter/internal/domain"
)

func TestClient_Upload(t *testing.T) {
	var gotPath, gotName, gotType string
	var gotData []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("reading file part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotName = hdr.Filename
		gotType = hdr.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(file)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "blob": "ppt/" + hdr.Filename, "url": "https://signed.example/ppt"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ref, err := c.Upload(context.Background(), domain.AssetSlides, domain.File{
		Name:        "deck.pptx",
		ContentType: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		Data:        []byte("pptx-bytes"),
	})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if gotPath != "/upload/ppt" {
		t.Errorf("path = %q, want /upload/ppt", gotPath)
	}
	if gotName != "deck.pptx" || string(gotData) != "pptx-bytes" || !strings.Contains(gotType, "presentationml") {
		t.Errorf("file part = %q %q %q", gotName, gotType, gotData)
	}
	if ref.Blob != "ppt/deck.pptx" || ref.URL != "https://signed.example/ppt" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestClient_UploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte(`{"detail":"file too large"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Upload(context.Background(), domain.AssetFace, domain.File{Name: "f.mp4", Data: []byte("x")})
	if domain.KindOf(err) != domain.KindBackend {
		t.Fatalf("error = %v, want backend error", err)
	}
	if !strings.Contains(err.Error(), "file too large") {
		t.Errorf("error should carry the detail message: %v", err)
	}
}

func TestClient_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate/presentation" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"success":true,"presentation":{"slides":[{"n":1}],"scripts":["a","b"],"video_urls":["v.mp4"],"voice_id":"vx","video_file_id":"fx"}}`))
	}))
	defer srv.Close()

	id := "7649e9a20ba74165aa6b7873cd95e303"
	p, err := NewClient(srv.URL).Generate(context.Background(), domain.GenerateRequest{
		PPTBlob:     "ppt/deck.pptx",
		FaceBlob:    "face/me.mp4",
		VoiceID:     &id,
		VoiceChoice: domain.VoiceExisting,
		Style:       "professional",
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(p.Scripts) != 2 || p.VoiceID != "vx" || p.VideoFileID != "fx" || len(p.VideoURLs) != 1 {
		t.Errorf("presentation = %+v", p)
	}
	if got["voice_blob"] != nil {
		t.Errorf("voice_blob = %v, want null", got["voice_blob"])
	}
	if got["voice_id"] != id || got["voice_choice"] != "existing" || got["ppt_blob"] != "ppt/deck.pptx" {
		t.Errorf("request body = %v", got)
	}
}

func TestClient_GenerateUnsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Generate(context.Background(), domain.GenerateRequest{})
	if domain.KindOf(err) != domain.KindBackend || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("error = %v", err)
	}
}

func TestClient_HealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Health(context.Background())
	if domain.KindOf(err) != domain.KindTransport {
		t.Fatalf("error = %v, want transport error", err)
	}
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	raw, err := NewClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if string(raw) != `{"status":"healthy"}` {
		t.Errorf("health = %s", raw)
	}
}

func TestClient_Ask(t *testing.T) {
	fields := map[string]string{}
	var audioType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		if fh := r.MultipartForm.File["audio"]; len(fh) == 1 {
			audioType = fh[0].Header.Get("Content-Type")
		}
		_, _ = w.Write([]byte(`{"ok":true,"success":true,"transcript":"why","response":"because","url":"https://signed.example/q.wav"}`))
	}))
	defer srv.Close()

	slide := 3
	ans, err := NewClient(srv.URL).Ask(context.Background(), []byte("OggS"), "audio/ogg; codecs=opus", domain.QuestionContext{
		PPTURL:     "https://signed.example/deck",
		SlideIndex: &slide,
	})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if ans.Transcript != "why" || ans.Response != "because" || ans.AudioURL != "https://signed.example/q.wav" {
		t.Errorf("answer = %+v", ans)
	}
	if fields["language"] != "en-US" || fields["ppt_url"] != "https://signed.example/deck" || fields["slide_index"] != "3" {
		t.Errorf("form fields = %v", fields)
	}
	if _, ok := fields["voice_id"]; ok {
		t.Error("empty fields should be omitted")
	}
	if !strings.HasPrefix(audioType, "audio/ogg") {
		t.Errorf("audio part type = %q", audioType)
	}
}

func TestClient_AskIncompleteAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"transcript":"","response":"x"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Ask(context.Background(), []byte("a"), "audio/wav", domain.QuestionContext{})
	if domain.KindOf(err) != domain.KindBackend {
		t.Fatalf("error = %v, want backend error", err)
	}
}

func TestClient_BatchStatusEscapesTaskID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"state":"queued"}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).BatchStatus(context.Background(), "../health"); err != nil {
		t.Fatalf("BatchStatus() error: %v", err)
	}
	if want := "/batch/status/..%2Fhealth"; got != want {
		t.Errorf("request path = %q, want %q", got, want)
	}
}

func TestClient_BatchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"task":"` + strings.TrimPrefix(r.URL.Path, "/batch/status/") + `","state":"running"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	raw, err := c.BatchStatus(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("BatchStatus() error: %v", err)
	}
	if !strings.Contains(string(raw), `"task":"t-1"`) {
		t.Errorf("status = %s", raw)
	}
	if _, err := c.BatchStatus(context.Background(), ""); domain.KindOf(err) != domain.KindState {
		t.Errorf("empty task id error = %v, want state error", err)
	}
}

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail":"No speech detected in audio"}`, "No speech detected in audio"},
		{`{"detail":[{"loc":["body","file"]}]}`, `[{"loc":["body","file"]}]`},
		{`{"error":"boom"}`, "boom"},
		{"Internal Server Error\n", "Internal Server Error"},
	}
	for _, tt := range tests {
		if got := errorDetail([]byte(tt.body)); got != tt.want {
			t.Errorf("errorDetail(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
