package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Question is one recorded call to the mock question endpoint.
type Question struct {
	AudioBytes  int
	Filename    string
	Language    string
	PPTURL      string
	VoiceID     string
	VideoFileID string
	SlideIndex  string
}

// Mock is an in-process stand-in for the presentation AI service. It
// speaks the same HTTP contract as the real backend.
type Mock struct {
	mu        sync.Mutex
	blobs     map[string]domain.AssetKind
	questions []Question
	generated int
	unhealthy bool

	// OmitIDs drops voice_id and video_file_id from generation replies.
	OmitIDs bool
	// Slides is how many slides a generation produces.
	Slides int
}

func NewMock() *Mock {
	return &Mock{blobs: make(map[string]domain.AssetKind), Slides: 3}
}

func (m *Mock) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health/", m.health).Methods(http.MethodGet)
	r.HandleFunc("/upload/{kind}", m.upload).Methods(http.MethodPost)
	r.HandleFunc("/generate/presentation", m.generate).Methods(http.MethodPost)
	r.HandleFunc("/questions/audio-to-text", m.question).Methods(http.MethodPost)
	r.HandleFunc("/batch/status/{taskId}", m.batchStatus).Methods(http.MethodGet)
	return r
}

// SetUnhealthy makes /health/ answer 503.
func (m *Mock) SetUnhealthy(v bool) {
	m.mu.Lock()
	m.unhealthy = v
	m.mu.Unlock()
}

func (m *Mock) Questions() []Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Question(nil), m.questions...)
}

func (m *Mock) Generated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generated
}

func detail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}

func reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (m *Mock) health(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	unhealthy := m.unhealthy
	m.mu.Unlock()
	if unhealthy {
		detail(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	reply(w, map[string]string{"status": "healthy"})
}

func (m *Mock) upload(w http.ResponseWriter, r *http.Request) {
	kind, ok := domain.ParseAssetKind(mux.Vars(r)["kind"])
	if !ok {
		detail(w, http.StatusNotFound, "unknown upload type")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		detail(w, http.StatusUnprocessableEntity, "file is required")
		return
	}
	defer file.Close()
	n, _ := io.Copy(io.Discard, file)

	blob := fmt.Sprintf("%s-%s", kind, uuid.NewString())
	m.mu.Lock()
	m.blobs[blob] = kind
	m.mu.Unlock()

	glog.Infof("mock: stored %s upload %s (%d bytes) as %s", kind, header.Filename, n, blob)
	reply(w, map[string]any{
		"ok":   true,
		"blob": blob,
		"url":  "https://storage.example.com/" + blob + "/" + header.Filename,
	})
}

func (m *Mock) known(blob string, kind domain.AssetKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[blob] == kind
}

func (m *Mock) generate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if !m.known(req.PPTBlob, domain.AssetSlides) || !m.known(req.FaceBlob, domain.AssetFace) {
		detail(w, http.StatusBadRequest, "unknown slides or face blob")
		return
	}
	voiceID := ""
	switch {
	case req.VoiceID != nil:
		voiceID = *req.VoiceID
	case req.VoiceBlob != nil && m.known(*req.VoiceBlob, domain.AssetVoice):
		voiceID = "cloned-" + uuid.NewString()[:8]
	default:
		detail(w, http.StatusBadRequest, "voice_blob or voice_id is required")
		return
	}

	m.mu.Lock()
	m.generated++
	slides, omit := m.Slides, m.OmitIDs
	m.mu.Unlock()

	p := domain.Presentation{VoiceID: voiceID, VideoFileID: "video-" + uuid.NewString()[:8]}
	for i := 0; i < slides; i++ {
		slide, _ := json.Marshal(map[string]any{"index": i, "title": fmt.Sprintf("Slide %d", i+1)})
		p.Slides = append(p.Slides, slide)
		p.Scripts = append(p.Scripts, fmt.Sprintf("Script for slide %d in a %s style.", i+1, req.Style))
		p.VideoURLs = append(p.VideoURLs, fmt.Sprintf("https://storage.example.com/video/%d.mp4", i))
	}
	if omit {
		p.VoiceID, p.VideoFileID = "", ""
	}
	glog.Infof("mock: generated %d slides (voice %s)", slides, voiceID)
	reply(w, map[string]any{"success": true, "presentation": p})
}

func (m *Mock) question(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		detail(w, http.StatusUnprocessableEntity, "audio is required")
		return
	}
	defer file.Close()
	n, _ := io.Copy(io.Discard, file)
	if n == 0 {
		detail(w, http.StatusBadRequest, "empty audio")
		return
	}

	q := Question{
		AudioBytes:  int(n),
		Filename:    header.Filename,
		Language:    r.FormValue("language"),
		PPTURL:      r.FormValue("ppt_url"),
		VoiceID:     r.FormValue("voice_id"),
		VideoFileID: r.FormValue("video_file_id"),
		SlideIndex:  r.FormValue("slide_index"),
	}
	m.mu.Lock()
	m.questions = append(m.questions, q)
	m.mu.Unlock()

	answer := "Thanks for the question."
	if q.SlideIndex != "" {
		if i, err := strconv.Atoi(q.SlideIndex); err == nil {
			answer = fmt.Sprintf("On slide %d, the key point is the summary above.", i+1)
		}
	}
	reply(w, map[string]any{
		"success":    true,
		"transcript": fmt.Sprintf("question of %d bytes", n),
		"response":   answer,
		"url":        "https://storage.example.com/answers/" + uuid.NewString() + ".mp4",
	})
}

func (m *Mock) batchStatus(w http.ResponseWriter, r *http.Request) {
	reply(w, map[string]any{"task_id": mux.Vars(r)["taskId"], "status": "completed", "progress": 100})
}
