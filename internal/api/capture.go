package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"live-presenter/internal/domain"
	"live-presenter/internal/usecase"

	"github.com/pion/webrtc/v4"
)

func conflict(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusConflict, errorResponse{Error: msg, Kind: domain.KindState.String()})
}

func (h *Handlers) CaptureStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.capture.Status())
}

func (h *Handlers) PermissionHandler(w http.ResponseWriter, r *http.Request) {
	if ok, err := h.capture.RequestPermission(r.Context()); !ok {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Status())
}

func (h *Handlers) StartCaptureHandler(w http.ResponseWriter, r *http.Request) {
	started, err := h.capture.Start(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !started {
		conflict(w, "capture session is busy")
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Status())
}

func (h *Handlers) StopCaptureHandler(w http.ResponseWriter, r *http.Request) {
	a, err := h.capture.Stop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if a == nil {
		conflict(w, "not recording")
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Status())
}

type processRequest struct {
	// PresentationKey selects the handoff payload the question is about.
	PresentationKey string `json:"presentationKey"`
	SlideIndex      *int   `json:"slideIndex"`
	Language        string `json:"language"`
}

func (h *Handlers) ProcessCaptureHandler(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return
	}

	qc := domain.QuestionContext{SlideIndex: req.SlideIndex, Language: req.Language}
	if qc.Language == "" {
		qc.Language = h.language
	}
	if req.PresentationKey != "" {
		data, err := usecase.LoadPresentation(h.handoff, req.PresentationKey)
		if err != nil {
			writeError(w, err)
			return
		}
		qc.PPTURL = data.PPTURL
		qc.VoiceID = data.VoiceID
		qc.VideoFileID = data.VideoFileID
	}

	ans, err := h.capture.ProcessRemote(r.Context(), nil, qc)
	if err != nil {
		writeError(w, err)
		return
	}
	if ans == nil {
		conflict(w, "no recording to process")
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (h *Handlers) ClearCaptureHandler(w http.ResponseWriter, r *http.Request) {
	if !h.capture.Clear() {
		conflict(w, "cannot clear while recording or processing")
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Status())
}

type cameraStatus struct {
	Connected  bool   `json:"connected"`
	Connecting bool   `json:"connecting"`
	Relaying   bool   `json:"relaying"`
	Error      string `json:"error,omitempty"`
}

func (h *Handlers) cameraStatus() cameraStatus {
	st := cameraStatus{
		Connected:  h.camera.Granted(),
		Connecting: h.camera.Connecting(),
		Relaying:   h.relay.Running(),
	}
	if err := h.camera.LastError(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (h *Handlers) CameraStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cameraStatus())
}

func (h *Handlers) ConnectCameraHandler(w http.ResponseWriter, r *http.Request) {
	if !h.camera.Connect(r.Context()) {
		if err := h.camera.LastError(); err != nil {
			writeError(w, err)
			return
		}
		conflict(w, "camera connection already in progress")
		return
	}
	writeJSON(w, http.StatusOK, h.cameraStatus())
}

func (h *Handlers) DisconnectCameraHandler(w http.ResponseWriter, r *http.Request) {
	h.relay.Stop()
	h.camera.Disconnect()
	writeJSON(w, http.StatusOK, h.cameraStatus())
}

func (h *Handlers) TestCameraHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": h.camera.Test(r.Context())})
}

// OfferHandler answers a viewer's SDP offer and starts relaying the
// connected camera to it.
func (h *Handlers) OfferHandler(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		badRequest(w, "invalid session description")
		return
	}
	if _, ok := h.camera.Frames(); !ok {
		conflict(w, "camera is not connected")
		return
	}

	answer, pub, err := h.viewers.Negotiate(r.Context(), offer)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.relay.Start(pub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
