// Package api exposes the presenter sessions over HTTP and a websocket
// event feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"live-presenter/internal/domain"
	"live-presenter/internal/infrastructure"
	"live-presenter/internal/usecase"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/pion/webrtc/v4"
)

// BatchStatusChecker passes batch job status through from the backend.
type BatchStatusChecker interface {
	BatchStatus(ctx context.Context, taskID string) (json.RawMessage, error)
}

// Negotiator answers a viewer's offer with a publisher for its track.
type Negotiator interface {
	Negotiate(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, domain.StreamPublisher, error)
}

// Subscriber is the event source behind /ws.
type Subscriber interface {
	Subscribe() chan domain.Event
	Unsubscribe(ch chan domain.Event)
}

type Handlers struct {
	workflow *usecase.Workflow
	capture  *usecase.CaptureSession
	camera   *usecase.CameraSession
	relay    *usecase.CameraRelay
	viewers  Negotiator
	handoff  domain.HandoffStore
	batch    BatchStatusChecker
	events   Subscriber
	language string
}

type Deps struct {
	Workflow *usecase.Workflow
	Capture  *usecase.CaptureSession
	Camera   *usecase.CameraSession
	Relay    *usecase.CameraRelay
	Viewers  Negotiator
	Handoff  domain.HandoffStore
	Batch    BatchStatusChecker
	Events   Subscriber
	// Language is sent with questions when the request names none.
	Language string
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		workflow: d.Workflow,
		capture:  d.Capture,
		camera:   d.Camera,
		relay:    d.Relay,
		viewers:  d.Viewers,
		handoff:  d.Handoff,
		batch:    d.Batch,
		events:   d.Events,
		language: d.Language,
	}
}

// Router wires every route. blobs serves object URLs; static may be nil.
func (h *Handlers) Router(blobs http.Handler, static http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/workflow", h.WorkflowHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/upload/{kind}", h.UploadHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/workflow/voice-choice", h.VoiceChoiceHandler).Methods(http.MethodPut)
	r.HandleFunc("/api/workflow/options", h.OptionsHandler).Methods(http.MethodPut)
	r.HandleFunc("/api/workflow/next", h.NextHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/workflow/previous", h.PreviousHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/workflow/restore", h.RestoreHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/generate", h.GenerateHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/generate/cancel", h.CancelGenerateHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/generate/batch-status", h.BatchStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/presentation", h.StartPresentationHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/presentation/{key}", h.GetPresentationHandler).Methods(http.MethodGet)

	r.HandleFunc("/api/capture", h.CaptureStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/capture/permission", h.PermissionHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/capture/start", h.StartCaptureHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/capture/stop", h.StopCaptureHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/capture/process", h.ProcessCaptureHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/capture/clear", h.ClearCaptureHandler).Methods(http.MethodPost)

	r.HandleFunc("/api/camera", h.CameraStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/camera/connect", h.ConnectCameraHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/camera/disconnect", h.DisconnectCameraHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/camera/test", h.TestCameraHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/camera/offer", h.OfferHandler).Methods(http.MethodPost)

	r.PathPrefix(infrastructure.BlobPrefix).Handler(blobs).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ws", h.WebSocketHandler)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if static != nil {
		r.PathPrefix("/").Handler(static)
	}
	return r
}

// statusFor maps an error kind to the HTTP status reported to clients.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindPermission:
		return http.StatusForbidden
	case domain.KindDevice, domain.KindState:
		return http.StatusConflict
	case domain.KindTransport:
		return http.StatusServiceUnavailable
	case domain.KindBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("operation failed")
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		glog.Errorf("api: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: domain.KindOf(err).String()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: "request"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("api: writing response: %v", err)
	}
}
