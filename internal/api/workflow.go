package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"live-presenter/internal/domain"
	"live-presenter/internal/usecase"

	"github.com/gorilla/mux"
)

// maxUpload bounds a single multipart upload.
const maxUpload = 256 << 20

func (h *Handlers) WorkflowHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workflow.Snapshot())
}

// UploadHandler holds the posted file in its slot, then uploads it.
func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	kind, ok := domain.ParseAssetKind(mux.Vars(r)["kind"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown upload kind", Kind: "request"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "failed to parse form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "failed to read file")
		return
	}

	h.workflow.SetFile(kind, domain.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err := h.workflow.UploadAsset(r.Context(), kind); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.workflow.Slot(kind))
}

type voiceChoiceRequest struct {
	VoiceChoice domain.VoiceChoice `json:"voiceChoice"`
}

func (h *Handlers) VoiceChoiceHandler(w http.ResponseWriter, r *http.Request) {
	var req voiceChoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	switch req.VoiceChoice {
	case domain.VoiceUpload, domain.VoiceExisting:
	default:
		badRequest(w, "voiceChoice must be upload or existing")
		return
	}
	h.workflow.SetVoiceChoice(req.VoiceChoice)
	writeJSON(w, http.StatusOK, h.workflow.Snapshot())
}

type optionsRequest struct {
	Options  *domain.GenerationOptions    `json:"options"`
	Settings *domain.PresentationSettings `json:"settings"`
}

func (h *Handlers) OptionsHandler(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Options != nil {
		h.workflow.SetOptions(*req.Options)
	}
	if req.Settings != nil {
		h.workflow.SetSettings(*req.Settings)
	}
	writeJSON(w, http.StatusOK, h.workflow.Snapshot())
}

type stepResponse struct {
	OK   bool `json:"ok"`
	Step int  `json:"step"`
}

func (h *Handlers) NextHandler(w http.ResponseWriter, r *http.Request) {
	ok := h.workflow.Next()
	writeJSON(w, http.StatusOK, stepResponse{OK: ok, Step: h.workflow.Step()})
}

func (h *Handlers) PreviousHandler(w http.ResponseWriter, r *http.Request) {
	ok := h.workflow.Previous()
	writeJSON(w, http.StatusOK, stepResponse{OK: ok, Step: h.workflow.Step()})
}

func (h *Handlers) RestoreHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step int `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	h.workflow.RestoreToStep(req.Step)
	writeJSON(w, http.StatusOK, stepResponse{OK: true, Step: h.workflow.Step()})
}

// GenerateHandler runs generation detached from the request so that only
// an explicit cancel abandons it.
func (h *Handlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	started, err := h.workflow.Generate(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if !started {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "generation already in progress", Kind: domain.KindState.String()})
		return
	}
	writeJSON(w, http.StatusOK, h.workflow.Snapshot())
}

func (h *Handlers) CancelGenerateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": h.workflow.CancelGeneration()})
}

func (h *Handlers) BatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		badRequest(w, "taskId is required")
		return
	}
	raw, err := h.batch.BatchStatus(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (h *Handlers) StartPresentationHandler(w http.ResponseWriter, r *http.Request) {
	key, err := h.workflow.StartPresentation()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (h *Handlers) GetPresentationHandler(w http.ResponseWriter, r *http.Request) {
	data, err := usecase.LoadPresentation(h.handoff, mux.Vars(r)["key"])
	if err != nil {
		if domain.KindOf(err) == domain.KindState {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: domain.KindState.String()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
