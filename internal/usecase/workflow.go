package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// WorkflowBackend is everything the orchestrator needs from the remote
// generation service.
type WorkflowBackend interface {
	domain.Uploader
	domain.Generator
	domain.HealthChecker
}

// WorkflowConfig carries the identifiers the backend contract relies on.
type WorkflowConfig struct {
	// ExistingVoiceID is sent when the user keeps the stock voice.
	ExistingVoiceID string
	// Placeholders used when a successful response omits an identifier.
	FallbackVoiceID     string
	FallbackVideoFileID string
}

// PresentationData is the payload handed to the live presentation view.
type PresentationData struct {
	domain.GenerationResult
	PPTURL    string                      `json:"pptUrl"`
	VideoBlob string                      `json:"videoBlob"`
	Options   domain.GenerationOptions    `json:"options"`
	Settings  domain.PresentationSettings `json:"settings"`
}

// Workflow drives upload → generate → present.
type Workflow struct {
	backend WorkflowBackend
	handoff domain.HandoffStore
	events  domain.EventPublisher
	cfg     WorkflowConfig

	mu          sync.Mutex
	step        int
	files       map[domain.AssetKind]domain.File
	slots       map[domain.AssetKind]domain.UploadSlot
	slotSeq     map[domain.AssetKind]uint64
	voiceChoice domain.VoiceChoice
	options     domain.GenerationOptions
	settings    domain.PresentationSettings
	progress    domain.GenerationProgress
	result      *domain.GenerationResult
	generating  bool
	genSeq      uint64
	lastErr     error
}

func NewWorkflow(backend WorkflowBackend, handoff domain.HandoffStore, events domain.EventPublisher, cfg WorkflowConfig) *Workflow {
	w := &Workflow{
		backend:     backend,
		handoff:     handoff,
		events:      events,
		cfg:         cfg,
		files:       make(map[domain.AssetKind]domain.File),
		slots:       make(map[domain.AssetKind]domain.UploadSlot),
		slotSeq:     make(map[domain.AssetKind]uint64),
		voiceChoice: domain.VoiceUpload,
		options:     domain.DefaultGenerationOptions(),
		settings:    domain.DefaultPresentationSettings(),
	}
	for _, k := range domain.AssetKinds {
		w.slots[k] = domain.UploadSlot{Status: domain.UploadIdle}
	}
	return w
}

func (w *Workflow) Steps() []domain.Step { return domain.WorkflowSteps }

func (w *Workflow) Step() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// SetFile holds f for the slot until UploadAsset is called.
func (w *Workflow) SetFile(kind domain.AssetKind, f domain.File) {
	w.mu.Lock()
	w.files[kind] = f
	w.mu.Unlock()
}

func (w *Workflow) SetVoiceChoice(c domain.VoiceChoice) {
	w.mu.Lock()
	w.voiceChoice = c
	w.mu.Unlock()
	w.notify("voice_choice", nil)
}

func (w *Workflow) SetOptions(o domain.GenerationOptions) {
	w.mu.Lock()
	w.options = o
	w.mu.Unlock()
}

func (w *Workflow) SetSettings(s domain.PresentationSettings) {
	w.mu.Lock()
	w.settings = s
	w.mu.Unlock()
}

// UploadAsset submits the held file for kind. Calling it again restarts
// the slot; the completion of a superseded call is ignored.
func (w *Workflow) UploadAsset(ctx context.Context, kind domain.AssetKind) error {
	w.mu.Lock()
	if _, known := w.slots[kind]; !known {
		w.mu.Unlock()
		return domain.Errorf(domain.KindState, "upload", "unknown asset kind %q", kind)
	}
	f, ok := w.files[kind]
	if !ok {
		w.mu.Unlock()
		return domain.ErrNoFile
	}
	w.slotSeq[kind]++
	seq := w.slotSeq[kind]
	w.slots[kind] = domain.UploadSlot{Status: domain.UploadUploading}
	w.mu.Unlock()
	w.notify("upload_"+string(kind), nil)

	glog.Infof("Workflow: uploading %s (%s, %d bytes)", kind, f.Name, len(f.Data))
	ref, err := w.backend.Upload(ctx, kind, f)
	if err != nil && domain.KindOf(err) == domain.KindUnknown {
		err = domain.NewError(domain.KindTransport, "upload "+string(kind), err)
	}

	w.mu.Lock()
	if w.slotSeq[kind] != seq {
		w.mu.Unlock()
		glog.V(1).Infof("Workflow: discarding superseded %s upload", kind)
		return nil
	}
	if err != nil {
		w.slots[kind] = domain.UploadSlot{Status: domain.UploadError}
		w.lastErr = err
		w.mu.Unlock()
		glog.Errorf("Workflow: upload error for %s: %v", kind, err)
		w.notify("upload_"+string(kind), err)
		return err
	}
	w.slots[kind] = domain.UploadSlot{Status: domain.UploadSuccess, Ref: &ref}
	w.lastErr = nil
	w.mu.Unlock()

	glog.Infof("Workflow: uploaded %s as %s", kind, ref.Blob)
	w.notify("upload_"+string(kind), nil)
	return nil
}

// CanAdvance is evaluated from current slot state on every call.
func (w *Workflow) CanAdvance() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canAdvanceLocked()
}

func (w *Workflow) canAdvanceLocked() bool {
	if w.step != 0 {
		return true
	}
	ok := func(k domain.AssetKind) bool { return w.slots[k].Status == domain.UploadSuccess }
	voice := w.voiceChoice == domain.VoiceExisting || ok(domain.AssetVoice)
	return ok(domain.AssetSlides) && ok(domain.AssetFace) && voice
}

func (w *Workflow) Next() bool {
	w.mu.Lock()
	if !w.canAdvanceLocked() || w.step >= len(domain.WorkflowSteps)-1 {
		w.mu.Unlock()
		return false
	}
	w.step++
	w.mu.Unlock()
	w.notify("step", nil)
	return true
}

func (w *Workflow) Previous() bool {
	w.mu.Lock()
	if w.step == 0 {
		w.mu.Unlock()
		return false
	}
	w.step--
	w.mu.Unlock()
	w.notify("step", nil)
	return true
}

// RestoreToStep repositions the workflow without rehydrating results.
func (w *Workflow) RestoreToStep(n int) {
	w.mu.Lock()
	n = lo.Clamp(n, 0, len(domain.WorkflowSteps)-1)
	w.step = n
	empty := w.result == nil
	w.mu.Unlock()

	if n >= 1 && empty {
		glog.Infof("Workflow: restored to step %d without generated content; regeneration required", n)
	}
	w.notify("step", nil)
}

// Generate runs a health check and then the generation call. It returns
// false without calling the backend when a generation is already running.
func (w *Workflow) Generate(ctx context.Context) (bool, error) {
	w.mu.Lock()
	if w.generating {
		w.mu.Unlock()
		return false, nil
	}
	w.generating = true
	w.genSeq++
	seq := w.genSeq
	req := w.generateRequestLocked()
	w.mu.Unlock()
	w.notify("generating", nil)

	glog.Infof("Workflow: starting presentation generation ppt=%s face=%s choice=%s style=%s",
		req.PPTBlob, req.FaceBlob, req.VoiceChoice, req.Style)

	if _, err := w.backend.Health(ctx); err != nil {
		glog.Errorf("Workflow: backend not running or not accessible: %v", err)
		return true, w.failGeneration(seq, domain.Errorf(domain.KindTransport, "generate presentation",
			"backend server is not running: %v", err))
	}

	p, err := w.backend.Generate(ctx, req)
	if err == nil && p == nil {
		err = domain.Errorf(domain.KindBackend, "generate presentation", "empty presentation in response")
	}
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			err = domain.NewError(domain.KindTransport, "generate presentation", err)
		}
		return true, w.failGeneration(seq, err)
	}

	result := &domain.GenerationResult{
		Script:      strings.Join(p.Scripts, "\n\n"),
		Slides:      lo.Ternary(p.Slides == nil, []json.RawMessage{}, p.Slides),
		VideoURLs:   lo.Ternary(p.VideoURLs == nil, []string{}, p.VideoURLs),
		VoiceID:     lo.Ternary(p.VoiceID == "", w.cfg.FallbackVoiceID, p.VoiceID),
		VideoFileID: lo.Ternary(p.VideoFileID == "", w.cfg.FallbackVideoFileID, p.VideoFileID),
	}

	w.mu.Lock()
	if w.genSeq != seq {
		w.mu.Unlock()
		glog.Infof("Workflow: discarding result of abandoned generation #%d", seq)
		return true, nil
	}
	w.result = result
	w.progress = domain.GenerationProgress{Slides: true, Script: true, Voice: true, Avatar: true}
	w.generating = false
	w.lastErr = nil
	w.mu.Unlock()

	glog.Infof("Workflow: presentation generated: slides=%d videos=%d scripts=%d voice=%s videoFile=%s",
		len(result.Slides), len(result.VideoURLs), len(p.Scripts), result.VoiceID, result.VideoFileID)
	w.notify("generated", nil)
	return true, nil
}

func (w *Workflow) generateRequestLocked() domain.GenerateRequest {
	req := domain.GenerateRequest{
		VoiceChoice: w.voiceChoice,
		Style:       w.options.Style,
	}
	if ref := w.slots[domain.AssetSlides].Ref; ref != nil {
		req.PPTBlob = ref.Blob
	}
	if ref := w.slots[domain.AssetFace].Ref; ref != nil {
		req.FaceBlob = ref.Blob
	}
	if w.voiceChoice == domain.VoiceExisting {
		id := w.cfg.ExistingVoiceID
		req.VoiceID = &id
	} else if ref := w.slots[domain.AssetVoice].Ref; ref != nil {
		blob := ref.Blob
		req.VoiceBlob = &blob
	}
	return req
}

func (w *Workflow) failGeneration(seq uint64, cause error) error {
	err := fmt.Errorf("failed to generate presentation: %w", cause)
	w.mu.Lock()
	if w.genSeq != seq {
		w.mu.Unlock()
		return err
	}
	w.generating = false
	w.lastErr = err
	w.mu.Unlock()

	glog.Errorf("Workflow: %v", err)
	w.notify("generating", err)
	return err
}

// CancelGeneration abandons the in-flight generation so a new one can
// start. The backend is not told; its eventual result is discarded.
func (w *Workflow) CancelGeneration() bool {
	w.mu.Lock()
	if !w.generating {
		w.mu.Unlock()
		return false
	}
	w.genSeq++
	w.generating = false
	w.mu.Unlock()

	glog.Info("Workflow: generation abandoned")
	w.notify("generation_cancelled", nil)
	return true
}

// StartPresentation stores the generated bundle for the presentation view
// and returns the handoff key.
func (w *Workflow) StartPresentation() (string, error) {
	w.mu.Lock()
	if w.result == nil {
		w.mu.Unlock()
		return "", domain.ErrNoResult
	}
	data := PresentationData{
		GenerationResult: *w.result,
		Options:          w.options,
		Settings:         w.settings,
	}
	if ref := w.slots[domain.AssetSlides].Ref; ref != nil {
		data.PPTURL = ref.URL
	}
	if ref := w.slots[domain.AssetFace].Ref; ref != nil {
		data.VideoBlob = ref.Blob
	}
	w.mu.Unlock()

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal presentation data: %w", err)
	}
	key := "presentation:" + uuid.NewString()
	if err := w.handoff.Put(key, raw); err != nil {
		return "", fmt.Errorf("store presentation data: %w", err)
	}
	glog.Infof("Workflow: presentation data stored under %s", key)
	w.notify("presenting", nil)
	return key, nil
}

// LoadPresentation reads a payload written by StartPresentation.
func LoadPresentation(store domain.HandoffStore, key string) (*PresentationData, error) {
	raw, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	var data PresentationData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode presentation data: %w", err)
	}
	return &data, nil
}

func (w *Workflow) Result() *domain.GenerationResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil
	}
	r := *w.result
	return &r
}

func (w *Workflow) Progress() domain.GenerationProgress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

// OverallProgress is the completed share of generation stages, 0-100.
func (w *Workflow) OverallProgress() float64 {
	return float64(w.Progress().Completed()) / 4 * 100
}

func (w *Workflow) Generating() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generating
}

func (w *Workflow) Slot(kind domain.AssetKind) domain.UploadSlot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.slots[kind]
}

func (w *Workflow) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// WorkflowSnapshot is a consistent read of the whole workflow.
type WorkflowSnapshot struct {
	Step            int                                    `json:"step"`
	Steps           []domain.Step                          `json:"steps"`
	CanAdvance      bool                                   `json:"canAdvance"`
	Uploads         map[domain.AssetKind]domain.UploadSlot `json:"uploads"`
	Files           map[domain.AssetKind]string            `json:"files"`
	VoiceChoice     domain.VoiceChoice                     `json:"voiceChoice"`
	Options         domain.GenerationOptions               `json:"options"`
	Settings        domain.PresentationSettings            `json:"settings"`
	Progress        domain.GenerationProgress              `json:"progress"`
	OverallProgress float64                                `json:"overallProgress"`
	Generating      bool                                   `json:"generating"`
	Result          *domain.GenerationResult               `json:"result,omitempty"`
	Error           string                                 `json:"error,omitempty"`
}

func (w *Workflow) Snapshot() WorkflowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := WorkflowSnapshot{
		Step:            w.step,
		Steps:           domain.WorkflowSteps,
		CanAdvance:      w.canAdvanceLocked(),
		Uploads:         lo.Assign(w.slots),
		Files:           lo.MapValues(w.files, func(f domain.File, _ domain.AssetKind) string { return f.Name }),
		VoiceChoice:     w.voiceChoice,
		Options:         w.options,
		Settings:        w.settings,
		Progress:        w.progress,
		OverallProgress: float64(w.progress.Completed()) / 4 * 100,
		Generating:      w.generating,
	}
	if w.result != nil {
		r := *w.result
		snap.Result = &r
	}
	if w.lastErr != nil {
		snap.Error = w.lastErr.Error()
	}
	return snap
}

func (w *Workflow) notify(typ string, err error) {
	publish(w.events, "workflow", typ, fmt.Sprintf("step=%d", w.Step()), err)
}
