package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AssetKind names an upload slot. Values double as backend route segments.
type AssetKind string

const (
	AssetSlides AssetKind = "ppt"
	AssetFace   AssetKind = "face"
	AssetVoice  AssetKind = "voice"
)

var AssetKinds = []AssetKind{AssetSlides, AssetFace, AssetVoice}

func ParseAssetKind(s string) (AssetKind, bool) {
	for _, k := range AssetKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

type UploadStatus string

const (
	UploadIdle      UploadStatus = "idle"
	UploadUploading UploadStatus = "uploading"
	UploadSuccess   UploadStatus = "success"
	UploadError     UploadStatus = "error"
)

// RemoteRef locates an uploaded asset in backend storage.
type RemoteRef struct {
	Blob string `json:"blob"`
	URL  string `json:"url"`
}

// UploadSlot tracks one asset. Ref is non-nil iff Status is UploadSuccess.
type UploadSlot struct {
	Status UploadStatus `json:"status"`
	Ref    *RemoteRef   `json:"ref,omitempty"`
}

type VoiceChoice string

const (
	VoiceUpload   VoiceChoice = "upload"
	VoiceExisting VoiceChoice = "existing"
)

// File is held by the workflow until its slot is uploaded.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type GenerationOptions struct {
	Style      string `json:"style"`
	Language   string `json:"language"`
	Duration   int    `json:"duration"`
	HumorLevel int    `json:"humorLevel"`
}

func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		Style:      "professional",
		Language:   "en-US",
		Duration:   5,
		HumorLevel: 5,
	}
}

type PresentationSettings struct {
	AvatarPosition string `json:"avatarPosition"`
	AvatarSize     int    `json:"avatarSize"`
	AutoSwitchTime int    `json:"autoSwitchTime"`
}

func DefaultPresentationSettings() PresentationSettings {
	return PresentationSettings{
		AvatarPosition: "bottom-right",
		AvatarSize:     30,
		AutoSwitchTime: 0,
	}
}

type GenerationProgress struct {
	Slides bool `json:"slides"`
	Script bool `json:"script"`
	Voice  bool `json:"voice"`
	Avatar bool `json:"avatar"`
}

func (p GenerationProgress) Completed() int {
	n := 0
	for _, done := range []bool{p.Slides, p.Script, p.Voice, p.Avatar} {
		if done {
			n++
		}
	}
	return n
}

// GenerationResult is the bundle returned by a successful generation.
// It is replaced as a whole, never field by field.
type GenerationResult struct {
	Script      string            `json:"script"`
	Slides      []json.RawMessage `json:"slides"`
	VideoURLs   []string          `json:"videoUrls"`
	VoiceID     string            `json:"voiceId"`
	VideoFileID string            `json:"videoFileId"`
}

type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

var WorkflowSteps = []Step{
	{ID: "upload", Title: "Upload Materials"},
	{ID: "generate", Title: "Generate Content"},
}

// Uploader stores one asset and returns its remote reference.
type Uploader interface {
	Upload(ctx context.Context, kind AssetKind, f File) (RemoteRef, error)
}

// HealthChecker reports backend liveness. Any error means unavailable.
type HealthChecker interface {
	Health(ctx context.Context) (json.RawMessage, error)
}

type GenerateRequest struct {
	PPTBlob     string      `json:"ppt_blob"`
	FaceBlob    string      `json:"face_blob"`
	VoiceBlob   *string     `json:"voice_blob"`
	VoiceID     *string     `json:"voice_id"`
	VoiceChoice VoiceChoice `json:"voice_choice"`
	Style       string      `json:"style"`
}

type Presentation struct {
	Slides      []json.RawMessage `json:"slides"`
	Scripts     []string          `json:"scripts"`
	VideoURLs   []string          `json:"video_urls"`
	VoiceID     string            `json:"voice_id"`
	VideoFileID string            `json:"video_file_id"`
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Presentation, error)
}

// QuestionContext travels with a spoken question.
type QuestionContext struct {
	PPTURL      string
	VoiceID     string
	VideoFileID string
	SlideIndex  *int
	Language    string
}

type Answer struct {
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
	AudioURL   string `json:"audio_url,omitempty"`
}

type QuestionAnswerer interface {
	Ask(ctx context.Context, audio []byte, mimeType string, qc QuestionContext) (*Answer, error)
}

// HandoffStore carries serialized payloads across the presentation boundary.
type HandoffStore interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
}

// Event reports a state change to observers such as the websocket feed.
type Event struct {
	Type    string    `json:"type"`
	Subject string    `json:"subject"`
	State   string    `json:"state,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type EventPublisher interface {
	Publish(ev Event)
}
