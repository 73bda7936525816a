package domain

import (
	"context"
	"errors"
	"time"
)

// DeviceKind identifies which hardware a device session drives.
type DeviceKind int

const (
	DeviceAudio DeviceKind = iota
	DeviceVideo
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceAudio:
		return "audio"
	case DeviceVideo:
		return "video"
	default:
		return "unknown"
	}
}

// AudioConstraints mirror the capture options a microphone is opened with.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	Channels         int
}

// VideoConstraints are ideal values; adapters may pick the closest mode.
type VideoConstraints struct {
	Width  int
	Height int
	FPS    int
}

// Constraints requests audio, video or both. A nil member means "off".
type Constraints struct {
	Audio *AudioConstraints
	Video *VideoConstraints
}

// Stream is an exclusively owned hardware acquisition.
// Stop must release every underlying track and be safe to call twice.
type Stream interface {
	ID() string
	Kind() DeviceKind
	Active() bool
	Stop() error
}

// Device opens streams. Failures are returned as *Error with
// KindPermission (denied / no device) or KindDevice (busy / unavailable).
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// RecorderEventType tags what the hardware layer is reporting.
type RecorderEventType int

const (
	EventChunk RecorderEventType = iota
	EventFinalized
	EventFailed
)

func (t RecorderEventType) String() string {
	switch t {
	case EventChunk:
		return "chunk"
	case EventFinalized:
		return "finalized"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecorderEvent is emitted by a Recorder onto its event channel.
// EventFinalized is always the last event and is sent only after the
// final chunk has been delivered.
type RecorderEvent struct {
	Type RecorderEventType
	Data []byte
	Err  error
}

// Recorder is a running encoder session bound to a stream.
type Recorder interface {
	Events() <-chan RecorderEvent
	// Stop asks the encoder to flush and finalize. It does not block
	// until finalization; wait for EventFinalized instead.
	Stop() error
}

// Encoder starts recorders on streams it knows how to read.
type Encoder interface {
	MimeType() string
	Encode(s Stream) (Recorder, error)
}

// ObjectStore hands out transient local references for playback.
// References stay valid until revoked.
type ObjectStore interface {
	Create(data []byte, mimeType string) string
	Revoke(url string)
}

// Artifact is a finalized capture. Data and URL are set together.
type Artifact struct {
	Data      []byte
	MimeType  string
	URL       string
	Chunks    int
	CreatedAt time.Time
}

// Size returns the encoded length in bytes.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// MediaFrame represents a single frame of encoded video or audio.
type MediaFrame struct {
	Data     []byte
	Duration time.Duration
	IsKey    bool
	Type     byte
}

const (
	FrameVideo byte = 0x01
	FrameAudio byte = 0x02
)

// FrameSource yields frames from a live stream.
type FrameSource interface {
	NextFrame() (*MediaFrame, error)
	Close() error
}

// StreamPublisher pushes frames to a remote viewer.
type StreamPublisher interface {
	Publish(frame *MediaFrame) error
}

var (
	ErrStreamEnded = errors.New("stream ended")
)
