package webrtc

import (
	"fmt"

	"live-presenter/internal/domain"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// PionPublisher writes camera frames to local sample tracks.
type PionPublisher struct {
	videoTrack *webrtc.TrackLocalStaticSample
	audioTrack *webrtc.TrackLocalStaticSample
}

// NewPionPublisher wraps the tracks of one viewer. audio may be nil.
func NewPionPublisher(video *webrtc.TrackLocalStaticSample, audio *webrtc.TrackLocalStaticSample) *PionPublisher {
	return &PionPublisher{
		videoTrack: video,
		audioTrack: audio,
	}
}

func (p *PionPublisher) Publish(frame *domain.MediaFrame) error {
	switch frame.Type {
	case domain.FrameVideo:
		return p.videoTrack.WriteSample(media.Sample{
			Data:     frame.Data,
			Duration: frame.Duration,
		})
	case domain.FrameAudio:
		if p.audioTrack == nil {
			return nil
		}
		return p.audioTrack.WriteSample(media.Sample{
			Data:     frame.Data,
			Duration: frame.Duration,
		})
	default:
		return fmt.Errorf("unknown frame type 0x%02x", frame.Type)
	}
}

// NewVideoTrack creates the VP8 track the camera is published on.
func NewVideoTrack() (*webrtc.TrackLocalStaticSample, error) {
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video",
		"live-presenter",
	)
	if err != nil {
		return nil, fmt.Errorf("error creating track: %w", err)
	}
	return videoTrack, nil
}
