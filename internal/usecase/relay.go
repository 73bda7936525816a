package usecase

import (
	"errors"
	"sync"
	"time"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
)

const defaultFrameDuration = 40 * time.Millisecond

// CameraRelay pumps frames from the connected camera to one viewer.
// Starting a relay replaces the previous one.
type CameraRelay struct {
	camera *CameraSession
	events domain.EventPublisher

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

func NewCameraRelay(camera *CameraSession, events domain.EventPublisher) *CameraRelay {
	return &CameraRelay{camera: camera, events: events}
}

// Start begins relaying to pub. It fails with a state error when the camera
// is not connected or cannot be read frame by frame.
func (r *CameraRelay) Start(pub domain.StreamPublisher) error {
	src, ok := r.camera.Frames()
	if !ok {
		return domain.Errorf(domain.KindState, "start relay", "camera is not connected")
	}

	r.Stop()

	r.mu.Lock()
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	r.stopCh, r.doneCh, r.running = stopCh, doneCh, true
	r.mu.Unlock()

	go r.run(src, pub, stopCh, doneCh)
	publish(r.events, "camera", "relay_started", "live", nil)
	return nil
}

// Stop halts the current relay and waits for it to exit.
func (r *CameraRelay) Stop() {
	r.mu.Lock()
	stopCh, doneCh := r.stopCh, r.doneCh
	r.stopCh, r.doneCh = nil, nil
	r.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (r *CameraRelay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *CameraRelay) run(src domain.FrameSource, pub domain.StreamPublisher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		r.mu.Lock()
		if r.doneCh == doneCh || r.doneCh == nil {
			r.running = false
		}
		r.mu.Unlock()
	}()

	interval := defaultFrameDuration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	waitingForKeyframe := true
	sent := 0
	for {
		select {
		case <-stopCh:
			glog.Infof("CameraRelay: stopped after %d frames", sent)
			return
		case <-ticker.C:
		}

		frame, err := src.NextFrame()
		if err != nil {
			if errors.Is(err, domain.ErrStreamEnded) {
				glog.Infof("CameraRelay: camera stream ended after %d frames", sent)
			} else {
				glog.Warningf("CameraRelay: reading frame: %v", err)
			}
			publish(r.events, "camera", "relay_stopped", "idle", nil)
			return
		}

		if waitingForKeyframe {
			if !frame.IsKey {
				continue
			}
			glog.V(1).Info("CameraRelay: keyframe received, publishing")
			waitingForKeyframe = false
		}

		if err := pub.Publish(frame); err != nil {
			glog.Warningf("CameraRelay: publish failed: %v", err)
			publish(r.events, "camera", "relay_stopped", "idle", domain.NewError(domain.KindTransport, "relay frame", err))
			return
		}
		sent++

		if d := frame.Duration; d > 0 && d != interval {
			interval = d
			ticker.Reset(interval)
		}
	}
}
