package usecase

import (
	"context"
	"sync"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
)

// CameraConstraints request 720p video without audio.
var CameraConstraints = domain.Constraints{
	Video: &domain.VideoConstraints{Width: 1280, Height: 720, FPS: 25},
}

// CameraSession holds the presenter's camera for the live view.
type CameraSession struct {
	device *DeviceSession
	events domain.EventPublisher

	mu         sync.Mutex
	connecting bool
}

func NewCameraSession(device domain.Device, events domain.EventPublisher) *CameraSession {
	return &CameraSession{
		device: NewDeviceSession(device, domain.DeviceVideo),
		events: events,
	}
}

// Connect acquires the camera. A second Connect while one is in flight
// is rejected.
func (c *CameraSession) Connect(ctx context.Context) bool {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return false
	}
	c.connecting = true
	c.mu.Unlock()

	err := c.device.Acquire(ctx, CameraConstraints)

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()

	if err != nil {
		glog.Errorf("CameraSession: camera access failed: %v", err)
		publish(c.events, "camera", "error", "disconnected", err)
		return false
	}
	glog.Info("CameraSession: camera connected")
	publish(c.events, "camera", "connected", "connected", nil)
	return true
}

// Disconnect releases the camera and clears the last error.
func (c *CameraSession) Disconnect() {
	c.device.Release()
	c.device.ClearError()
	publish(c.events, "camera", "disconnected", "disconnected", nil)
}

// Test opens and immediately releases the camera.
func (c *CameraSession) Test(ctx context.Context) bool {
	if err := c.device.Probe(ctx, CameraConstraints); err != nil {
		glog.Warningf("CameraSession: camera test failed: %v", err)
		return false
	}
	glog.Info("CameraSession: camera test successful")
	return true
}

func (c *CameraSession) Connecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connecting
}

func (c *CameraSession) Granted() bool    { return c.device.Granted() }
func (c *CameraSession) LastError() error { return c.device.LastError() }

// Frames returns the held stream as a frame source when the adapter
// supports reading frames from it.
func (c *CameraSession) Frames() (domain.FrameSource, bool) {
	fs, ok := c.device.Stream().(domain.FrameSource)
	return fs, ok
}

func (c *CameraSession) Close() {
	c.device.Release()
}
