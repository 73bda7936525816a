package usecase

import (
	"context"
	"sync"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
)

// DeviceSession owns at most one live hardware stream.
// It is the only component allowed to stop or replace that stream.
type DeviceSession struct {
	device domain.Device
	kind   domain.DeviceKind

	mu      sync.Mutex
	stream  domain.Stream
	granted bool
	lastErr error
}

func NewDeviceSession(device domain.Device, kind domain.DeviceKind) *DeviceSession {
	return &DeviceSession{device: device, kind: kind}
}

// Acquire opens the device, releasing any stream already held.
// Hardware failures are stored and returned, never panicked.
func (d *DeviceSession) Acquire(ctx context.Context, c domain.Constraints) (err error) {
	d.Release()

	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("DeviceSession(%s): open panicked: %v", d.kind, r)
			err = domain.Errorf(domain.KindDevice, "acquire "+d.kind.String(), "device panic: %v", r)
			d.fail(err)
		}
	}()

	stream, err := d.device.Open(ctx, c)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			err = domain.NewError(domain.KindDevice, "acquire "+d.kind.String(), err)
		}
		d.fail(err)
		glog.Warningf("DeviceSession(%s): acquire failed: %v", d.kind, err)
		return err
	}

	d.mu.Lock()
	// A concurrent Acquire may have won the race; never leak its stream.
	prev := d.stream
	d.stream = stream
	d.granted = true
	d.lastErr = nil
	d.mu.Unlock()

	if prev != nil {
		stopStream(prev)
	}
	glog.V(1).Infof("DeviceSession(%s): acquired stream %s", d.kind, stream.ID())
	return nil
}

// Release stops every track of the held stream. Calling it on a released
// session is a no-op.
func (d *DeviceSession) Release() {
	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.granted = false
	d.mu.Unlock()

	if stream != nil {
		stopStream(stream)
		glog.V(1).Infof("DeviceSession(%s): released stream %s", d.kind, stream.ID())
	}
}

// ReleaseStream releases s only if it is still the held stream, so a
// late finalizer cannot tear down a newer acquisition.
func (d *DeviceSession) ReleaseStream(s domain.Stream) bool {
	d.mu.Lock()
	if s == nil || d.stream != s {
		d.mu.Unlock()
		return false
	}
	d.stream = nil
	d.granted = false
	d.mu.Unlock()

	stopStream(s)
	return true
}

// Probe checks availability with a scoped acquisition that is always
// released before returning. The held stream is not touched.
func (d *DeviceSession) Probe(ctx context.Context, c domain.Constraints) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.Errorf(domain.KindDevice, "probe "+d.kind.String(), "device panic: %v", r)
		}
	}()

	stream, err := d.device.Open(ctx, c)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			err = domain.NewError(domain.KindDevice, "probe "+d.kind.String(), err)
		}
		return err
	}
	defer stopStream(stream)
	return nil
}

func (d *DeviceSession) Stream() domain.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

func (d *DeviceSession) Granted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.granted
}

func (d *DeviceSession) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *DeviceSession) ClearError() {
	d.mu.Lock()
	d.lastErr = nil
	d.mu.Unlock()
}

func (d *DeviceSession) fail(err error) {
	d.mu.Lock()
	d.granted = false
	d.lastErr = err
	d.mu.Unlock()
}

func stopStream(s domain.Stream) {
	if err := s.Stop(); err != nil {
		glog.Warningf("stream %s: stop: %v", s.ID(), err)
	}
}
