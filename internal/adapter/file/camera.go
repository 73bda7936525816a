// Package file provides capture devices backed by recorded media files,
// for hosts without hardware and for rehearsals.
package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync/atomic"

	"live-presenter/internal/domain"
	"live-presenter/internal/pkg/media"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

// Camera plays a VP8 IVF file in a loop as if it were a webcam.
type Camera struct {
	path string
}

func NewCamera(path string) *Camera {
	return &Camera{path: path}
}

func (c *Camera) Open(ctx context.Context, cons domain.Constraints) (domain.Stream, error) {
	const op = "open camera"
	if cons.Video == nil {
		return nil, domain.Errorf(domain.KindState, op, "video constraints required")
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewError(domain.KindDevice, op, err)
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, openError(op, err)
	}
	src, err := media.NewIVFSource(f, true)
	if err != nil {
		f.Close()
		return nil, domain.Errorf(domain.KindDevice, op, "%s is not an ivf file: %v", c.path, err)
	}

	s := &cameraStream{id: uuid.NewString(), src: src}
	s.active.Store(true)
	w, h := src.Size()
	glog.Infof("file: camera %s (%dx%d) opened as stream %s", c.path, w, h, s.id)
	return s, nil
}

func openError(op string, err error) *domain.Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.NewError(domain.KindPermission, op, err)
	case errors.Is(err, fs.ErrPermission):
		return domain.NewError(domain.KindPermission, op, err)
	default:
		return domain.NewError(domain.KindDevice, op, err)
	}
}

type cameraStream struct {
	id     string
	src    *media.IVFSource
	active atomic.Bool
}

func (s *cameraStream) ID() string              { return s.id }
func (s *cameraStream) Kind() domain.DeviceKind { return domain.DeviceVideo }
func (s *cameraStream) Active() bool            { return s.active.Load() }

func (s *cameraStream) Stop() error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	return s.src.Close()
}

func (s *cameraStream) NextFrame() (*domain.MediaFrame, error) {
	return s.src.NextFrame()
}

func (s *cameraStream) Close() error { return s.Stop() }
