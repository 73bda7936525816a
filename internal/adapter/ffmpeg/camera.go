package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"live-presenter/internal/domain"
	"live-presenter/internal/pkg/media"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

// Camera opens the video device as a realtime VP8 encoder writing IVF.
type Camera struct {
	cfg Config
}

func NewCamera(cfg Config) *Camera {
	return &Camera{cfg: cfg}
}

func (c *Camera) Open(ctx context.Context, cons domain.Constraints) (domain.Stream, error) {
	if cons.Video == nil {
		return nil, domain.Errorf(domain.KindState, "open camera", "video constraints required")
	}
	proc, err := startProcess(ctx, c.cfg.Binary, videoArgs(c.cfg, *cons.Video), "open camera", c.cfg.StartupGrace)
	if err != nil {
		return nil, err
	}
	s := &cameraStream{id: uuid.NewString(), proc: proc}
	glog.Infof("ffmpeg: camera %s/%s opened as stream %s", c.cfg.VideoFormat, c.cfg.VideoDevice, s.id)
	return s, nil
}

func videoArgs(cfg Config, v domain.VideoConstraints) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", cfg.VideoFormat,
	}
	if v.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(v.FPS))
	}
	if v.Width > 0 && v.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", v.Width, v.Height))
	}
	args = append(args, "-i", cfg.VideoDevice, "-an",
		"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8",
		"-b:v", "1M", "-auto-alt-ref", "0",
	)
	if v.FPS > 0 {
		args = append(args, "-g", strconv.Itoa(v.FPS*2))
	}
	return append(args, "-f", "ivf", "pipe:1")
}

// cameraStream is both the held Stream and a FrameSource over its output.
type cameraStream struct {
	id   string
	proc *process

	once   sync.Once
	src    *media.IVFSource
	srcErr error
}

func (s *cameraStream) ID() string              { return s.id }
func (s *cameraStream) Kind() domain.DeviceKind { return domain.DeviceVideo }
func (s *cameraStream) Active() bool            { return !s.proc.exited() }

func (s *cameraStream) Stop() error {
	s.proc.kill()
	return nil
}

// NextFrame blocks until the encoder has produced the IVF header on the
// first call, then returns one VP8 frame per call.
func (s *cameraStream) NextFrame() (*domain.MediaFrame, error) {
	s.once.Do(func() {
		s.src, s.srcErr = media.NewIVFSource(s.proc.stdout, false)
	})
	if s.srcErr != nil {
		return nil, domain.NewError(domain.KindDevice, "read camera", s.srcErr)
	}
	return s.src.NextFrame()
}

// Close is Stop; the frame source and the stream share the process.
func (s *cameraStream) Close() error { return s.Stop() }
