package media

import (
	"errors"
	"io"
	"sync"
	"time"

	"live-presenter/internal/domain"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// defaultFrameDuration is used when the IVF timebase is unusable (25fps).
const defaultFrameDuration = 40 * time.Millisecond

var errSourceClosed = errors.New("frame source closed")

// IVFSource reads VP8 frames from an IVF container. When the underlying
// reader can seek and loop is set, the source rewinds at EOF.
type IVFSource struct {
	mu       sync.Mutex
	in       io.Reader
	closer   io.Closer
	ivf      *ivfreader.IVFReader
	header   *ivfreader.IVFFileHeader
	loop     bool
	duration time.Duration
}

// NewIVFSource parses the file header, blocking until it is available.
func NewIVFSource(in io.Reader, loop bool) (*IVFSource, error) {
	reader, header, err := ivfreader.NewWith(in)
	if err != nil {
		return nil, err
	}
	if _, ok := in.(io.Seeker); loop && !ok {
		return nil, errors.New("looping requires a seekable reader")
	}
	s := &IVFSource{
		in:       in,
		ivf:      reader,
		header:   header,
		loop:     loop,
		duration: frameDuration(header),
	}
	if c, ok := in.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

func frameDuration(h *ivfreader.IVFFileHeader) time.Duration {
	if h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return defaultFrameDuration
	}
	d := time.Second * time.Duration(h.TimebaseNumerator) / time.Duration(h.TimebaseDenominator)
	// Writers that use a millisecond timebase report 1/1000 rather than 1/fps.
	if d < 5*time.Millisecond {
		return defaultFrameDuration
	}
	return d
}

// Size returns the frame dimensions from the file header.
func (s *IVFSource) Size() (width, height int) {
	return int(s.header.Width), int(s.header.Height)
}

func (s *IVFSource) NextFrame() (*domain.MediaFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ivf == nil {
		return nil, errSourceClosed
	}

	payload, _, err := s.ivf.ParseNextFrame()
	if errors.Is(err, io.EOF) && s.loop {
		if err := s.rewind(); err != nil {
			return nil, err
		}
		payload, _, err = s.ivf.ParseNextFrame()
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, domain.ErrStreamEnded
		}
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errors.New("empty ivf frame")
	}

	return &domain.MediaFrame{
		Type:     domain.FrameVideo,
		Data:     payload,
		Duration: s.duration,
		// VP8: the low bit of the first byte is 0 on key frames.
		IsKey: payload[0]&0x01 == 0,
	}, nil
}

// rewind re-reads the header so the next frame is the first one.
func (s *IVFSource) rewind() error {
	if _, err := s.in.(io.Seeker).Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.in)
	if err != nil {
		return err
	}
	s.ivf = reader
	return nil
}

func (s *IVFSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ivf = nil
	if s.closer != nil {
		c := s.closer
		s.closer = nil
		return c.Close()
	}
	return nil
}
