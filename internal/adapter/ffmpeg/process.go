// Package ffmpeg captures the microphone and camera through ffmpeg child
// processes that write encoded media to stdout.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
)

const (
	defaultBinary       = "ffmpeg"
	defaultStartupGrace = 300 * time.Millisecond
	killTimeout         = 2 * time.Second
	stderrTail          = 8 << 10
)

// CheckInstallation verifies that the ffmpeg binary can be executed.
func CheckInstallation(binary string) error {
	if binary == "" {
		binary = defaultBinary
	}
	cmd := exec.Command(binary, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg is not installed or not in PATH: %w", err)
	}
	return nil
}

// process is a running ffmpeg whose stdout is read by the caller.
// stdout is an os.Pipe owned here, so Wait never closes it under a reader.
type process struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *tailBuffer
	op     string

	done    chan struct{}
	waitErr error

	killOnce sync.Once
}

// startProcess launches ffmpeg and waits out the startup grace period.
// A process that exits during the grace period is classified from its
// stderr.
func startProcess(ctx context.Context, binary string, args []string, op string, grace time.Duration) (*process, error) {
	if binary == "" {
		binary = defaultBinary
	}
	if grace <= 0 {
		grace = defaultStartupGrace
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, domain.NewError(domain.KindDevice, op, err)
	}

	p := &process{
		cmd:    exec.Command(binary, args...),
		stdout: pr,
		stderr: &tailBuffer{max: stderrTail},
		op:     op,
		done:   make(chan struct{}),
	}
	p.cmd.Stdout = pw
	p.cmd.Stderr = p.stderr

	glog.V(1).Infof("ffmpeg: %s %s", binary, strings.Join(args, " "))
	if err := p.cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, classify(op, "", err)
	}
	pw.Close()

	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		pr.Close()
		return nil, classify(op, p.stderr.String(), p.waitErr)
	case <-ctx.Done():
		p.kill()
		return nil, domain.NewError(domain.KindDevice, op, ctx.Err())
	case <-timer.C:
	}
	return p, nil
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// interrupt asks ffmpeg to finish the container and exit.
func (p *process) interrupt() error {
	if p.exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("signal ffmpeg: %w", err)
	}
	return nil
}

// kill terminates the process and closes the read end of stdout.
func (p *process) kill() {
	p.killOnce.Do(func() {
		if !p.exited() {
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				glog.Warningf("ffmpeg(%s): kill: %v", p.op, err)
			}
		}
		select {
		case <-p.done:
		case <-time.After(killTimeout):
			glog.Warningf("ffmpeg(%s): process did not exit after kill", p.op)
		}
		p.stdout.Close()
	})
}

// failure describes why the process ended without being asked to.
func (p *process) failure() error {
	<-p.done
	return classify(p.op, p.stderr.String(), p.waitErr)
}

// classify maps ffmpeg's diagnostics onto device error kinds.
func classify(op, stderr string, err error) *domain.Error {
	if errors.Is(err, exec.ErrNotFound) {
		return domain.Errorf(domain.KindDevice, op, "ffmpeg is not installed or not in PATH")
	}

	msg := lastLine(stderr)
	if msg == "" && err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = "ffmpeg exited"
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "operation not permitted"),
		strings.Contains(lower, "not authorized"):
		return domain.Errorf(domain.KindPermission, op, "access denied: %s", msg)
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no such audio device"),
		strings.Contains(lower, "could not find"):
		return domain.Errorf(domain.KindPermission, op, "no capture device: %s", msg)
	case strings.Contains(lower, "busy"):
		return domain.Errorf(domain.KindDevice, op, "device in use: %s", msg)
	default:
		return domain.Errorf(domain.KindDevice, op, "%s", msg)
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

var _ io.Writer = (*tailBuffer)(nil)

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
