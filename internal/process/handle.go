package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrProcessExited is returned when signalling an instance that already exited.
var ErrProcessExited = errors.New("process already exited")

// Spec describes one auto-splitter launch.
type Spec struct {
	Path string
	Args []string
	// Dir is the working directory. Empty uses the executable's directory.
	Dir string
}

// Handle is one launched auto-splitter instance.
type Handle interface {
	ID() string
	PID() int
	Stdin() io.Writer
	Stdout() io.Reader
	// Stderr may be nil.
	Stderr() io.Reader
	// Done is closed once the instance has exited.
	Done() <-chan struct{}
	// ExitCode is -1 until the instance exits.
	ExitCode() int
	// Close asks the instance to exit: stdin is closed and an interrupt is sent.
	// It does not wait for the exit.
	Close() error
	// Kill terminates the instance forcefully.
	Kill() error
}

// Launcher starts auto-splitter instances.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// ExecLauncher launches instances as child processes with piped stdio.
type ExecLauncher struct{}

var _ Launcher = ExecLauncher{}

// Launch starts spec.Path. The instance outlives ctx; its lifetime belongs to the Supervisor.
func (ExecLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Path, err)
	}

	path := spec.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	// #nosec G204 -- the executable path is operator configuration.
	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(path)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	// os.Pipe instead of StdoutPipe: Wait must not close the read side before
	// the request reader has drained it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("start process %s: %w", spec.Path, err)
	}
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)

	h := &execHandle{
		id:      uuid.NewString(),
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdoutR,
		stderr:  stderrR,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	h.exitCode.Store(-1)
	go h.waitLoop()
	return h, nil
}

type execHandle struct {
	id      string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *os.File
	started time.Time

	done     chan struct{}
	exitCode atomic.Int32

	closeStdin sync.Once
}

func (h *execHandle) ID() string        { return h.id }
func (h *execHandle) Stdin() io.Writer  { return h.stdin }
func (h *execHandle) Stdout() io.Reader { return h.stdout }
func (h *execHandle) Stderr() io.Reader { return h.stderr }

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) ExitCode() int {
	return int(h.exitCode.Load())
}

func (h *execHandle) Close() error {
	var errs []error
	h.closeStdin.Do(func() {
		if err := h.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
	})
	if !exited(h) {
		if err := h.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("interrupt pid %d: %w", h.PID(), err))
		}
	}
	return errors.Join(errs...)
}

func (h *execHandle) Kill() error {
	if exited(h) {
		return ErrProcessExited
	}
	if err := h.cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrProcessExited
		}
		return fmt.Errorf("kill pid %d: %w", h.PID(), err)
	}
	return nil
}

func (h *execHandle) waitLoop() {
	err := h.cmd.Wait()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	h.exitCode.Store(int32(exitCode))
	close(h.done)
}

func exited(h Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
