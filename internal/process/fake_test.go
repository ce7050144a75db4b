package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/splitlink/splitlink/internal/events"
	"github.com/splitlink/splitlink/internal/protocol"
)

// opLog records launcher and handle operations in order.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ops))
	copy(out, l.ops)
	return out
}

type fakeHandle struct {
	id  string
	log *opLog

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	lines   *bufio.Reader

	done     chan struct{}
	doneOnce sync.Once
	code     int

	mu       sync.Mutex
	closes   int
	kills    int
	killErr  error
	closeErr error
}

func newFakeHandle(id string, log *opLog) *fakeHandle {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	return &fakeHandle{
		id:      id,
		log:     log,
		stdinR:  stdinR,
		stdinW:  stdinW,
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		lines:   bufio.NewReader(stdinR),
		done:    make(chan struct{}),
		code:    -1,
	}
}

func (h *fakeHandle) ID() string            { return h.id }
func (h *fakeHandle) PID() int              { return 4242 }
func (h *fakeHandle) Stdin() io.Writer      { return h.stdinW }
func (h *fakeHandle) Stdout() io.Reader     { return h.stdoutR }
func (h *fakeHandle) Stderr() io.Reader     { return nil }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closes++
	err := h.closeErr
	h.mu.Unlock()
	h.log.add("close:" + h.id)
	_ = h.stdinW.Close()
	h.exit(0)
	return err
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.kills++
	err := h.killErr
	h.mu.Unlock()
	h.log.add("kill:" + h.id)
	h.exit(137)
	return err
}

func (h *fakeHandle) exit(code int) {
	h.doneOnce.Do(func() {
		h.mu.Lock()
		h.code = code
		h.mu.Unlock()
		_ = h.stdoutW.Close()
		_ = h.stdinR.Close()
		close(h.done)
	})
}

// emit writes one line as if the auto-splitter printed it.
func (h *fakeHandle) emit(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(h.stdoutW, line+"\n"); err != nil {
		t.Fatalf("emit %q: %v", line, err)
	}
}

// readCommand reads one command line written to the auto-splitter.
func (h *fakeHandle) readCommand(t *testing.T) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := h.lines.ReadString('\n')
		ch <- result{line: line, err: err}
	}()
	select {
	case got := <-ch:
		if got.err != nil {
			t.Fatalf("read command: %v", got.err)
		}
		return got.line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
		return ""
	}
}

func (h *fakeHandle) counts() (closes, kills int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes, h.kills
}

type fakeLauncher struct {
	log *opLog

	mu      sync.Mutex
	handles []*fakeHandle
	specs   []Spec
	err     error
	killErr error
}

func (l *fakeLauncher) Launch(_ context.Context, spec Spec) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	h := newFakeHandle(fmt.Sprintf("h%d", len(l.handles)+1), l.log)
	h.killErr = l.killErr
	l.handles = append(l.handles, h)
	l.specs = append(l.specs, spec)
	l.log.add("launch:" + h.id)
	return h, nil
}

func (l *fakeLauncher) launched() []*fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*fakeHandle, len(l.handles))
	copy(out, l.handles)
	return out
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, event := range b.events {
		out = append(out, event.Type)
	}
	return out
}

func (b *recordingBus) has(eventType string) bool {
	for _, got := range b.types() {
		if got == eventType {
			return true
		}
	}
	return false
}

type requestRecorder struct {
	mu   sync.Mutex
	reqs []protocol.Request
}

func (r *requestRecorder) HandleRequest(req protocol.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

func (r *requestRecorder) snapshot() []protocol.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Request, len(r.reqs))
	copy(out, r.reqs)
	return out
}

var errBoom = errors.New("boom")
