package process

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/splitlink/splitlink/internal/events"
	"github.com/splitlink/splitlink/internal/logging"
	"github.com/splitlink/splitlink/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultOutboxSize bounds queued commands per instance.
	DefaultOutboxSize = 64

	maxRequestLineBytes = 64 * 1024
)

// State is the supervisor's view of the auto-splitter lifecycle.
type State string

const (
	// StateNotConfigured means no executable path is set.
	StateNotConfigured State = "not_configured"
	// StateIdle means a path is set but nothing is running.
	StateIdle State = "idle"
	// StateStarting means a launch is in progress.
	StateStarting State = "starting"
	// StateRunning is the only state in which commands are delivered.
	StateRunning State = "running"
)

// RequestHandler receives requests parsed from the auto-splitter's output.
type RequestHandler interface {
	HandleRequest(req protocol.Request)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(req protocol.Request)

// HandleRequest calls f(req).
func (f RequestHandlerFunc) HandleRequest(req protocol.Request) { f(req) }

// Options configures a Supervisor.
type Options struct {
	Launcher   Launcher
	Bus        events.Publisher
	Logger     *log.Logger
	Tracer     trace.Tracer
	OutboxSize int
}

// Supervisor owns the single auto-splitter instance.
type Supervisor struct {
	launcher   Launcher
	bus        events.Publisher
	logger     *log.Logger
	tracer     trace.Tracer
	outboxSize int
	now        func() time.Time

	mu      sync.Mutex
	spec    Spec
	state   State
	current *instance
	handler RequestHandler
}

// instance pairs a handle with its outbound queue.
type instance struct {
	handle   Handle
	outbox   chan protocol.Command
	quit     chan struct{}
	quitOnce sync.Once
}

func (i *instance) stop() {
	i.quitOnce.Do(func() { close(i.quit) })
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State      State
	Path       string
	Args       []string
	InstanceID string
	PID        int
}

// NewSupervisor builds a supervisor with default dependencies where omitted.
func NewSupervisor(opts Options) *Supervisor {
	launcher := opts.Launcher
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("splitlink/process")
	}
	outboxSize := opts.OutboxSize
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}

	return &Supervisor{
		launcher:   launcher,
		bus:        opts.Bus,
		logger:     logging.OrDiscard(opts.Logger),
		tracer:     tracer,
		outboxSize: outboxSize,
		now:        time.Now,
		state:      StateNotConfigured,
	}
}

// SetRequestHandler sets where inbound requests go. It applies to instances
// started afterwards and to the one currently running.
func (s *Supervisor) SetRequestHandler(handler RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Configure stores the executable path and arguments. It does not launch.
// A relative path is resolved against the working directory at call time.
func (s *Supervisor) Configure(path string, args ...string) {
	path = absPath(strings.TrimSpace(path))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.spec = Spec{Path: path, Args: append([]string(nil), args...)}
	if s.current == nil {
		s.state = s.idleStateLocked()
	}
}

// Path returns the configured executable path.
func (s *Supervisor) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec.Path
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Running reports whether an instance is live and accepting commands.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// Status returns a snapshot for diagnostics.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State: s.stateLocked(),
		Path:  s.spec.Path,
		Args:  append([]string(nil), s.spec.Args...),
		PID:   -1,
	}
	if s.current != nil {
		status.InstanceID = s.current.handle.ID()
		status.PID = s.current.handle.PID()
	}
	return status
}

// Start launches the configured executable, closing any running instance
// first. A missing path or file leaves the integration inactive; launch
// failures are logged. It reports whether a new instance was spawned.
func (s *Supervisor) Start(ctx context.Context) bool {
	ctx, span := s.tracer.Start(ctx, "autosplit.start")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	spec := s.spec
	span.SetAttributes(
		attribute.String("autosplit.path", spec.Path),
		attribute.String("autosplit.command", commandLine(spec.Path, spec.Args)),
	)
	if spec.Path == "" {
		s.logger.Debug("auto-splitter path not configured; integration inactive")
		span.SetStatus(codes.Ok, "not configured")
		return false
	}
	info, err := os.Stat(spec.Path)
	if err != nil || info.IsDir() {
		s.logger.Debug("auto-splitter executable not found; integration inactive", "path", spec.Path)
		span.SetStatus(codes.Ok, "executable missing")
		return false
	}

	if s.current != nil {
		s.closeLocked(ctx, "restart")
	}

	s.state = StateStarting
	handle, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		s.state = s.idleStateLocked()
		s.logger.Warn("auto-splitter launch failed", "path", spec.Path, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.publish(events.Event{
			Type:       events.EventTypeSystemAlert,
			EntityType: "autosplitter",
			EntityID:   spec.Path,
			Severity:   events.SeverityWarn,
			Payload:    map[string]string{"error": err.Error()},
		})
		return false
	}

	inst := &instance{
		handle: handle,
		outbox: make(chan protocol.Command, s.outboxSize),
		quit:   make(chan struct{}),
	}
	s.current = inst
	s.state = StateRunning

	go s.writeCommands(inst)
	go s.readRequests(inst)
	if stderr := handle.Stderr(); stderr != nil {
		go s.drainStderr(inst, stderr)
	}
	go s.monitor(inst)

	span.SetAttributes(
		attribute.String("autosplit.instance_id", handle.ID()),
		attribute.Int("autosplit.pid", handle.PID()),
	)
	span.SetStatus(codes.Ok, "spawned")
	s.logger.Info("auto-splitter started", "command", commandLine(spec.Path, spec.Args), "process_id", handle.ID(), "pid", handle.PID())
	s.publish(events.Event{
		Type:       events.EventTypeProcessSpawn,
		EntityType: "autosplitter",
		EntityID:   handle.ID(),
		Severity:   events.SeverityInfo,
		Payload:    Status{State: StateRunning, Path: spec.Path, Args: redactArgs(spec.Args), InstanceID: handle.ID(), PID: handle.PID()},
	})
	return true
}

// Stop forcefully terminates the running instance. It does nothing unless an
// instance is confirmed running, and termination failures are swallowed.
func (s *Supervisor) Stop() {
	_, span := s.tracer.Start(context.Background(), "autosplit.kill")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	inst := s.current
	if inst == nil || exited(inst.handle) {
		span.SetStatus(codes.Ok, "not running")
		return
	}

	id := inst.handle.ID()
	if err := inst.handle.Kill(); err != nil {
		s.logger.Debug("auto-splitter kill failed; ignoring", "process_id", id, "error", err)
		span.RecordError(err)
	}
	inst.stop()
	s.current = nil
	s.state = s.idleStateLocked()

	span.SetStatus(codes.Ok, "killed")
	s.logger.Info("auto-splitter killed", "process_id", id)
	s.publish(events.Event{
		Type:       events.EventTypeProcessKilled,
		EntityType: "autosplitter",
		EntityID:   id,
		Severity:   events.SeverityWarn,
	})
}

// Dispose gracefully closes the running instance, if any. Safe to call repeatedly.
func (s *Supervisor) Dispose() {
	ctx, span := s.tracer.Start(context.Background(), "autosplit.dispose")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.closeLocked(ctx, "dispose")
}

func (s *Supervisor) closeLocked(ctx context.Context, reason string) {
	inst := s.current
	s.current = nil
	s.state = s.idleStateLocked()
	inst.stop()

	if err := inst.handle.Close(); err != nil {
		s.logger.Debug("auto-splitter close failed; ignoring", "process_id", inst.handle.ID(), "reason", reason, "error", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}
	s.logger.Info("auto-splitter closed", "process_id", inst.handle.ID(), "reason", reason)
}

func (s *Supervisor) stateLocked() State {
	if s.current != nil && exited(s.current.handle) {
		return s.idleStateLocked()
	}
	return s.state
}

func (s *Supervisor) idleStateLocked() State {
	if s.spec.Path == "" {
		return StateNotConfigured
	}
	return StateIdle
}

func (s *Supervisor) isCurrent(inst *instance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == inst
}

func (s *Supervisor) monitor(inst *instance) {
	<-inst.handle.Done()
	inst.stop()

	s.mu.Lock()
	if s.current == inst {
		s.current = nil
		s.state = s.idleStateLocked()
	}
	s.mu.Unlock()

	s.logger.Info("auto-splitter exited", "process_id", inst.handle.ID(), "exit_code", inst.handle.ExitCode())
	s.publish(events.Event{
		Type:       events.EventTypeProcessExit,
		EntityType: "autosplitter",
		EntityID:   inst.handle.ID(),
		Severity:   events.SeverityInfo,
		Payload:    map[string]int{"exit_code": inst.handle.ExitCode()},
	})
}

func (s *Supervisor) readRequests(inst *instance) {
	stdout := inst.handle.Stdout()
	if stdout == nil {
		return
	}
	if closer, ok := stdout.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	lines := newLineReader(stdout, maxRequestLineBytes)
	for {
		line, oversized, err := lines.next()
		switch {
		case oversized:
			s.logger.Warn("ignoring oversized auto-splitter output", "process_id", inst.handle.ID(), "limit", maxRequestLineBytes)
		case line != "":
			s.handleLine(inst, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && s.isCurrent(inst) {
				s.logger.Debug("auto-splitter output closed", "process_id", inst.handle.ID(), "error", err)
			}
			return
		}
	}
}

func (s *Supervisor) handleLine(inst *instance, line string) {
	req, err := protocol.ParseRequest(line)
	if err != nil {
		if !errors.Is(err, protocol.ErrEmptyRequest) {
			s.logger.Warn("ignoring auto-splitter output", "process_id", inst.handle.ID(), "line", line, "error", err)
		}
		return
	}

	s.mu.Lock()
	current := s.current == inst
	handler := s.handler
	s.mu.Unlock()
	if !current {
		s.logger.Debug("dropping request from retired auto-splitter", "process_id", inst.handle.ID(), "request", req.String())
		return
	}

	s.publish(events.Event{
		Type:       events.EventTypeProcessRequest,
		EntityType: "autosplitter",
		EntityID:   inst.handle.ID(),
		Severity:   events.SeverityInfo,
		Payload:    req,
	})
	if handler != nil {
		handler.HandleRequest(req)
	}
}

func (s *Supervisor) drainStderr(inst *instance, stderr io.Reader) {
	if closer, ok := stderr.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	lines := newLineReader(stderr, maxRequestLineBytes)
	for {
		line, oversized, err := lines.next()
		switch {
		case oversized:
			s.logger.Debug("skipping oversized auto-splitter stderr line", "process_id", inst.handle.ID())
		case line != "":
			s.logger.Debug("auto-splitter stderr", "process_id", inst.handle.ID(), "line", line)
		}
		if err != nil {
			return
		}
	}
}

func absPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func (s *Supervisor) publish(event events.Event) {
	if s.bus == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	s.bus.Publish(event)
}
