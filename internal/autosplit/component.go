// Package autosplit is the host-facing auto-splitter integration. It owns the
// process supervisor and the relay and exposes the lifecycle calls a host
// makes when settings are applied and when it shuts down.
package autosplit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/splitlink/splitlink/internal/events"
	"github.com/splitlink/splitlink/internal/logging"
	"github.com/splitlink/splitlink/internal/process"
	"github.com/splitlink/splitlink/internal/relay"
	"go.opentelemetry.io/otel/trace"
)

// ComponentName is the display name of the integration.
const ComponentName = "AutoSplit Integration"

// Settings is what a host applies to the integration.
type Settings struct {
	Path            string
	Args            []string
	GameTimePausing bool
}

// Options configures a Component. Timer is required for the relay; Launcher,
// Bus, Logger and Tracer fall back to defaults.
type Options struct {
	Timer      relay.Host
	Launcher   process.Launcher
	Bus        events.Publisher
	Logger     *log.Logger
	Tracer     trace.Tracer
	OutboxSize int
}

// Status is a snapshot of the integration for diagnostics.
type Status struct {
	Name            string
	Path            string
	Args            []string
	State           process.State
	InstanceID      string
	PID             int
	GameTimePausing bool
}

// Component ties the supervisor, the relay and the observer bus together.
type Component struct {
	supervisor *process.Supervisor
	relay      *relay.Relay
	bus        events.Publisher
	logger     *log.Logger

	mu       sync.Mutex
	settings Settings
	disposed bool
}

// New builds a component subscribed to opts.Timer. Nothing is launched until
// settings are applied.
func New(opts Options) *Component {
	logger := logging.OrDiscard(opts.Logger)
	sup := process.NewSupervisor(process.Options{
		Launcher:   opts.Launcher,
		Bus:        opts.Bus,
		Logger:     logger.WithPrefix("supervisor"),
		Tracer:     opts.Tracer,
		OutboxSize: opts.OutboxSize,
	})
	r := relay.New(relay.Options{
		Timer:   opts.Timer,
		Channel: sup,
		Bus:     opts.Bus,
		Logger:  logger.WithPrefix("relay"),
		Tracer:  opts.Tracer,
	})
	sup.SetRequestHandler(r)

	return &Component{
		supervisor: sup,
		relay:      r,
		bus:        opts.Bus,
		logger:     logger,
	}
}

// Name returns the integration's display name.
func (c *Component) Name() string { return ComponentName }

// Settings returns the last applied settings.
func (c *Component) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	settings := c.settings
	settings.Args = append([]string(nil), c.settings.Args...)
	return settings
}

// ApplySettings stores settings and restarts the auto-splitter. It reports
// whether a new instance was spawned.
func (c *Component) ApplySettings(ctx context.Context, settings Settings) bool {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.logger.Debug("ignoring settings after dispose")
		return false
	}
	settings.Path = strings.TrimSpace(settings.Path)
	settings.Args = append([]string(nil), settings.Args...)
	c.settings = settings
	c.mu.Unlock()

	c.supervisor.Configure(settings.Path, settings.Args...)
	c.relay.SetGameTimePausing(settings.GameTimePausing)

	c.logger.Info("auto-splitter settings applied", "path", settings.Path, "game_time_pausing", settings.GameTimePausing)
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:       events.EventTypeConfigApplied,
			Timestamp:  time.Now().UTC(),
			EntityType: "autosplitter",
			EntityID:   settings.Path,
			Severity:   events.SeverityInfo,
			Payload:    settings,
		})
	}
	return c.StartAutoSplit(ctx)
}

// StartAutoSplit launches the configured executable, replacing any running
// instance. A missing executable leaves the integration inactive.
func (c *Component) StartAutoSplit(ctx context.Context) bool {
	if c.isDisposed() {
		return false
	}
	return c.supervisor.Start(ctx)
}

// KillAutoSplit forcefully terminates the running instance, if any.
func (c *Component) KillAutoSplit() {
	c.supervisor.Stop()
}

// Dispose closes the running instance and detaches from the timer. Safe to
// call repeatedly.
func (c *Component) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	c.relay.Close()
	c.supervisor.Dispose()
	c.logger.Debug("auto-splitter integration disposed")
}

// Status returns a snapshot of the integration.
func (c *Component) Status() Status {
	sup := c.supervisor.Status()
	return Status{
		Name:            ComponentName,
		Path:            sup.Path,
		Args:            sup.Args,
		State:           sup.State,
		InstanceID:      sup.InstanceID,
		PID:             sup.PID,
		GameTimePausing: c.relay.GameTimePausing(),
	}
}

func (c *Component) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
