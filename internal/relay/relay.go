// Package relay keeps the timer and the auto-splitter in step.
//
// Timer events are forwarded to the auto-splitter as command tokens. Requests
// from the auto-splitter mutate the timer, and a one-shot latch armed just
// before each mutation stops the resulting event from being echoed back.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/splitlink/splitlink/internal/events"
	"github.com/splitlink/splitlink/internal/latch"
	"github.com/splitlink/splitlink/internal/logging"
	"github.com/splitlink/splitlink/internal/process"
	"github.com/splitlink/splitlink/internal/protocol"
	"github.com/splitlink/splitlink/internal/timer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Host is the timer surface the relay needs. *timer.Session satisfies it.
type Host interface {
	Subscribe(kind timer.EventKind, handler timer.Handler) timer.Subscription
	Unsubscribe(sub timer.Subscription)
	Do(fn func(timer.Timer))
}

// Channel delivers commands to the auto-splitter. *process.Supervisor satisfies it.
type Channel interface {
	TrySend(cmd protocol.Command) process.SendResult
}

// Options configures a Relay.
type Options struct {
	Timer           Host
	Channel         Channel
	Bus             events.Publisher
	Logger          *log.Logger
	Tracer          trace.Tracer
	GameTimePausing bool
}

// Notification is the payload of AutoSplitStarted and AutoSplitReset events.
type Notification struct {
	Phase      timer.Phase
	SplitIndex int
}

// Relay wires timer events to the channel and inbound requests to the timer.
type Relay struct {
	host    Host
	channel Channel
	bus     events.Publisher
	logger  *log.Logger
	tracer  trace.Tracer
	now     func() time.Time

	latches         latch.Set
	gameTimePausing atomic.Bool

	mu     sync.Mutex
	subs   []timer.Subscription
	closed bool
}

var _ process.RequestHandler = (*Relay)(nil)

// New subscribes a relay to host's lifecycle events.
func New(opts Options) *Relay {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("splitlink/relay")
	}
	r := &Relay{
		host:    opts.Timer,
		channel: opts.Channel,
		bus:     opts.Bus,
		logger:  logging.OrDiscard(opts.Logger),
		tracer:  tracer,
		now:     time.Now,
	}
	r.gameTimePausing.Store(opts.GameTimePausing)
	if r.host == nil {
		return r
	}

	r.subs = []timer.Subscription{
		r.host.Subscribe(timer.EventStarted, r.onStarted),
		r.host.Subscribe(timer.EventSplit, r.onSplit),
		r.host.Subscribe(timer.EventReset, r.onReset),
		r.host.Subscribe(timer.EventSkipped, r.onSkipped),
		r.host.Subscribe(timer.EventUndone, r.onUndone),
	}
	return r
}

// SetGameTimePausing toggles game-time initialization on start.
func (r *Relay) SetGameTimePausing(enabled bool) {
	r.gameTimePausing.Store(enabled)
}

// GameTimePausing reports the current toggle.
func (r *Relay) GameTimePausing() bool {
	return r.gameTimePausing.Load()
}

// Close unsubscribes from the timer. Safe to call repeatedly.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, sub := range r.subs {
		r.host.Unsubscribe(sub)
	}
	r.subs = nil
}

// HandleRequest applies one auto-splitter request to the timer. The latch is
// armed and the mutation made inside a single control section, so the event
// the mutation fires is the one that consumes the latch.
func (r *Relay) HandleRequest(req protocol.Request) {
	if r.host == nil {
		return
	}
	_, span := r.tracer.Start(context.Background(), "autosplit.request",
		trace.WithAttributes(attribute.String("autosplit.request", req.String())))
	defer span.End()

	switch req {
	case protocol.RequestStart:
		r.host.Do(func(t timer.Timer) {
			r.latches.Arm(latch.Start)
			t.Start()
		})
	case protocol.RequestSplit:
		r.host.Do(func(t timer.Timer) {
			r.latches.Arm(latch.Split)
			t.Split()
		})
	case protocol.RequestReset:
		r.host.Do(func(t timer.Timer) {
			r.latches.Arm(latch.Reset)
			t.Reset()
		})
	case protocol.RequestPauseGameTime:
		r.host.Do(func(t timer.Timer) { t.PauseGameTime() })
	case protocol.RequestResumeGameTime:
		r.host.Do(func(t timer.Timer) { t.ResumeGameTime() })
	default:
		r.logger.Debug("ignoring auto-splitter request", "request", req.String())
	}
}

func (r *Relay) onStarted(t timer.Timer, ev timer.Event) {
	if r.latches.ConsumeIfSet(latch.Start) {
		return
	}
	r.trySend(protocol.CommandStart)
	if r.gameTimePausing.Load() {
		t.InitializeGameTime()
	}
	r.notify(events.EventTypeAutoSplitStarted, ev)
}

func (r *Relay) onSplit(_ timer.Timer, _ timer.Event) {
	if r.latches.ConsumeIfSet(latch.Split) {
		return
	}
	r.trySend(protocol.CommandSplit)
}

func (r *Relay) onReset(_ timer.Timer, ev timer.Event) {
	if r.latches.ConsumeIfSet(latch.Reset) {
		return
	}
	r.trySend(protocol.CommandReset)
	r.notify(events.EventTypeAutoSplitReset, ev)
}

func (r *Relay) onSkipped(_ timer.Timer, _ timer.Event) {
	r.trySend(protocol.CommandSkip)
}

func (r *Relay) onUndone(_ timer.Timer, _ timer.Event) {
	r.trySend(protocol.CommandUndo)
}

// trySend is fire-and-forget: a missing process or a full outbox never
// reaches the timer.
func (r *Relay) trySend(cmd protocol.Command) {
	if r.channel == nil {
		return
	}
	result := r.channel.TrySend(cmd)
	if result.Err != nil {
		r.logger.Debug("auto-splitter command not delivered", "command", cmd.String(), "error", result.Err)
	}
}

func (r *Relay) notify(eventType string, ev timer.Event) {
	if r.bus == nil {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = r.now()
	}
	r.bus.Publish(events.Event{
		Type:       eventType,
		Timestamp:  at.UTC(),
		EntityType: "timer",
		EntityID:   ev.Kind.String(),
		Severity:   events.SeverityInfo,
		Payload:    Notification{Phase: ev.Phase, SplitIndex: ev.SplitIndex},
	})
}
