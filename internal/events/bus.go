// Package events is the in-process bus that carries observer notifications
// (auto-split start/reset) and auto-splitter lifecycle events.
package events

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultBufferSize is the default per-subscriber channel capacity.
	DefaultBufferSize = 100

	// EventTypeAutoSplitStarted is published after a timer start was relayed.
	EventTypeAutoSplitStarted = "AutoSplitStarted"
	// EventTypeAutoSplitReset is published after a timer reset was relayed.
	EventTypeAutoSplitReset = "AutoSplitReset"
	// EventTypeProcessSpawn identifies auto-splitter spawn events.
	EventTypeProcessSpawn = "ProcessSpawn"
	// EventTypeProcessExit identifies auto-splitter exit events.
	EventTypeProcessExit = "ProcessExit"
	// EventTypeProcessKilled identifies forceful termination requests.
	EventTypeProcessKilled = "ProcessKilled"
	// EventTypeProcessRequest identifies inbound requests received from the auto-splitter.
	EventTypeProcessRequest = "ProcessRequest"
	// EventTypeConfigApplied identifies settings being applied to the integration.
	EventTypeConfigApplied = "ConfigApplied"
	// EventTypeSystemAlert identifies high-severity system alert events.
	EventTypeSystemAlert = "SystemAlert"
)

const (
	// SeverityInfo indicates informational event severity.
	SeverityInfo = "INFO"
	// SeverityWarn indicates warning event severity.
	SeverityWarn = "WARN"
	// SeverityError indicates error event severity.
	SeverityError = "ERROR"
)

// Event is the normalized message delivered through the in-process event bus.
type Event struct {
	Type       string
	Timestamp  time.Time
	EntityType string
	EntityID   string
	Payload    any
	Severity   string
}

// Handler consumes a published event.
type Handler func(Event)

// Logger captures warning logs for dropped events.
type Logger interface {
	Printf(format string, args ...any)
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(event Event)
}

// Bus defines event subscription and publish behavior.
type Bus interface {
	Publisher
	Subscribe(eventType string, handler Handler) SubscriptionID
	SubscribeAll(handler Handler) SubscriptionID
	Unsubscribe(id SubscriptionID)
}

// SubscriptionID identifies one subscriber. Zero is never issued.
type SubscriptionID uint64

// Option customizes bus construction.
type Option func(*InMemoryBus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *InMemoryBus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures log sink used for dropped-event warnings.
func WithLogger(logger Logger) Option {
	return func(bus *InMemoryBus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// InMemoryBus is a thread-safe in-process pub/sub bus backed by buffered channels.
// Publish never blocks: a full subscriber drops the event.
type InMemoryBus struct {
	mu             sync.RWMutex
	bufferSize     int
	logger         Logger
	typedSubs      map[string][]*subscriber
	wildcardSubs   []*subscriber
	nextSubscriber uint64
	closed         bool
}

type subscriber struct {
	id   SubscriptionID
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

var _ Bus = (*InMemoryBus)(nil)

// New creates an in-memory event bus with optional configuration.
func New(options ...Option) *InMemoryBus {
	bus := &InMemoryBus{
		bufferSize:   DefaultBufferSize,
		logger:       log.Default(),
		typedSubs:    make(map[string][]*subscriber),
		wildcardSubs: make([]*subscriber, 0),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) SubscriptionID {
	normalizedType := strings.TrimSpace(eventType)
	if normalizedType == "" || handler == nil {
		return 0
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	sub := b.newSubscriberLocked()
	b.typedSubs[normalizedType] = append(b.typedSubs[normalizedType], sub)
	b.mu.Unlock()

	go b.consume(sub, handler)
	return sub.id
}

// SubscribeAll registers a handler that receives every published event.
func (b *InMemoryBus) SubscribeAll(handler Handler) SubscriptionID {
	if handler == nil {
		return 0
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	sub := b.newSubscriberLocked()
	b.wildcardSubs = append(b.wildcardSubs, sub)
	b.mu.Unlock()

	go b.consume(sub, handler)
	return sub.id
}

// Unsubscribe removes a subscriber and stops its consumer goroutine once its
// buffered events are drained.
func (b *InMemoryBus) Unsubscribe(id SubscriptionID) {
	if id == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.typedSubs {
		if remaining, removed := removeSubscriber(subs, id); removed != nil {
			b.typedSubs[eventType] = remaining
			removed.close()
			return
		}
	}
	if remaining, removed := removeSubscriber(b.wildcardSubs, id); removed != nil {
		b.wildcardSubs = remaining
		removed.close()
	}
}

// Close removes every subscriber. Publishing after Close is a no-op.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.typedSubs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.wildcardSubs {
		sub.close()
	}
	b.typedSubs = make(map[string][]*subscriber)
	b.wildcardSubs = nil
}

// Publish delivers an event to typed subscribers and wildcard subscribers.
func (b *InMemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Delivery happens under the read lock so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.typedSubs[strings.TrimSpace(event.Type)] {
		b.deliver(sub, event)
	}
	for _, sub := range b.wildcardSubs {
		b.deliver(sub, event)
	}
}

func (b *InMemoryBus) deliver(sub *subscriber, event Event) {
	select {
	case sub.ch <- event:
	default:
		b.logger.Printf(
			"events: dropping event for subscriber=%d type=%s entity_type=%s entity_id=%s",
			sub.id,
			event.Type,
			event.EntityType,
			event.EntityID,
		)
	}
}

func (b *InMemoryBus) newSubscriberLocked() *subscriber {
	b.nextSubscriber++
	return &subscriber{
		id: SubscriptionID(b.nextSubscriber),
		ch: make(chan Event, b.bufferSize),
	}
}

func (b *InMemoryBus) consume(sub *subscriber, handler Handler) {
	for event := range sub.ch {
		handler(event)
	}
}

func removeSubscriber(subs []*subscriber, id SubscriptionID) ([]*subscriber, *subscriber) {
	for i, sub := range subs {
		if sub.id == id {
			remaining := make([]*subscriber, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			remaining = append(remaining, subs[i+1:]...)
			return remaining, sub
		}
	}
	return subs, nil
}
