package timer

import (
	"fmt"
	"time"
)

// EventKind identifies one timer lifecycle event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventSplit
	EventSkipped
	EventUndone
	EventReset
	EventPaused
	EventResumed
)

// String returns a human-readable event name.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventSplit:
		return "split"
	case EventSkipped:
		return "skipped"
	case EventUndone:
		return "undone"
	case EventReset:
		return "reset"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is the payload delivered to subscribers.
//
// Phase is the phase after the transition, except for EventReset where it is
// the phase the run was in when it was reset.
type Event struct {
	Kind       EventKind
	Phase      Phase
	SplitIndex int
	At         time.Time
}

// Handler consumes a timer event on the control thread. t is the view to use
// for any mutation made in response.
type Handler func(t Timer, ev Event)

// Subscription identifies one registered handler.
type Subscription struct {
	kind EventKind
	id   uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Subscribe registers handler for one event kind.
func (s *Session) Subscribe(kind EventKind, handler Handler) Subscription {
	if s == nil || handler == nil {
		return Subscription{}
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.nextID++
	sub := subscriber{id: s.nextID, handler: handler}
	s.subs[kind] = append(s.subs[kind], sub)
	return Subscription{kind: kind, id: sub.id}
}

// Unsubscribe removes a handler. Unknown or zero subscriptions are ignored.
func (s *Session) Unsubscribe(sub Subscription) {
	if s == nil || sub.id == 0 {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	current := s.subs[sub.kind]
	for i, candidate := range current {
		if candidate.id == sub.id {
			s.subs[sub.kind] = append(current[:i:i], current[i+1:]...)
			return
		}
	}
}

// Subscribers returns how many handlers are registered for kind.
func (s *Session) Subscribers(kind EventKind) int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs[kind])
}

func (s *Session) dispatch(view Timer, ev Event) {
	s.subsMu.RLock()
	handlers := make([]subscriber, len(s.subs[ev.Kind]))
	copy(handlers, s.subs[ev.Kind])
	s.subsMu.RUnlock()

	for _, sub := range handlers {
		s.invoke(sub, view, ev)
	}
}

func (s *Session) invoke(sub subscriber, view Timer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer handler panicked", "event", ev.Kind.String(), "subscriber", sub.id, "panic", r)
		}
	}()
	sub.handler(view, ev)
}
