// Package latch provides one-shot "ignore the next occurrence" flags.
package latch

import (
	"fmt"
	"sync/atomic"
)

// Kind identifies which timer event a latch suppresses.
type Kind int

const (
	// Start suppresses the next timer start event.
	Start Kind = iota
	// Split suppresses the next timer split event.
	Split
	// Reset suppresses the next timer reset event.
	Reset
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Split:
		return "split"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Latch is a consume-on-read boolean. The zero value is disarmed.
type Latch struct {
	armed atomic.Bool
}

// Set arms the latch. Arming an armed latch is a no-op.
func (l *Latch) Set() {
	l.armed.Store(true)
}

// ConsumeIfSet reports whether the latch was armed and disarms it in the same step.
// A false read leaves the latch untouched.
func (l *Latch) ConsumeIfSet() bool {
	return l.armed.CompareAndSwap(true, false)
}

// Armed peeks at the latch without consuming it.
func (l *Latch) Armed() bool {
	return l.armed.Load()
}

// Set holds one latch per suppressible event kind.
type Set struct {
	start Latch
	split Latch
	reset Latch
}

// Arm marks kind for suppression. Unknown kinds are ignored.
func (s *Set) Arm(kind Kind) {
	if l := s.latch(kind); l != nil {
		l.Set()
	}
}

// ConsumeIfSet consumes the latch for kind. Unknown kinds read false.
func (s *Set) ConsumeIfSet(kind Kind) bool {
	l := s.latch(kind)
	if l == nil {
		return false
	}
	return l.ConsumeIfSet()
}

// Armed peeks at the latch for kind without consuming it.
func (s *Set) Armed(kind Kind) bool {
	l := s.latch(kind)
	if l == nil {
		return false
	}
	return l.Armed()
}

func (s *Set) latch(kind Kind) *Latch {
	switch kind {
	case Start:
		return &s.start
	case Split:
		return &s.split
	case Reset:
		return &s.reset
	default:
		return nil
	}
}
