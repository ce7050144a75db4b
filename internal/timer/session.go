package timer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultSegments is the segment count used when none is configured.
const DefaultSegments = 10

// Phase is the run phase of the timer.
type Phase int

const (
	NotRunning Phase = iota
	Running
	Paused
	Ended
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case NotRunning:
		return "not_running"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Timer is the mutation and query surface of a run timer.
type Timer interface {
	Start()
	Split()
	SkipSplit()
	UndoSplit()
	Reset()
	Pause()
	Resume()
	InitializeGameTime()
	PauseGameTime()
	ResumeGameTime()
	Phase() Phase
	SplitIndex() int
}

// Snapshot is a consistent copy of the timer state.
type Snapshot struct {
	Phase               Phase
	SplitIndex          int
	Segments            int
	Attempts            int
	StartedAt           time.Time
	GameTimeInitialized bool
	GameTimePaused      bool
}

// Options configures a Session.
type Options struct {
	Segments int
	Logger   *log.Logger
	Now      func() time.Time
}

// Session is a run timer whose events are delivered on a single control thread.
type Session struct {
	ctl sync.Mutex

	mu    sync.RWMutex
	state Snapshot

	subsMu sync.RWMutex
	subs   map[EventKind][]subscriber
	nextID uint64

	logger *log.Logger
	now    func() time.Time
}

var _ Timer = (*Session)(nil)

// NewSession creates a timer in the NotRunning phase.
func NewSession(opts Options) *Session {
	segments := opts.Segments
	if segments <= 0 {
		segments = DefaultSegments
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Session{
		state: Snapshot{
			Phase:      NotRunning,
			SplitIndex: -1,
			Segments:   segments,
		},
		subs:   make(map[EventKind][]subscriber),
		logger: logger,
		now:    now,
	}
}

// Do runs fn on the control thread. Events fired by fn's mutations are delivered
// before Do returns, so no other event-firing mutation can interleave.
func (s *Session) Do(fn func(Timer)) {
	if s == nil || fn == nil {
		return
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	fn(control{s: s})
}

// Start begins a run from NotRunning.
func (s *Session) Start() { s.Do(func(t Timer) { t.Start() }) }

// Split completes the current segment.
func (s *Session) Split() { s.Do(func(t Timer) { t.Split() }) }

// SkipSplit advances past the current segment without a split time.
func (s *Session) SkipSplit() { s.Do(func(t Timer) { t.SkipSplit() }) }

// UndoSplit steps back one segment.
func (s *Session) UndoSplit() { s.Do(func(t Timer) { t.UndoSplit() }) }

// Reset ends the attempt and returns to NotRunning.
func (s *Session) Reset() { s.Do(func(t Timer) { t.Reset() }) }

// Pause pauses a running timer.
func (s *Session) Pause() { s.Do(func(t Timer) { t.Pause() }) }

// Resume resumes a paused timer.
func (s *Session) Resume() { s.Do(func(t Timer) { t.Resume() }) }

// InitializeGameTime starts tracking game time for the current attempt.
func (s *Session) InitializeGameTime() { s.initializeGameTime() }

// PauseGameTime pauses game time while real time keeps running.
func (s *Session) PauseGameTime() { s.setGameTimePaused(true) }

// ResumeGameTime resumes a paused game time.
func (s *Session) ResumeGameTime() { s.setGameTimePaused(false) }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Phase
}

// SplitIndex returns the current split index, or -1 when not running.
func (s *Session) SplitIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SplitIndex
}

// Snapshot returns a consistent copy of the timer state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) initializeGameTime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.GameTimeInitialized = true
	s.state.GameTimePaused = false
}

func (s *Session) setGameTimePaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == NotRunning || s.state.Phase == Ended {
		return
	}
	s.state.GameTimePaused = paused
}

// transition applies fn under the state lock and returns the event to fire, if any.
func (s *Session) transition(fn func(st *Snapshot) (Event, bool)) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := fn(&s.state)
	if ok {
		ev.SplitIndex = s.state.SplitIndex
		ev.At = s.now().UTC()
	}
	return ev, ok
}

// control is the Timer view handed to code already running on the control thread.
type control struct {
	s *Session
}

func (c control) Start() {
	c.fire(c.s.transition(func(st *Snapshot) (Event, bool) {
		if st.Phase != NotRunning {
			return Event{}, false
		}
		st.Phase = Running
		st.SplitIndex = 0
		st.Attempts++
		st.StartedAt = c.s.now().UTC()
		st.GameTimeInitialized = false
		st.GameTimePaused = false
		return Event{Kind: EventStarted, Phase: Running}, true
	}))
}

func (c control) Split() {
	c.fire(c.s.transition(func(st *Snapshot) (Event, bool) {
		if st.Phase != Running {
			return Event{}, false
		}
		st.SplitIndex++
		if st.SplitIndex >= st.Segments {
			st.Phase = Ended
		}
		return Event{Kind: EventSplit, Phase: st.Phase}, true
	}))
}

func (c control) SkipSplit() {
	c.fire(c.s.transition(func(st *Snapshot) (Event, bool) {
		if st.Phase != Running && st.Phase != Paused {
			return Event{}, false
		}
		if st.SplitIndex >= st.Segments-1 {
			return Event{}, false
		}
		st.SplitIndex++
		return Event{Kind: EventSkipped, Phase: st.Phase}, true
	}))
}

func (c control) UndoSplit() {
	c.fire(c.s.transition(func(st *Snapshot) (Event, bool) {
		if st.Phase == NotRunning || st.SplitIndex <= 0 {
			return Event{}, false
		}
		if st.Phase == Ended {
			st.Phase = Running
		}
		st.SplitIndex--
		return Event{Kind: EventUndone, Phase: st.Phase}, true
	}))
}

func (c control) Reset() {
	c.fire(c.s.transition(func(st *Snapshot) (Event, bool) {
		if st.Phase == NotRunning {
			return Event{}, false
		}
		from := st.Phase
		st.Phase = NotRunning
		st.SplitIndex = -1
		st.GameTimeInitialized = false
		st.GameTimePaused = false
		return Event{Kind: EventReset, Phase: from}, true
	}))
}

func (c control) Pause() {
	c.fire(c.s.transition(func(st *Snapshot) (Event, bool) {
		if st.Phase != Running {
			return Event{}, false
		}
		st.Phase = Paused
		return Event{Kind: EventPaused, Phase: Paused}, true
	}))
}

func (c control) Resume() {
	c.fire(c.s.transition(func(st *Snapshot) (Event, bool) {
		if st.Phase != Paused {
			return Event{}, false
		}
		st.Phase = Running
		return Event{Kind: EventResumed, Phase: Running}, true
	}))
}

func (c control) InitializeGameTime() { c.s.initializeGameTime() }
func (c control) PauseGameTime()      { c.s.setGameTimePaused(true) }
func (c control) ResumeGameTime()     { c.s.setGameTimePaused(false) }
func (c control) Phase() Phase        { return c.s.Phase() }
func (c control) SplitIndex() int     { return c.s.SplitIndex() }

func (c control) fire(ev Event, ok bool) {
	if !ok {
		return
	}
	c.s.dispatch(c, ev)
}
