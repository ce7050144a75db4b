package latch

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestLatchConsumesExactlyOnce(t *testing.T) {
	t.Parallel()

	var l Latch
	if l.ConsumeIfSet() {
		t.Fatal("zero latch consumed as armed")
	}

	l.Set()
	if !l.ConsumeIfSet() {
		t.Fatal("armed latch read false")
	}
	if l.ConsumeIfSet() {
		t.Fatal("latch still armed after consume")
	}
}

func TestLatchFalseReadDoesNotMutate(t *testing.T) {
	t.Parallel()

	var l Latch
	_ = l.ConsumeIfSet()
	if l.Armed() {
		t.Fatal("false read armed the latch")
	}
}

func TestLatchDoubleSetStillConsumesOnce(t *testing.T) {
	t.Parallel()

	var l Latch
	l.Set()
	l.Set()
	if !l.ConsumeIfSet() {
		t.Fatal("armed latch read false")
	}
	if l.ConsumeIfSet() {
		t.Fatal("double set produced two consumptions")
	}
}

func TestSetKeepsKindsIndependent(t *testing.T) {
	t.Parallel()

	var s Set
	s.Arm(Split)

	if s.ConsumeIfSet(Start) {
		t.Fatal("start consumed while only split armed")
	}
	if s.ConsumeIfSet(Reset) {
		t.Fatal("reset consumed while only split armed")
	}
	if !s.Armed(Split) {
		t.Fatal("split disarmed by unrelated consumes")
	}
	if !s.ConsumeIfSet(Split) {
		t.Fatal("split latch read false")
	}
	if s.Armed(Split) {
		t.Fatal("split still armed after consume")
	}
}

func TestSetIgnoresUnknownKind(t *testing.T) {
	t.Parallel()

	var s Set
	s.Arm(Kind(42))
	if s.ConsumeIfSet(Kind(42)) {
		t.Fatal("unknown kind consumed as armed")
	}
	if s.Armed(Kind(42)) {
		t.Fatal("unknown kind reported armed")
	}
}

func TestConcurrentConsumersObserveOneTrue(t *testing.T) {
	t.Parallel()

	for round := 0; round < 100; round++ {
		var l Latch
		l.Set()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.ConsumeIfSet() {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Fatalf("round %d: consumers that saw armed = %d, want 1", round, got)
		}
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want string
	}{
		{Start, "start"},
		{Split, "split"},
		{Reset, "reset"},
		{Kind(9), "unknown(9)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Fatalf("%d.String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}
