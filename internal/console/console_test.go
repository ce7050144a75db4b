package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splitlink/splitlink/internal/autosplit"
	"github.com/splitlink/splitlink/internal/process"
	"github.com/splitlink/splitlink/internal/timer"
)

type fakeController struct {
	mu       sync.Mutex
	starts   int
	kills    int
	startsOK bool
}

func (f *fakeController) StartAutoSplit(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startsOK
}

func (f *fakeController) KillAutoSplit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
}

func (f *fakeController) Status() autosplit.Status {
	return autosplit.Status{
		Name:            autosplit.ComponentName,
		Path:            "/opt/AutoSplit",
		State:           process.StateRunning,
		PID:             77,
		GameTimePausing: true,
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for console to exit")
	}
}

func TestConsoleDrivesTimerUntilQuit(t *testing.T) {
	t.Parallel()

	session := timer.NewSession(timer.Options{Segments: 3})
	controller := &fakeController{startsOK: true}
	output := &bytes.Buffer{}
	c := New(Options{
		Timer:      session,
		Controller: controller,
		Input:      strings.NewReader("start\n SPLIT \n\nbogus\nskip\nundo\nkill\nrestart\nquit\nsplit\n"),
		Output:     output,
	})

	waitDone(t, c.Start(context.Background()))

	if got := session.SplitIndex(); got != 1 {
		t.Fatalf("split index = %d, want 1 (commands after quit must be ignored)", got)
	}
	if session.Phase() != timer.Running {
		t.Fatalf("phase = %s, want running", session.Phase())
	}
	if controller.kills != 1 || controller.starts != 1 {
		t.Fatalf("kills=%d starts=%d, want 1 and 1", controller.kills, controller.starts)
	}
	text := output.String()
	for _, want := range []string{"unknown command \"bogus\"", "auto-splitter killed", "auto-splitter started"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestConsoleExitsOnEOF(t *testing.T) {
	t.Parallel()

	session := timer.NewSession(timer.Options{})
	c := New(Options{Timer: session, Input: strings.NewReader("start\nreset\n"), Output: io.Discard})

	waitDone(t, c.Start(context.Background()))
	if session.Snapshot().Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", session.Snapshot().Attempts)
	}
	if session.Phase() != timer.NotRunning {
		t.Fatalf("phase = %s, want not_running", session.Phase())
	}
}

func TestConsoleStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	input, writer := io.Pipe()
	t.Cleanup(func() { _ = writer.Close() })
	c := New(Options{Input: input, Output: io.Discard})

	ctx, cancel := context.WithCancel(context.Background())
	done := c.Start(ctx)
	cancel()
	waitDone(t, done)
}

func TestStatusReportsTimerAndIntegration(t *testing.T) {
	t.Parallel()

	session := timer.NewSession(timer.Options{})
	output := &bytes.Buffer{}
	c := New(Options{Timer: session, Controller: &fakeController{}, Output: output})

	if c.Execute(context.Background(), "status") {
		t.Fatal("status must not exit")
	}
	want := "timer: not_running, split -1\n" +
		"AutoSplit Integration: running, path /opt/AutoSplit, pid 77, game time pausing true\n"
	if output.String() != want {
		t.Fatalf("status output = %q, want %q", output.String(), want)
	}
}

func TestRestartReportsInactiveIntegration(t *testing.T) {
	t.Parallel()

	output := &bytes.Buffer{}
	c := New(Options{Controller: &fakeController{startsOK: false}, Output: output})
	c.Execute(context.Background(), "restart")

	if !strings.Contains(output.String(), "not started") {
		t.Fatalf("output = %q, want not started notice", output.String())
	}
}

func TestCommandsWithoutAttachmentsAreHarmless(t *testing.T) {
	t.Parallel()

	output := &bytes.Buffer{}
	c := New(Options{Output: output})
	for _, word := range []string{"start", "kill", "restart", "status", "help"} {
		if c.Execute(context.Background(), word) {
			t.Fatalf("%s must not exit", word)
		}
	}
	if !strings.Contains(output.String(), "no timer attached") {
		t.Fatalf("output = %q, want timer notice", output.String())
	}
	if !c.Execute(context.Background(), "exit") {
		t.Fatal("exit must end the console")
	}
}

func TestHelpListsCommands(t *testing.T) {
	t.Parallel()

	output := &bytes.Buffer{}
	c := New(Options{Output: output})
	c.Execute(context.Background(), "help")

	for _, name := range []string{"start", "split", "skip", "undo", "reset", "pause", "resume", "status", "kill", "restart", "quit"} {
		if !strings.Contains(output.String(), "  "+name) {
			t.Fatalf("help missing %q:\n%s", name, output.String())
		}
	}
}
