package process

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/splitlink/splitlink/internal/events"
	"github.com/splitlink/splitlink/internal/protocol"
	"github.com/splitlink/splitlink/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeLauncher, *recordingBus, string) {
	t.Helper()
	log := &opLog{}
	launcher := &fakeLauncher{log: log}
	bus := &recordingBus{}
	sup := NewSupervisor(Options{Launcher: launcher, Bus: bus})
	exe := testutil.TempFile(t, "AutoSplit", "binary")
	t.Cleanup(sup.Dispose)
	return sup, launcher, bus, exe
}

func TestStartWithoutPathIsInactive(t *testing.T) {
	t.Parallel()

	sup, launcher, _, _ := newTestSupervisor(t)

	assert.False(t, sup.Start(context.Background()))
	assert.Empty(t, launcher.launched())
	assert.Equal(t, StateNotConfigured, sup.State())
}

func TestStartWithMissingFileIsInactive(t *testing.T) {
	t.Parallel()

	sup, launcher, bus, _ := newTestSupervisor(t)
	sup.Configure(filepath.Join(t.TempDir(), "missing.exe"))

	assert.False(t, sup.Start(context.Background()))
	assert.Empty(t, launcher.launched())
	assert.Equal(t, StateIdle, sup.State())
	assert.Empty(t, bus.types())
}

func TestStartWithDirectoryIsInactive(t *testing.T) {
	t.Parallel()

	sup, launcher, _, _ := newTestSupervisor(t)
	sup.Configure(t.TempDir())

	assert.False(t, sup.Start(context.Background()))
	assert.Empty(t, launcher.launched())
}

func TestConfigureDoesNotLaunch(t *testing.T) {
	t.Parallel()

	sup, launcher, _, exe := newTestSupervisor(t)
	sup.Configure(exe, "--flag")

	assert.Empty(t, launcher.launched())
	assert.Equal(t, exe, sup.Path())
	assert.Equal(t, StateIdle, sup.State())
	assert.Equal(t, []string{"--flag"}, sup.Status().Args)
}

func TestStartLaunchesConfiguredExecutable(t *testing.T) {
	t.Parallel()

	sup, launcher, bus, exe := newTestSupervisor(t)
	sup.Configure(exe, "--headless")

	require.True(t, sup.Start(context.Background()))

	require.Len(t, launcher.specs, 1)
	assert.Equal(t, Spec{Path: exe, Args: []string{"--headless"}}, launcher.specs[0])
	assert.Equal(t, StateRunning, sup.State())
	assert.True(t, sup.Running())
	status := sup.Status()
	assert.Equal(t, "h1", status.InstanceID)
	assert.Equal(t, 4242, status.PID)
	assert.True(t, bus.has(events.EventTypeProcessSpawn))
}

func TestStartTwiceClosesFirstBeforeSpawningSecond(t *testing.T) {
	t.Parallel()

	sup, launcher, _, exe := newTestSupervisor(t)
	sup.Configure(exe)

	require.True(t, sup.Start(context.Background()))
	require.True(t, sup.Start(context.Background()))

	assert.Equal(t, []string{"launch:h1", "close:h1", "launch:h2"}, launcher.log.snapshot())
	handles := launcher.launched()
	require.Len(t, handles, 2)
	closes, kills := handles[0].counts()
	assert.Equal(t, 1, closes)
	assert.Zero(t, kills, "restart must close gracefully, not kill")
	assert.Equal(t, "h2", sup.Status().InstanceID)
}

func TestTrySendWithoutProcessIsNoop(t *testing.T) {
	t.Parallel()

	sup, _, _, _ := newTestSupervisor(t)

	var result SendResult
	assert.NotPanics(t, func() { result = sup.TrySend(protocol.CommandSplit) })
	assert.False(t, result.Queued)
	assert.NoError(t, result.Err)
}

func TestTrySendDeliversTokenToRunningInstance(t *testing.T) {
	t.Parallel()

	sup, launcher, _, exe := newTestSupervisor(t)
	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))
	h := launcher.launched()[0]

	result := sup.TrySend(protocol.CommandStart)
	assert.True(t, result.Queued)
	assert.NoError(t, result.Err)
	assert.Equal(t, "start\n", h.readCommand(t))

	sup.TrySend(protocol.CommandSplit)
	sup.TrySend(protocol.CommandUndo)
	assert.Equal(t, "split\n", h.readCommand(t))
	assert.Equal(t, "undo\n", h.readCommand(t))
}

func TestTrySendRejectsInvalidCommand(t *testing.T) {
	t.Parallel()

	sup, _, _, _ := newTestSupervisor(t)
	result := sup.TrySend(protocol.Command("pause"))
	assert.ErrorIs(t, result.Err, protocol.ErrInvalidCommand)
}

func TestTrySendReportsFullOutboxWithoutBlocking(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	launcher := &fakeLauncher{log: log}
	sup := NewSupervisor(Options{Launcher: launcher, OutboxSize: 1})
	t.Cleanup(sup.Dispose)
	sup.Configure(testutil.TempFile(t, "AutoSplit", "binary"))
	require.True(t, sup.Start(context.Background()))

	// Nobody reads stdin, so the writer wedges on its first command.
	var full int
	start := time.Now()
	for i := 0; i < 3; i++ {
		if res := sup.TrySend(protocol.CommandSplit); res.Err != nil {
			assert.ErrorIs(t, res.Err, ErrOutboxFull)
			full++
		}
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.GreaterOrEqual(t, full, 1)
}

func TestTrySendAfterExitIsNoop(t *testing.T) {
	t.Parallel()

	sup, launcher, _, exe := newTestSupervisor(t)
	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))
	launcher.launched()[0].exit(0)

	require.Eventually(t, func() bool { return !sup.Running() }, waitFor, tick)
	result := sup.TrySend(protocol.CommandReset)
	assert.False(t, result.Queued)
	assert.NoError(t, result.Err)
}

func TestStopOnStoppedSupervisorIsNoop(t *testing.T) {
	t.Parallel()

	sup, _, bus, exe := newTestSupervisor(t)
	assert.NotPanics(t, sup.Stop)

	sup.Configure(exe)
	assert.NotPanics(t, sup.Stop)
	assert.False(t, bus.has(events.EventTypeProcessKilled))
}

func TestStopKillsRunningInstanceOnce(t *testing.T) {
	t.Parallel()

	sup, launcher, bus, exe := newTestSupervisor(t)
	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))
	h := launcher.launched()[0]

	sup.Stop()
	sup.Stop()

	_, kills := h.counts()
	assert.Equal(t, 1, kills)
	assert.Equal(t, StateIdle, sup.State())
	assert.True(t, bus.has(events.EventTypeProcessKilled))
}

func TestStopSwallowsKillErrors(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	launcher := &fakeLauncher{log: log, killErr: os.ErrPermission}
	sup := NewSupervisor(Options{Launcher: launcher})
	sup.Configure(testutil.TempFile(t, "AutoSplit", "binary"))
	require.True(t, sup.Start(context.Background()))

	assert.NotPanics(t, sup.Stop)
	assert.False(t, sup.Running())
}

func TestStopSkipsAlreadyExitedInstance(t *testing.T) {
	t.Parallel()

	sup, launcher, _, exe := newTestSupervisor(t)
	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))
	h := launcher.launched()[0]
	h.exit(0)
	<-h.Done()

	sup.Stop()

	_, kills := h.counts()
	assert.Zero(t, kills)
}

func TestDisposeIsIdempotent(t *testing.T) {
	t.Parallel()

	sup, launcher, _, exe := newTestSupervisor(t)
	sup.Dispose()

	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))
	h := launcher.launched()[0]

	sup.Dispose()
	sup.Dispose()

	closes, kills := h.counts()
	assert.Equal(t, 1, closes)
	assert.Zero(t, kills)
	assert.Equal(t, StateIdle, sup.State())
}

func TestInboundRequestsReachHandler(t *testing.T) {
	t.Parallel()

	sup, launcher, bus, exe := newTestSupervisor(t)
	rec := &requestRecorder{}
	sup.SetRequestHandler(rec)
	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))
	h := launcher.launched()[0]

	h.emit(t, "start")
	h.emit(t, "")
	h.emit(t, "skip")
	h.emit(t, "garbage")
	h.emit(t, " Split ")
	h.emit(t, "pause_game_time")

	want := []protocol.Request{protocol.RequestStart, protocol.RequestSplit, protocol.RequestPauseGameTime}
	require.Eventually(t, func() bool { return len(rec.snapshot()) == len(want) }, waitFor, tick)
	assert.Equal(t, want, rec.snapshot())
	assert.True(t, bus.has(events.EventTypeProcessRequest))
}

func TestOversizedOutputLineIsSkipped(t *testing.T) {
	t.Parallel()

	sup, launcher, _, exe := newTestSupervisor(t)
	rec := &requestRecorder{}
	sup.SetRequestHandler(rec)
	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))
	h := launcher.launched()[0]

	h.emit(t, strings.Repeat("x", maxRequestLineBytes+1024))
	h.emit(t, "split")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, tick)
	assert.Equal(t, []protocol.Request{protocol.RequestSplit}, rec.snapshot())
	assert.True(t, sup.Running())
}

func TestExitNotificationReturnsToIdle(t *testing.T) {
	t.Parallel()

	sup, launcher, bus, exe := newTestSupervisor(t)
	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))

	launcher.launched()[0].exit(3)

	require.Eventually(t, func() bool { return bus.has(events.EventTypeProcessExit) }, waitFor, tick)
	assert.Equal(t, StateIdle, sup.State())
	assert.Equal(t, -1, sup.Status().PID)
}

func TestExitOfReplacedInstanceKeepsNewOneCurrent(t *testing.T) {
	t.Parallel()

	sup, launcher, bus, exe := newTestSupervisor(t)
	sup.Configure(exe)
	require.True(t, sup.Start(context.Background()))
	require.True(t, sup.Start(context.Background()))

	launcher.launched()[0].exit(0)
	require.Eventually(t, func() bool { return bus.has(events.EventTypeProcessExit) }, waitFor, tick)

	assert.True(t, sup.Running())
	assert.Equal(t, "h2", sup.Status().InstanceID)
}

func TestLaunchFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	launcher := &fakeLauncher{log: log, err: errBoom}
	bus := &recordingBus{}
	sup := NewSupervisor(Options{Launcher: launcher, Bus: bus})
	sup.Configure(testutil.TempFile(t, "AutoSplit", "binary"))

	assert.False(t, sup.Start(context.Background()))
	assert.Equal(t, StateIdle, sup.State())
	assert.True(t, bus.has(events.EventTypeSystemAlert))
}
