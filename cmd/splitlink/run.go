package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/splitlink/splitlink/internal/autosplit"
	"github.com/splitlink/splitlink/internal/config"
	"github.com/splitlink/splitlink/internal/console"
	"github.com/splitlink/splitlink/internal/events"
	"github.com/splitlink/splitlink/internal/process"
	"github.com/splitlink/splitlink/internal/relay"
	"github.com/splitlink/splitlink/internal/telemetry"
	"github.com/splitlink/splitlink/internal/timer"
)

func newRunCommand(a *app) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a timer from stdin with the auto-splitter attached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), a, cmd.OutOrStdout(), cmd.ErrOrStderr(), !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reapply settings when the config file changes")
	return cmd
}

func runSession(ctx context.Context, a *app, stdout, stderr io.Writer, watch bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := a.logger()
	cfg := a.cfg

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Override:       a.otelEndpoint,
		ConfigEndpoint: cfg.OTELEndpoint,
		Fallback:       stderr,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdown()

	out := &lockedWriter{w: stdout}
	bus := events.New(events.WithLogger(logger))
	defer bus.Close()
	bus.SubscribeAll(func(event events.Event) { printNotification(out, event) })

	session := timer.NewSession(timer.Options{Segments: cfg.Segments, Logger: logger.WithPrefix("timer")})
	component := autosplit.New(autosplit.Options{Timer: session, Bus: bus, Logger: logger})
	defer component.Dispose()

	if !component.ApplySettings(ctx, settingsFrom(cfg)) && cfg.AutoSplit.Path != "" {
		fmt.Fprintf(out, "auto-splitter not started: %s is not a usable executable\n", cfg.AutoSplit.Path)
	}

	if watch {
		path := cfg.Watched()
		_, err := config.Watch(ctx, path, config.WatchOptions{
			Reload: func() (*config.Config, error) { return config.Load(ctx, a.configPath) },
			OnChange: func(next *config.Config) {
				component.ApplySettings(ctx, settingsFrom(next))
			},
			Logger: logger,
		})
		if err != nil {
			logger.Warn("config watch unavailable", "path", path, "error", err)
		}
	}

	c := console.New(console.Options{
		Timer:      session,
		Controller: component,
		Input:      a.stdin,
		Output:     out,
		Logger:     logger.WithPrefix("console"),
	})
	select {
	case <-c.Start(ctx):
	case <-ctx.Done():
	}
	return nil
}

func settingsFrom(cfg *config.Config) autosplit.Settings {
	return autosplit.Settings{
		Path:            cfg.AutoSplit.Path,
		Args:            cfg.AutoSplit.Args,
		GameTimePausing: cfg.AutoSplit.GameTimePausing,
	}
}

func printNotification(out io.Writer, event events.Event) {
	switch event.Type {
	case events.EventTypeAutoSplitStarted:
		fmt.Fprintln(out, "* run started")
	case events.EventTypeAutoSplitReset:
		if n, ok := event.Payload.(relay.Notification); ok {
			fmt.Fprintf(out, "* run reset (was %s)\n", n.Phase)
			return
		}
		fmt.Fprintln(out, "* run reset")
	case events.EventTypeProcessSpawn:
		if status, ok := event.Payload.(process.Status); ok {
			fmt.Fprintf(out, "* auto-splitter started (pid %d)\n", status.PID)
			return
		}
		fmt.Fprintln(out, "* auto-splitter started")
	case events.EventTypeProcessExit:
		if payload, ok := event.Payload.(map[string]int); ok {
			fmt.Fprintf(out, "* auto-splitter exited (code %d)\n", payload["exit_code"])
			return
		}
		fmt.Fprintln(out, "* auto-splitter exited")
	case events.EventTypeSystemAlert:
		if payload, ok := event.Payload.(map[string]string); ok {
			fmt.Fprintf(out, "* warning: %s\n", payload["error"])
			return
		}
		fmt.Fprintf(out, "* warning: %s alert\n", event.EntityType)
	}
}

// lockedWriter serializes console output with notifications from bus goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
