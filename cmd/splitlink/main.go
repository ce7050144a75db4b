package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/splitlink/splitlink/internal/config"
	"github.com/splitlink/splitlink/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader) error {
	a := &app{stdin: stdin}
	defer a.close()

	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// app carries flag values and the state loaded before a subcommand runs.
type app struct {
	configPath   string
	logLevel     string
	otelEndpoint string
	stdin        io.Reader

	cfg     *config.Config
	runtime *logging.RuntimeLogger
}

func (a *app) logger() *log.Logger {
	if a.runtime == nil {
		return logging.Discard()
	}
	return a.runtime.Logger
}

// load reads config and opens the log file. Called once per invocation.
func (a *app) load(ctx context.Context) error {
	cfg, err := config.Load(ctx, a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(a.logLevel) != "" {
		cfg.LogLevel = strings.TrimSpace(a.logLevel)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	runtime, err := logging.New(ctx,
		logging.WithDir(cfg.LogDir),
		logging.WithLevel(level),
		logging.WithSessionID(uuid.NewString()[:8]),
	)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	a.cfg = cfg
	a.runtime = runtime
	return nil
}

func (a *app) close() {
	if a.runtime == nil {
		return
	}
	if err := a.runtime.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "splitlink",
		Short:         "Keep a run timer in sync with an external auto-splitter",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file overlaid on the home and project configs")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint, or \"none\" to disable tracing")

	root.AddCommand(
		newRunCommand(a),
		newCheckCommand(a),
		newBugreportCommand(a),
		newVersionCommand(),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if !needsRuntime(cmd) {
			return nil
		}
		if a == nil {
			return errors.New("app state is required")
		}
		if err := a.load(cmd.Context()); err != nil {
			return err
		}
		a.logger().With("command", cmd.Name()).Debug("command invocation")
		return nil
	}
	return root
}

func needsRuntime(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "completion", "version", "splitlink":
		return false
	default:
		return true
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the splitlink version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}
