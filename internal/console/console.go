// Package console drives a timer and the auto-splitter integration from text
// commands read line by line, one command per line.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/splitlink/splitlink/internal/autosplit"
	"github.com/splitlink/splitlink/internal/logging"
	"github.com/splitlink/splitlink/internal/timer"
)

// Controller is the integration surface the console can drive.
// *autosplit.Component satisfies it.
type Controller interface {
	StartAutoSplit(ctx context.Context) bool
	KillAutoSplit()
	Status() autosplit.Status
}

// Options configures a console.
type Options struct {
	Timer      timer.Timer
	Controller Controller
	Input      io.Reader
	Output     io.Writer
	Logger     *log.Logger
	// Prompt is written before each command. Empty disables it.
	Prompt string
}

// Console maps words to timer mutations and lifecycle calls.
type Console struct {
	timer      timer.Timer
	controller Controller
	input      io.Reader
	output     io.Writer
	logger     *log.Logger
	prompt     string
	commands   map[string]command
}

type command struct {
	help string
	run  func(ctx context.Context) bool
}

// New builds a console. Timer and Controller may be nil; the commands that
// need them then report that they are unavailable.
func New(opts Options) *Console {
	c := &Console{
		timer:      opts.Timer,
		controller: opts.Controller,
		input:      opts.Input,
		output:     opts.Output,
		logger:     logging.OrDiscard(opts.Logger),
		prompt:     opts.Prompt,
	}
	c.commands = map[string]command{
		"start":   {help: "start the run", run: c.timerCommand(timer.Timer.Start)},
		"split":   {help: "split the current segment", run: c.timerCommand(timer.Timer.Split)},
		"skip":    {help: "skip the current segment", run: c.timerCommand(timer.Timer.SkipSplit)},
		"undo":    {help: "undo the last split", run: c.timerCommand(timer.Timer.UndoSplit)},
		"reset":   {help: "reset the run", run: c.timerCommand(timer.Timer.Reset)},
		"pause":   {help: "pause the run", run: c.timerCommand(timer.Timer.Pause)},
		"resume":  {help: "resume the run", run: c.timerCommand(timer.Timer.Resume)},
		"status":  {help: "show timer and auto-splitter status", run: c.status},
		"kill":    {help: "terminate the auto-splitter", run: c.kill},
		"restart": {help: "restart the auto-splitter", run: c.restart},
		"help":    {help: "list commands", run: c.help},
		"quit":    {help: "exit", run: func(context.Context) bool { return true }},
	}
	c.commands["exit"] = c.commands["quit"]
	return c
}

// Start consumes input until EOF, quit, or ctx is cancelled. The returned
// channel closes when the consumer exits.
func (c *Console) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if c.input == nil {
			return
		}
		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(c.input)
			for scanner.Scan() {
				select {
				case lines <- scanner.Text():
				case <-ctx.Done():
					return
				}
			}
		}()

		c.writePrompt()
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				if c.Execute(ctx, line) {
					return
				}
				c.writePrompt()
			}
		}
	}()
	return done
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	word := strings.ToLower(strings.TrimSpace(line))
	if word == "" {
		return false
	}
	cmd, ok := c.commands[word]
	if !ok {
		writef(c.output, "unknown command %q (try help)\n", word)
		return false
	}
	c.logger.Debug("console command", "command", word)
	return cmd.run(ctx)
}

func (c *Console) timerCommand(mutate func(timer.Timer)) func(context.Context) bool {
	return func(context.Context) bool {
		if c.timer == nil {
			writeln(c.output, "no timer attached")
			return false
		}
		mutate(c.timer)
		writef(c.output, "%s (split %d)\n", c.timer.Phase(), c.timer.SplitIndex())
		return false
	}
}

func (c *Console) status(context.Context) bool {
	if c.timer != nil {
		writef(c.output, "timer: %s, split %d\n", c.timer.Phase(), c.timer.SplitIndex())
	}
	if c.controller == nil {
		return false
	}
	status := c.controller.Status()
	path := status.Path
	if path == "" {
		path = "(not configured)"
	}
	writef(c.output, "%s: %s, path %s", status.Name, status.State, path)
	if status.PID > 0 {
		writef(c.output, ", pid %d", status.PID)
	}
	writef(c.output, ", game time pausing %t\n", status.GameTimePausing)
	return false
}

func (c *Console) kill(context.Context) bool {
	if c.controller == nil {
		writeln(c.output, "no auto-splitter attached")
		return false
	}
	c.controller.KillAutoSplit()
	writeln(c.output, "auto-splitter killed")
	return false
}

func (c *Console) restart(ctx context.Context) bool {
	if c.controller == nil {
		writeln(c.output, "no auto-splitter attached")
		return false
	}
	if c.controller.StartAutoSplit(ctx) {
		writeln(c.output, "auto-splitter started")
	} else {
		writeln(c.output, "auto-splitter not started (check the configured path)")
	}
	return false
}

func (c *Console) help(context.Context) bool {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		if name == "exit" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writef(c.output, "  %-8s %s\n", name, c.commands[name].help)
	}
	return false
}

func (c *Console) writePrompt() {
	if c.prompt != "" {
		write(c.output, c.prompt)
	}
}

func write(output io.Writer, text string) {
	if output == nil {
		return
	}
	if _, err := io.WriteString(output, text); err != nil {
		return
	}
}

func writeln(output io.Writer, text string) {
	write(output, text+"\n")
}

func writef(output io.Writer, format string, values ...any) {
	if output == nil {
		return
	}
	if _, err := fmt.Fprintf(output, format, values...); err != nil {
		return
	}
}
