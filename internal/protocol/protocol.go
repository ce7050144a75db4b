// Package protocol defines the line protocol spoken with the auto-splitter:
// command tokens written to its stdin and request tokens read from its stdout.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Command is one outbound token written to the auto-splitter's stdin.
type Command string

const (
	// CommandStart tells the auto-splitter a run started.
	CommandStart Command = "start"
	// CommandSplit tells the auto-splitter the timer split.
	CommandSplit Command = "split"
	// CommandReset tells the auto-splitter the run was reset.
	CommandReset Command = "reset"
	// CommandSkip tells the auto-splitter a split was skipped.
	CommandSkip Command = "skip"
	// CommandUndo tells the auto-splitter a split was undone.
	CommandUndo Command = "undo"
)

// Request is one inbound action the auto-splitter asks the timer to perform.
type Request string

const (
	// RequestStart asks the timer to start a run.
	RequestStart Request = "start"
	// RequestSplit asks the timer to split.
	RequestSplit Request = "split"
	// RequestReset asks the timer to reset the run.
	RequestReset Request = "reset"
	// RequestPauseGameTime asks the timer to pause game time.
	RequestPauseGameTime Request = "pause_game_time"
	// RequestResumeGameTime asks the timer to resume game time.
	RequestResumeGameTime Request = "resume_game_time"
)

var (
	// ErrEmptyRequest is returned for blank inbound lines.
	ErrEmptyRequest = errors.New("empty request")
	// ErrUnknownRequest is returned for tokens outside the request vocabulary.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrUnsupportedRequest is returned for known tokens that may not originate from the auto-splitter.
	ErrUnsupportedRequest = errors.New("unsupported request")
	// ErrInvalidCommand is returned when encoding a token outside the command vocabulary.
	ErrInvalidCommand = errors.New("invalid command")
)

var commands = map[Command]struct{}{
	CommandStart: {},
	CommandSplit: {},
	CommandReset: {},
	CommandSkip:  {},
	CommandUndo:  {},
}

var requests = map[Request]struct{}{
	RequestStart:          {},
	RequestSplit:          {},
	RequestReset:          {},
	RequestPauseGameTime:  {},
	RequestResumeGameTime: {},
}

// Commands returns the full outbound vocabulary in a stable order.
func Commands() []Command {
	return []Command{CommandStart, CommandSplit, CommandReset, CommandSkip, CommandUndo}
}

// Valid reports whether c is part of the outbound vocabulary.
func (c Command) Valid() bool {
	_, ok := commands[c]
	return ok
}

func (c Command) String() string {
	return string(c)
}

// Valid reports whether r is part of the inbound vocabulary.
func (r Request) Valid() bool {
	_, ok := requests[r]
	return ok
}

func (r Request) String() string {
	return string(r)
}

// Encode writes cmd as one newline-terminated line.
func Encode(w io.Writer, cmd Command) error {
	if w == nil {
		return errors.New("writer is nil")
	}
	if !cmd.Valid() {
		return fmt.Errorf("encode %q: %w", string(cmd), ErrInvalidCommand)
	}
	if _, err := io.WriteString(w, string(cmd)+"\n"); err != nil {
		return fmt.Errorf("write command %s: %w", cmd, err)
	}
	return nil
}

// ParseRequest normalizes one inbound line into a Request.
//
// skip and undo are rejected: the timer has no latch to swallow their echo.
func ParseRequest(line string) (Request, error) {
	token := strings.ToLower(strings.TrimSpace(line))
	if token == "" {
		return "", ErrEmptyRequest
	}

	req := Request(token)
	if req.Valid() {
		return req, nil
	}
	switch Command(token) {
	case CommandSkip, CommandUndo:
		return "", fmt.Errorf("parse request %q: %w", token, ErrUnsupportedRequest)
	}
	return "", fmt.Errorf("parse request %q: %w", token, ErrUnknownRequest)
}
