package process

import (
	"errors"

	"github.com/splitlink/splitlink/internal/protocol"
)

// ErrOutboxFull is reported when a running instance has too many commands queued.
var ErrOutboxFull = errors.New("auto-splitter outbox full")

// SendResult describes what happened to one command. It is a value, not an
// error, so callers on the timer path can drop it without ceremony.
type SendResult struct {
	Command protocol.Command
	// Queued is true when a running instance accepted the command for delivery.
	Queued bool
	// Err explains why a running instance could not accept the command.
	// It is nil when nothing is running: that case is a plain no-op.
	Err error
}

// TrySend queues cmd for the running instance without blocking. Delivery is
// at most once; write failures are logged by the instance's writer.
func (s *Supervisor) TrySend(cmd protocol.Command) SendResult {
	result := SendResult{Command: cmd}
	if !cmd.Valid() {
		result.Err = protocol.ErrInvalidCommand
		return result
	}

	s.mu.Lock()
	inst := s.current
	s.mu.Unlock()
	if inst == nil || exited(inst.handle) {
		return result
	}

	select {
	case <-inst.quit:
		return result
	default:
	}

	select {
	case inst.outbox <- cmd:
		result.Queued = true
	default:
		result.Err = ErrOutboxFull
	}
	return result
}

func (s *Supervisor) writeCommands(inst *instance) {
	stdin := inst.handle.Stdin()
	for {
		select {
		case <-inst.quit:
			return
		case cmd := <-inst.outbox:
			if stdin == nil {
				continue
			}
			if err := protocol.Encode(stdin, cmd); err != nil {
				s.logger.Debug("auto-splitter command dropped", "process_id", inst.handle.ID(), "command", cmd.String(), "error", err)
			}
		}
	}
}
