package connector

import (
	"sync"

	"wzrd/pkg/protocol"
)

// Mailbox is a single-slot holder for the next scheduler command. Request
// handlers Put into it; the listener Takes from it once per connection.
// The zero value is an empty mailbox ready to use.
type Mailbox struct {
	mu   sync.Mutex
	cmd  protocol.SchedulerCommand
	full bool
}

// Put stores cmd, replacing anything not yet delivered. It reports whether
// an undelivered command was overwritten.
func (m *Mailbox) Put(cmd protocol.SchedulerCommand) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	replaced := m.full
	m.cmd, m.full = cmd, true
	return replaced
}

// Take empties the slot and returns what it held, or the skip command if it
// was empty.
func (m *Mailbox) Take() protocol.SchedulerCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return protocol.SkipCommand()
	}
	cmd := m.cmd
	m.cmd, m.full = protocol.SchedulerCommand{}, false
	return cmd
}

// Peek returns the pending command without removing it.
func (m *Mailbox) Peek() (protocol.SchedulerCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd, m.full
}

// Restore puts back a command whose delivery failed. A command stored by Put
// in the meantime wins; skip commands are never restored.
func (m *Mailbox) Restore(cmd protocol.SchedulerCommand) bool {
	if cmd.Cmd == protocol.SchedSkip {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.cmd, m.full = cmd, true
	return true
}
