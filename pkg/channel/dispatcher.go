package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"wzrd/pkg/protocol"
)

// HandlerFunc handles one inbound frame. Replies, if any, are written on ch.
type HandlerFunc func(ctx context.Context, ch *Tagged, payload []byte) error

// State is the dispatch loop state.
type State int32

// Dispatch loop states.
const (
	StateAwaitingFrame State = iota
	StateDispatching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingFrame:
		return "awaiting_frame"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dispatcher runs the serving side of a tagged channel against a fixed
// handler table.
type Dispatcher struct {
	handlers map[protocol.Command]HandlerFunc
	log      *slog.Logger
	state    atomic.Int32
}

// NewDispatcher copies handlers into a table that is never modified again.
// A handler registered for end_session runs before the channel is closed.
func NewDispatcher(handlers map[protocol.Command]HandlerFunc, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	table := make(map[protocol.Command]HandlerFunc, len(handlers))
	for cmd, h := range handlers {
		table[cmd] = h
	}
	return &Dispatcher{handlers: table, log: log}
}

// State reports where the loop currently is.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Run receives and dispatches frames until end_session arrives, the stream
// breaks or ctx is cancelled. end_session closes ch and returns nil. Handler
// errors and panics are logged and the loop keeps going, unless the error
// left the stream unusable: a handler error that protocol.IsStreamBroken
// reports closes ch and is returned from Run, since the next Receive could
// not succeed.
func (d *Dispatcher) Run(ctx context.Context, ch *Tagged) error {
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()
	defer d.state.Store(int32(StateTerminated))

	for {
		d.state.Store(int32(StateAwaitingFrame))
		cmd, payload, err := ch.Receive()
		if err != nil {
			_ = ch.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		d.state.Store(int32(StateDispatching))
		if cmd == protocol.CmdEndSession {
			if h, ok := d.handlers[cmd]; ok {
				d.call(ctx, ch, cmd, h, payload)
			}
			d.log.Debug("session ended by peer")
			_ = ch.Close()
			return nil
		}

		h, ok := d.handlers[cmd]
		if !ok {
			d.log.Warn("no handler for command, skipping", "cmd", cmd.String(), "bytes", len(payload))
			continue
		}
		if err := d.call(ctx, ch, cmd, h, payload); protocol.IsStreamBroken(err) {
			_ = ch.Close()
			return err
		}
	}
}

func (d *Dispatcher) call(ctx context.Context, ch *Tagged, cmd protocol.Command, h HandlerFunc, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked", "cmd", cmd.String(), "panic", r)
			err = nil
		}
	}()
	if err = h(ctx, ch, payload); err != nil {
		d.log.Error("handler failed", "cmd", cmd.String(), "err", err)
	}
	return err
}
