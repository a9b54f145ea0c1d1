package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"wzrd/pkg/channel"
	"wzrd/pkg/protocol"
)

// DialTimeout bounds the client's connect and its single exchange.
const DialTimeout = 5 * time.Second

// Action handles the data of one scheduler command on the client side.
// Returning a zero Reply yields an "unknown" status.
type Action func(ctx context.Context, data json.RawMessage) (protocol.Reply, error)

// Actions maps scheduler command names to their handlers.
type Actions map[string]Action

// DefaultActions returns a table holding only the skip action.
func DefaultActions() Actions {
	return Actions{protocol.SchedSkip: Skip}
}

// Skip acknowledges that there was nothing to do.
func Skip(context.Context, json.RawMessage) (protocol.Reply, error) {
	return protocol.Reply{Status: protocol.ReplyOK, Info: "Skipped"}, nil
}

// Exchange is one result of a client connection.
type Exchange struct {
	Port    int
	Command protocol.SchedulerCommand
	Reply   protocol.Reply
}

// Pull reads the advertised port at path, connects, runs the action for the
// received command and sends its reply. An action error is reported to the
// listener as an error reply and also returned.
func Pull(ctx context.Context, path string, actions Actions) (Exchange, error) {
	port, err := ReadAdvertisement(path)
	if err != nil {
		return Exchange{}, err
	}
	ex, err := PullAddr(ctx, loopbackAddr(port), actions)
	ex.Port = port
	return ex, err
}

// PullAddr is Pull against a known address.
func PullAddr(ctx context.Context, addr string, actions Actions) (Exchange, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Exchange{}, fmt.Errorf("connect to %s: %w", addr, err)
	}
	ch := channel.NewFramed(conn)
	defer func() { _ = ch.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = ch.SetDeadline(deadline)
	}

	var ex Exchange
	if err := ch.Receive(&ex.Command); err != nil {
		return ex, fmt.Errorf("receive command: %w", err)
	}

	reply, actionErr := runAction(ctx, actions, ex.Command)
	ex.Reply = reply
	if err := ch.Send(reply); err != nil {
		return ex, fmt.Errorf("send reply: %w", err)
	}
	return ex, actionErr
}

func runAction(ctx context.Context, actions Actions, cmd protocol.SchedulerCommand) (reply protocol.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", cmd.Cmd, r)
			reply = protocol.Reply{Status: protocol.ReplyError, Info: "Unknown error: " + err.Error()}
		}
	}()

	act, ok := actions[cmd.Cmd]
	if !ok {
		err = fmt.Errorf("no action for command %q", cmd.Cmd)
		return protocol.Reply{Status: protocol.ReplyError, Info: "Unknown error: " + err.Error()}, err
	}
	reply, err = act(ctx, cmd.Data)
	if err != nil {
		return protocol.Reply{Status: protocol.ReplyError, Info: "Unknown error: " + err.Error()}, err
	}
	if reply.Status == "" {
		reply = protocol.Reply{Status: protocol.ReplyUnknown, Info: "The action didn't return anything"}
	}
	return reply, nil
}
