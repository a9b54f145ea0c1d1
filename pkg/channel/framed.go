// Package channel wraps a single connection in one of wzrd's framed
// protocols. Framed speaks length-prefixed JSON; Tagged speaks the
// magic/command-id framing and is driven by a Dispatcher on the serving side.
//
// A channel lives for exactly one connection and must be driven by one
// goroutine.
package channel

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"wzrd/pkg/frame"
	"wzrd/pkg/protocol"
)

// deadliner is implemented by net.Conn.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Framed sends and receives JSON values as length-prefixed frames.
type Framed struct {
	conn  io.ReadWriteCloser
	codec *frame.LengthCodec

	closeOnce sync.Once
	closeErr  error
}

// NewFramed wraps conn. The channel takes ownership of conn.
func NewFramed(conn io.ReadWriteCloser, opts ...frame.Option) *Framed {
	return &Framed{conn: conn, codec: frame.NewLengthCodec(conn, opts...)}
}

// Send encodes v as JSON and writes it as one frame.
func (c *Framed) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &protocol.MalformedPayloadError{Err: err}
	}
	return c.codec.WriteFrame(frame.Frame{Payload: data})
}

// Receive reads one frame and decodes it into v. Pass a *json.RawMessage to
// keep the payload undecoded.
func (c *Framed) Receive(v any) error {
	f, err := c.codec.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return &protocol.MalformedPayloadError{Err: err}
	}
	return nil
}

// ReceiveValue reads one frame and decodes it into a generic value: maps,
// slices, float64, string, bool or nil.
func (c *Framed) ReceiveValue() (any, error) {
	var v any
	if err := c.Receive(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetDeadline bounds subsequent reads and writes when the underlying
// connection supports deadlines. It is a no-op otherwise.
func (c *Framed) SetDeadline(t time.Time) error {
	return setDeadline(c.conn, t)
}

// Close closes the connection. Calls after the first return the first result.
func (c *Framed) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.conn.Close() })
	return c.closeErr
}

func setDeadline(conn io.ReadWriteCloser, t time.Time) error {
	if d, ok := conn.(deadliner); ok {
		return d.SetDeadline(t)
	}
	return nil
}
