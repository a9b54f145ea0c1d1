package channel

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"wzrd/pkg/frame"
	"wzrd/pkg/protocol"
)

// halfCloser is implemented by *net.TCPConn and *net.UnixConn.
type halfCloser interface {
	CloseWrite() error
}

// Tagged sends and receives command-tagged binary frames.
type Tagged struct {
	conn  io.ReadWriteCloser
	codec *frame.TaggedCodec

	closeOnce sync.Once
	closeErr  error
}

// NewTagged wraps conn. The channel takes ownership of conn.
func NewTagged(conn io.ReadWriteCloser, opts ...frame.Option) *Tagged {
	return &Tagged{conn: conn, codec: frame.NewTaggedCodec(conn, opts...)}
}

// Send resolves name in the command table and writes one frame.
func (c *Tagged) Send(name string, payload []byte) error {
	cmd, err := protocol.LookupCommand(name)
	if err != nil {
		return err
	}
	return c.SendCommand(cmd, payload)
}

// SendCommand writes one frame for cmd.
func (c *Tagged) SendCommand(cmd protocol.Command, payload []byte) error {
	return c.codec.WriteFrame(frame.Frame{Command: cmd, Payload: payload})
}

// SendJSON encodes v as the payload of cmd.
func (c *Tagged) SendJSON(cmd protocol.Command, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &protocol.MalformedPayloadError{Err: err}
	}
	return c.SendCommand(cmd, data)
}

// Receive reads one frame and returns its command id and raw payload.
func (c *Tagged) Receive() (protocol.Command, []byte, error) {
	f, err := c.codec.ReadFrame()
	if err != nil {
		return 0, nil, err
	}
	return f.Command, f.Payload, nil
}

// Expect reads one frame and fails with *protocol.UnexpectedCommandError if
// it does not carry want.
func (c *Tagged) Expect(want protocol.Command) ([]byte, error) {
	cmd, payload, err := c.Receive()
	if err != nil {
		return nil, err
	}
	if cmd != want {
		return nil, &protocol.UnexpectedCommandError{Want: want, Got: cmd}
	}
	return payload, nil
}

// SetDeadline bounds subsequent reads and writes when the underlying
// connection supports deadlines. It is a no-op otherwise.
func (c *Tagged) SetDeadline(t time.Time) error {
	return setDeadline(c.conn, t)
}

// Close shuts down the write side, when supported, and closes the
// connection. Calls after the first return the first result.
func (c *Tagged) Close() error {
	c.closeOnce.Do(func() {
		if hc, ok := c.conn.(halfCloser); ok {
			_ = hc.CloseWrite()
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
