// Package frame implements the two stream framings spoken over wzrd's
// loopback sockets. A Frame is one complete length-delimited message; a
// Codec reads and writes frames on one connection.
//
//   - LengthCodec: [len:uint32-LE][payload]. No magic, no command id.
//   - TaggedCodec: [magic:3][cmd:uint16-LE][len:uint32-LE][payload].
//
// Both codecs report failures with the protocol package's error taxonomy so
// that accept and dispatch loops can be written once against Codec.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"wzrd/pkg/protocol"
)

// DefaultMaxPayload bounds the payload length either codec accepts.
// Rendered images are the largest payloads on the wire.
const DefaultMaxPayload uint32 = 256 << 20

// Frame is one complete protocol message. Command is always zero on a
// LengthCodec.
type Frame struct {
	Command protocol.Command
	Payload []byte
}

// Codec reads and writes frames on a single connection. A Codec must be
// driven by one goroutine at a time.
type Codec interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
}

type options struct {
	maxPayload uint32
}

// Option configures a codec.
type Option func(*options)

// WithMaxPayload sets the largest payload the codec will read or write.
// Zero disables the limit.
func WithMaxPayload(n uint32) Option {
	return func(o *options) { o.maxPayload = n }
}

func buildOptions(opts []Option) options {
	o := options{maxPayload: DefaultMaxPayload}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var le = binary.LittleEndian //nolint:gochecknoglobals // shorthand for the wire byte order

// ReadExact fills buf. A clean EOF before the first byte of a frame means the
// peer went away between frames; any other short read is a truncated frame.
func ReadExact(r io.Reader, buf []byte, part string, frameStart bool) error {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if frameStart && n == 0 && errors.Is(err, io.EOF) {
		return &protocol.PeerGoneError{Op: "read", Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &protocol.TruncatedFrameError{Part: part, Want: len(buf), Got: n, Err: err}
	}
	return Classify("read "+part, err)
}

func checkSize(size, limit uint32) error {
	if limit != 0 && size > limit {
		return &protocol.FrameTooLargeError{Size: size, Limit: limit}
	}
	return nil
}

func readPayload(r io.Reader, size uint32) ([]byte, error) {
	payload := make([]byte, size)
	if size == 0 {
		return payload, nil
	}
	if err := ReadExact(r, payload, "payload", false); err != nil {
		return nil, err
	}
	return payload, nil
}

func flush(w *bufio.Writer) error {
	if err := w.Flush(); err != nil {
		return Classify("write", err)
	}
	return nil
}
