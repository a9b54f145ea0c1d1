package frame

import (
	"bufio"
	"io"

	"wzrd/pkg/protocol"
)

// TaggedCodec frames payloads behind the magic marker, a command id and a
// length. The magic marker is the only stream-integrity check.
type TaggedCodec struct {
	r   *bufio.Reader
	w   *bufio.Writer
	opt options
}

// NewTaggedCodec wraps rw in a TaggedCodec.
func NewTaggedCodec(rw io.ReadWriter, opts ...Option) *TaggedCodec {
	return &TaggedCodec{
		r:   bufio.NewReader(rw),
		w:   bufio.NewWriter(rw),
		opt: buildOptions(opts),
	}
}

// ReadFrame reads one tagged frame. The command id is returned as sent,
// even when it is outside the command table; dispatch decides what to do
// with it.
func (c *TaggedCodec) ReadFrame() (Frame, error) {
	var magic [protocol.MagicSize]byte
	if err := ReadExact(c.r, magic[:], "magic", true); err != nil {
		return Frame{}, err
	}
	if magic != protocol.Magic {
		return Frame{}, &protocol.DesyncError{Got: magic}
	}

	var hdr [protocol.TaggedHeaderSize - protocol.MagicSize]byte
	if err := ReadExact(c.r, hdr[:], "header", false); err != nil {
		return Frame{}, err
	}
	cmd := protocol.Command(le.Uint16(hdr[0:2]))
	size := le.Uint32(hdr[2:6])
	if err := checkSize(size, c.opt.maxPayload); err != nil {
		return Frame{}, err
	}

	payload, err := readPayload(c.r, size)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Command: cmd, Payload: payload}, nil
}

// WriteFrame writes f as one tagged frame and flushes.
func (c *TaggedCodec) WriteFrame(f Frame) error {
	if !f.Command.Valid() {
		return &protocol.UnknownCommandError{ID: f.Command}
	}
	if uint64(len(f.Payload)) > uint64(^uint32(0)) {
		return &protocol.FrameTooLargeError{Size: ^uint32(0), Limit: c.opt.maxPayload}
	}
	size := uint32(len(f.Payload)) //nolint:gosec // checked above
	if err := checkSize(size, c.opt.maxPayload); err != nil {
		return err
	}

	var hdr [protocol.TaggedHeaderSize]byte
	copy(hdr[:protocol.MagicSize], protocol.Magic[:])
	le.PutUint16(hdr[3:5], uint16(f.Command))
	le.PutUint32(hdr[5:9], size)
	_, _ = c.w.Write(hdr[:])
	_, _ = c.w.Write(f.Payload)
	return flush(c.w)
}
