package frame

import (
	"bufio"
	"io"

	"wzrd/pkg/protocol"
)

// LengthCodec frames payloads with a bare 4-byte little-endian length.
type LengthCodec struct {
	r   *bufio.Reader
	w   *bufio.Writer
	opt options
}

// NewLengthCodec wraps rw in a LengthCodec.
func NewLengthCodec(rw io.ReadWriter, opts ...Option) *LengthCodec {
	return &LengthCodec{
		r:   bufio.NewReader(rw),
		w:   bufio.NewWriter(rw),
		opt: buildOptions(opts),
	}
}

// ReadFrame reads one length-prefixed payload.
func (c *LengthCodec) ReadFrame() (Frame, error) {
	var hdr [protocol.LengthPrefixSize]byte
	if err := ReadExact(c.r, hdr[:], "header", true); err != nil {
		return Frame{}, err
	}
	size := le.Uint32(hdr[:])
	if err := checkSize(size, c.opt.maxPayload); err != nil {
		return Frame{}, err
	}
	payload, err := readPayload(c.r, size)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: payload}, nil
}

// WriteFrame writes f.Payload behind its length and flushes. f.Command is
// ignored.
func (c *LengthCodec) WriteFrame(f Frame) error {
	if uint64(len(f.Payload)) > uint64(^uint32(0)) {
		return &protocol.FrameTooLargeError{Size: ^uint32(0), Limit: c.opt.maxPayload}
	}
	size := uint32(len(f.Payload)) //nolint:gosec // checked above
	if err := checkSize(size, c.opt.maxPayload); err != nil {
		return err
	}
	var hdr [protocol.LengthPrefixSize]byte
	le.PutUint32(hdr[:], size)
	_, _ = c.w.Write(hdr[:])
	_, _ = c.w.Write(f.Payload)
	return flush(c.w)
}
