// Package progress is the one-way protocol wzrd uses to drive an
// out-of-process progress display, plus that display.
//
// The host writes a 2-byte bar count, then any number of UPD records and a
// final DIE. Nothing is ever read back: a display closed by the user shows
// up as a failed write, which Sender reports as ErrCancelled.
package progress

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"wzrd/pkg/frame"
	"wzrd/pkg/protocol"
)

// ErrCancelled means the display went away, which is how the user cancels a
// batch. It wraps the underlying *protocol.PeerGoneError.
var ErrCancelled = errors.New("progress display closed: cancelled by user")

// OpKind tells an update from the terminate record.
type OpKind int

// Operation kinds.
const (
	OpUpdate OpKind = iota + 1
	OpDie
)

// Op is one record read by the display.
type Op struct {
	Kind     OpKind
	Bar      uint16
	Fraction float64
	Message  string
}

var le = binary.LittleEndian //nolint:gochecknoglobals // shorthand for the wire byte order

// Sender is the host side of a progress connection. It must be driven by
// one goroutine.
type Sender struct {
	w    io.Writer
	bw   *bufio.Writer
	bars uint16
}

// NewSender writes to w, typically a net.Conn.
func NewSender(w io.Writer) *Sender {
	return &Sender{w: w, bw: bufio.NewWriter(w)}
}

// Bars returns the bar count sent by Start.
func (s *Sender) Bars() uint16 {
	return s.bars
}

// Start sends the handshake: the number of bars the display should draw.
func (s *Sender) Start(bars uint16) error {
	var b [2]byte
	le.PutUint16(b[:], bars)
	_, _ = s.bw.Write(b[:])
	if err := s.flush(); err != nil {
		return err
	}
	s.bars = bars
	return nil
}

// Update sets bar idx to fraction with msg. fraction is clamped to [0, 1];
// NaN is sent as 0.
func (s *Sender) Update(idx uint16, fraction float64, msg string) error {
	if idx >= s.bars {
		return fmt.Errorf("progress bar %d out of range (have %d)", idx, s.bars)
	}
	if uint64(len(msg)) > uint64(frame.DefaultMaxPayload) {
		return &protocol.FrameTooLargeError{Size: frame.DefaultMaxPayload, Limit: frame.DefaultMaxPayload}
	}
	var hdr [protocol.OpSize + protocol.UpdateHeaderSize]byte
	copy(hdr[:protocol.OpSize], protocol.OpUpdate)
	le.PutUint16(hdr[3:5], idx)
	le.PutUint64(hdr[5:13], math.Float64bits(Clamp(fraction)))
	le.PutUint32(hdr[13:17], uint32(len(msg))) //nolint:gosec // bounded above
	_, _ = s.bw.Write(hdr[:])
	_, _ = s.bw.WriteString(msg)
	return s.flush()
}

// Die tells the display to exit.
func (s *Sender) Die() error {
	_, _ = s.bw.WriteString(protocol.OpDie)
	return s.flush()
}

func (s *Sender) flush() error {
	if err := s.bw.Flush(); err != nil {
		err = frame.Classify("progress write", err)
		if protocol.IsPeerGone(err) {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return err
	}
	return nil
}

// Clamp limits f to [0, 1] and maps NaN to 0.
func Clamp(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Reader is the display side of a progress connection.
type Reader struct {
	r          *bufio.Reader
	maxMessage uint32
}

// NewReader reads from r, typically a net.Conn.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxMessage: frame.DefaultMaxPayload}
}

// Handshake reads the bar count.
func (r *Reader) Handshake() (uint16, error) {
	var b [2]byte
	if err := frame.ReadExact(r.r, b[:], "bar count", true); err != nil {
		return 0, err
	}
	return le.Uint16(b[:]), nil
}

// Next reads one record. An unknown opcode is a *protocol.DesyncError; a
// connection closed between records is a *protocol.PeerGoneError.
func (r *Reader) Next() (Op, error) {
	var op [protocol.OpSize]byte
	if err := frame.ReadExact(r.r, op[:], "opcode", true); err != nil {
		return Op{}, err
	}
	switch string(op[:]) {
	case protocol.OpDie:
		return Op{Kind: OpDie}, nil
	case protocol.OpUpdate:
	default:
		return Op{}, &protocol.DesyncError{Got: op}
	}

	var hdr [protocol.UpdateHeaderSize]byte
	if err := frame.ReadExact(r.r, hdr[:], "update header", false); err != nil {
		return Op{}, err
	}
	size := le.Uint32(hdr[10:14])
	if size > r.maxMessage {
		return Op{}, &protocol.FrameTooLargeError{Size: size, Limit: r.maxMessage}
	}
	msg := make([]byte, size)
	if err := frame.ReadExact(r.r, msg, "message", false); err != nil {
		return Op{}, err
	}
	if !utf8.Valid(msg) {
		return Op{}, &protocol.MalformedPayloadError{Err: errors.New("progress message is not UTF-8")}
	}
	return Op{
		Kind:     OpUpdate,
		Bar:      le.Uint16(hdr[0:2]),
		Fraction: math.Float64frombits(le.Uint64(hdr[2:10])),
		Message:  string(msg),
	}, nil
}
