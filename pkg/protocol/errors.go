package protocol

import (
	"errors"
	"fmt"
)

// DesyncError reports a tagged frame whose magic marker did not match.
// The stream has lost frame alignment and the channel must be abandoned.
type DesyncError struct {
	Got [MagicSize]byte
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("protocol desync: bad magic %q (want %q)", e.Got[:], Magic[:])
}

// TruncatedFrameError reports a frame whose peer closed the connection
// before every declared byte arrived.
type TruncatedFrameError struct {
	Part string // "header" or "payload"
	Want int
	Got  int
	Err  error
}

func (e *TruncatedFrameError) Error() string {
	return fmt.Sprintf("truncated frame %s: got %d of %d bytes: %v", e.Part, e.Got, e.Want, e.Err)
}

func (e *TruncatedFrameError) Unwrap() error { return e.Err }

// UnknownCommandError reports a command name or id missing from the command
// table. It almost always means the peers were built from different tables.
type UnknownCommandError struct {
	Name string
	ID   Command
}

func (e *UnknownCommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown command %q", e.Name)
	}
	return fmt.Sprintf("unknown command id %d", uint16(e.ID))
}

// PeerGoneError reports that the remote end went away: connection reset or
// aborted, broken pipe, timeout, or a clean close between frames.
type PeerGoneError struct {
	Op  string
	Err error
}

func (e *PeerGoneError) Error() string {
	return fmt.Sprintf("peer gone during %s: %v", e.Op, e.Err)
}

func (e *PeerGoneError) Unwrap() error { return e.Err }

// MalformedPayloadError reports a complete frame whose payload could not be
// decoded.
type MalformedPayloadError struct {
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// FrameTooLargeError reports a declared payload length above the codec limit.
type FrameTooLargeError struct {
	Size  uint32
	Limit uint32
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("frame payload of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// UnexpectedCommandError reports a well-formed frame carrying a command the
// caller was not waiting for.
type UnexpectedCommandError struct {
	Want Command
	Got  Command
}

func (e *UnexpectedCommandError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Want, e.Got)
}

// IsPeerGone reports whether err is, or wraps, a PeerGoneError.
func IsPeerGone(err error) bool {
	var pg *PeerGoneError
	return errors.As(err, &pg)
}

// IsStreamBroken reports whether err leaves the stream unusable: desync,
// truncation, oversized frame or a vanished peer.
func IsStreamBroken(err error) bool {
	var (
		desync    *DesyncError
		truncated *TruncatedFrameError
		tooLarge  *FrameTooLargeError
	)
	return errors.As(err, &desync) || errors.As(err, &truncated) ||
		errors.As(err, &tooLarge) || IsPeerGone(err)
}
