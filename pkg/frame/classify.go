package frame

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"wzrd/pkg/protocol"
)

// Classify maps a transport error to the protocol taxonomy. Resets, aborts,
// broken pipes, refused dials, timeouts and closed connections all become a
// PeerGoneError; anything else is wrapped with op.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsPeerGoneCause(err) {
		return &protocol.PeerGoneError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsPeerGoneCause reports whether a raw transport error means the remote
// end is gone.
func IsPeerGoneCause(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, io.EOF):
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
