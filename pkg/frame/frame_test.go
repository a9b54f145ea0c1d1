package frame_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"syscall"
	"testing"

	"wzrd/pkg/frame"
	"wzrd/pkg/protocol"
)

func TestLengthCodec_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte(`{"cmd":"skip","data":null}`),
		bytes.Repeat([]byte("x"), 70_000),
	}
	var buf bytes.Buffer
	c := frame.NewLengthCodec(&buf)
	for _, p := range payloads {
		if err := c.WriteFrame(frame.Frame{Payload: p}); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for i, want := range payloads {
		got, err := c.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if !bytes.Equal(got.Payload, want) {
			t.Errorf("frame %d: payload mismatch (len %d vs %d)", i, len(got.Payload), len(want))
		}
	}
}

func TestLengthCodec_WireFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := frame.NewLengthCodec(&buf).WriteFrame(frame.Frame{Payload: []byte("{}")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	want := []byte{2, 0, 0, 0, '{', '}'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire = %v, want %v", buf.Bytes(), want)
	}
}

func TestTaggedCodec_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := frame.NewTaggedCodec(&buf)
	for _, cmd := range protocol.Commands() {
		for _, payload := range [][]byte{nil, []byte("hello"), {0x00, 0xff, 0x10}} {
			buf.Reset()
			if err := c.WriteFrame(frame.Frame{Command: cmd, Payload: payload}); err != nil {
				t.Fatalf("WriteFrame(%s): %v", cmd, err)
			}
			got, err := c.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame(%s): %v", cmd, err)
			}
			if got.Command != cmd {
				t.Errorf("command = %s, want %s", got.Command, cmd)
			}
			if !bytes.Equal(got.Payload, payload) {
				t.Errorf("%s: payload = %v, want %v", cmd, got.Payload, payload)
			}
		}
	}
}

func TestTaggedCodec_WireFormat(t *testing.T) {
	var buf bytes.Buffer
	err := frame.NewTaggedCodec(&buf).WriteFrame(frame.Frame{Command: protocol.CmdDoRender, Payload: []byte("ab")})
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	want := []byte{'S', 'E', 'X', 5, 0, 2, 0, 0, 0, 'a', 'b'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire = %v, want %v", buf.Bytes(), want)
	}
}

func TestTaggedCodec_DesyncOnCorruptMagic(t *testing.T) {
	var buf bytes.Buffer
	c := frame.NewTaggedCodec(&buf)
	if err := c.WriteFrame(frame.Frame{Command: protocol.CmdDoRender, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	buf.Bytes()[0] ^= 0xff

	_, err := c.ReadFrame()
	var desync *protocol.DesyncError
	if !errors.As(err, &desync) {
		t.Fatalf("expected DesyncError, got %v", err)
	}
}

func TestTaggedCodec_UnknownCommandOnWrite(t *testing.T) {
	var buf bytes.Buffer
	err := frame.NewTaggedCodec(&buf).WriteFrame(frame.Frame{Command: 99})
	var unknown *protocol.UnknownCommandError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCommandError, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %d bytes", buf.Len())
	}
}

func TestReadFrame_Truncation(t *testing.T) {
	tests := []struct {
		name  string
		codec func(*bytes.Buffer) frame.Codec
		wire  []byte
	}{
		{
			name:  "length prefix with no payload",
			codec: func(b *bytes.Buffer) frame.Codec { return frame.NewLengthCodec(b) },
			wire:  []byte{5, 0, 0, 0},
		},
		{
			name:  "partial length prefix",
			codec: func(b *bytes.Buffer) frame.Codec { return frame.NewLengthCodec(b) },
			wire:  []byte{5, 0},
		},
		{
			name:  "tagged header with no payload",
			codec: func(b *bytes.Buffer) frame.Codec { return frame.NewTaggedCodec(b) },
			wire:  []byte{'S', 'E', 'X', 6, 0, 3, 0, 0, 0},
		},
		{
			name:  "tagged payload cut short",
			codec: func(b *bytes.Buffer) frame.Codec { return frame.NewTaggedCodec(b) },
			wire:  []byte{'S', 'E', 'X', 6, 0, 3, 0, 0, 0, 'a'},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := bytes.NewBuffer(tc.wire)
			_, err := tc.codec(buf).ReadFrame()
			var truncated *protocol.TruncatedFrameError
			if !errors.As(err, &truncated) {
				t.Fatalf("expected TruncatedFrameError, got %v", err)
			}
		})
	}
}

func TestReadFrame_CleanCloseIsPeerGone(t *testing.T) {
	_, err := frame.NewLengthCodec(&bytes.Buffer{}).ReadFrame()
	if !protocol.IsPeerGone(err) {
		t.Fatalf("expected PeerGoneError, got %v", err)
	}
	_, err = frame.NewTaggedCodec(&bytes.Buffer{}).ReadFrame()
	if !protocol.IsPeerGone(err) {
		t.Fatalf("expected PeerGoneError, got %v", err)
	}
}

func TestReadExact(t *testing.T) {
	tests := []struct {
		name       string
		wire       string
		frameStart bool
		peerGone   bool
		truncated  bool
	}{
		{name: "full read", wire: "SEX", frameStart: true},
		{name: "nothing at frame start", wire: "", frameStart: true, peerGone: true},
		{name: "nothing mid frame", wire: "", truncated: true},
		{name: "short at frame start", wire: "SE", frameStart: true, truncated: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, 3)
			err := frame.ReadExact(bytes.NewBufferString(tc.wire), buf, "magic", tc.frameStart)
			var truncated *protocol.TruncatedFrameError
			switch {
			case tc.peerGone:
				if !protocol.IsPeerGone(err) {
					t.Fatalf("expected PeerGoneError, got %v", err)
				}
			case tc.truncated:
				if !errors.As(err, &truncated) || truncated.Part != "magic" {
					t.Fatalf("expected TruncatedFrameError for magic, got %v", err)
				}
			default:
				if err != nil || string(buf) != tc.wire {
					t.Fatalf("ReadExact = %q, %v", buf, err)
				}
			}
		})
	}
}

func TestMaxPayload(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 1024)
	_, err := frame.NewLengthCodec(bytes.NewBuffer(hdr[:]), frame.WithMaxPayload(16)).ReadFrame()
	var tooLarge *protocol.FrameTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected FrameTooLargeError, got %v", err)
	}
	if tooLarge.Size != 1024 || tooLarge.Limit != 16 {
		t.Errorf("error = %+v", tooLarge)
	}

	var buf bytes.Buffer
	err = frame.NewTaggedCodec(&buf, frame.WithMaxPayload(2)).WriteFrame(frame.Frame{Command: protocol.CmdPeek, Payload: []byte("abc")})
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected FrameTooLargeError on write, got %v", err)
	}

	// Zero disables the limit.
	buf.Reset()
	c := frame.NewLengthCodec(&buf, frame.WithMaxPayload(0))
	if err := c.WriteFrame(frame.Frame{Payload: bytes.Repeat([]byte("z"), 1<<16)}); err != nil {
		t.Fatalf("WriteFrame without limit: %v", err)
	}
}

func TestTruncation_OverLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte{8, 0, 0, 0})
		_ = conn.Close()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_, err = frame.NewLengthCodec(conn).ReadFrame()
	var truncated *protocol.TruncatedFrameError
	if !errors.As(err, &truncated) {
		t.Fatalf("expected TruncatedFrameError, got %v", err)
	}
	if truncated.Got != 0 || truncated.Want != 8 {
		t.Errorf("truncated = %+v", truncated)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		gone bool
	}{
		{"reset", syscall.ECONNRESET, true},
		{"aborted", syscall.ECONNABORTED, true},
		{"broken pipe", syscall.EPIPE, true},
		{"closed", net.ErrClosed, true},
		{"timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, true},
		{"other", errors.New("disk on fire"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := frame.Classify("read", tc.err)
			if got := protocol.IsPeerGone(err); got != tc.gone {
				t.Errorf("IsPeerGone(Classify(%v)) = %v, want %v", tc.err, got, tc.gone)
			}
			if !errors.Is(err, tc.err) {
				t.Error("classified error should wrap the cause")
			}
		})
	}
	if frame.Classify("read", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
