package renderer_test

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"wzrd/pkg/channel"
	"wzrd/pkg/protocol"
	"wzrd/pkg/renderer"
)

// serveOnLoopback runs Serve on one end of a loopback pair and returns the
// parent's end and Serve's result.
func serveOnLoopback(t *testing.T, r renderer.Renderer) (*channel.Tagged, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	done := make(chan error, 1)
	port := ln.Addr().(*net.TCPAddr).Port
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conn, err := renderer.Dial(ctx, port)
		if err != nil {
			done <- err
			return
		}
		done <- renderer.Serve(ctx, conn, r, quietLogger())
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	ch := channel.NewTagged(conn)
	t.Cleanup(func() { _ = ch.Close() })
	return ch, done
}

func request(t *testing.T, ch *channel.Tagged, params protocol.RenderParams) []byte {
	t.Helper()
	if err := ch.SendJSON(protocol.CmdDoRender, params); err != nil {
		t.Fatalf("send do_render: %v", err)
	}
	out, err := ch.Expect(protocol.CmdRenderOutput)
	if err != nil {
		t.Fatalf("await render_output: %v", err)
	}
	return out
}

func TestServe_PlaceholderBytesAndPath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "lib.blend")
	if err := os.WriteFile(src, []byte("blend"), 0o600); err != nil {
		t.Fatal(err)
	}
	ch, done := serveOnLoopback(t, renderer.Placeholder{BaseDir: dir})

	out := request(t, ch, protocol.RenderParams{
		MaterialSource: src, SrcMaterialName: "Bricks", SizeFactor: 0.25, RenderAs: protocol.RenderAsBytes,
	})
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("image is %v, want 64x64", b)
	}

	out = request(t, ch, protocol.RenderParams{MaterialSource: src, SrcMaterialName: "Bricks"})
	want := filepath.Join(dir, "render_out.png")
	if string(out) != want {
		t.Errorf("path = %q, want %q", out, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("preview not written: %v", err)
	}

	if err := ch.SendCommand(protocol.CmdEndSession, nil); err != nil {
		t.Fatalf("send end_session: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop on end_session")
	}
}

func TestServe_FailuresKeepSessionAlive(t *testing.T) {
	var calls atomic.Int32
	r := renderer.RenderFunc(func(_ context.Context, p protocol.RenderParams) ([]byte, error) {
		calls.Add(1)
		switch p.SrcMaterialName {
		case "boom":
			panic("renderer exploded")
		case "bad":
			return nil, errors.New("material has no output node")
		}
		return []byte("ok"), nil
	})
	ch, done := serveOnLoopback(t, r)

	cases := []struct {
		params protocol.RenderParams
		want   string
	}{
		{protocol.RenderParams{MaterialSource: "a", SrcMaterialName: "bad"}, "$fail:material has no output node"},
		{protocol.RenderParams{MaterialSource: "a", SrcMaterialName: "boom"}, "$fail:renderer panicked"},
		{protocol.RenderParams{SrcMaterialName: "x"}, "$fail:invalid render params"},
		{protocol.RenderParams{MaterialSource: "a", SrcMaterialName: "good"}, "ok"},
	}
	for _, tc := range cases {
		out := string(request(t, ch, tc.params))
		if !strings.HasPrefix(out, tc.want) {
			t.Errorf("%s: got %q, want prefix %q", tc.params.SrcMaterialName, out, tc.want)
		}
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("renderer called %d times, want 3", n)
	}

	// A malformed payload is answered, not fatal.
	if err := ch.SendCommand(protocol.CmdDoRender, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	out, err := ch.Expect(protocol.CmdRenderOutput)
	if err != nil || !strings.HasPrefix(string(out), "$fail:malformed") {
		t.Errorf("malformed params reply = %q, %v", out, err)
	}

	_ = ch.Close()
	select {
	case err := <-done:
		if !protocol.IsPeerGone(err) {
			t.Errorf("Serve after parent left = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not notice the parent leaving")
	}
}

func TestPlaceholder_MissingSource(t *testing.T) {
	_, err := renderer.Placeholder{}.Render(context.Background(), protocol.RenderParams{
		MaterialSource: filepath.Join(t.TempDir(), "nope.blend"), SrcMaterialName: "X",
	})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSwatch_DeterministicAndExposure(t *testing.T) {
	a := renderer.Swatch("Bricks", 2, 1.0)
	b := renderer.Swatch("Bricks", 2, 1.0)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("same name produced different swatches")
	}
	dark := renderer.Swatch("Bricks", 2, -3)
	if dark.Pix[0] > a.Pix[0] || dark.Pix[1] > a.Pix[1] || dark.Pix[2] > a.Pix[2] {
		t.Error("lower exposure should not brighten the swatch")
	}
}

func TestDial_ContextExpires(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := renderer.Dial(ctx, port); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
