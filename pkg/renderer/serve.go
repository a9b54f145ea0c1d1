package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"time"

	"wzrd/pkg/channel"
	"wzrd/pkg/protocol"
)

// Renderer produces the render_output payload for one do_render request:
// the output path for save_to_path, the encoded image for bytes.
type Renderer interface {
	Render(ctx context.Context, params protocol.RenderParams) ([]byte, error)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(ctx context.Context, params protocol.RenderParams) ([]byte, error)

// Render calls f.
func (f RenderFunc) Render(ctx context.Context, params protocol.RenderParams) ([]byte, error) {
	return f(ctx, params)
}

// dialRetryBase is the base wait between callback dial attempts.
const dialRetryBase = 200 * time.Millisecond

// dialRetryJitter is the maximum jitter added to each dial wait.
const dialRetryJitter = 100 * time.Millisecond

// Dial connects back to the parent on 127.0.0.1:port. The child may start
// before the parent is accepting, so refused dials are retried every
// 200ms ±100ms until ctx ends.
func Dial(ctx context.Context, port int) (net.Conn, error) {
	addr := net.JoinHostPort(protocol.LoopbackHost, strconv.Itoa(port))
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		jitter := time.Duration(rand.Int64N(int64(2*dialRetryJitter))) - dialRetryJitter //nolint:gosec // jitter doesn't need crypto rand
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial parent %s: %w", addr, errors.Join(ctx.Err(), err))
		case <-time.After(dialRetryBase + jitter):
		}
	}
}

// Serve runs the child side of a render session on conn until the parent
// sends end_session (nil), the connection breaks, or ctx ends. Render errors
// are reported to the parent as failure payloads and the session carries on.
func Serve(ctx context.Context, conn io.ReadWriteCloser, r Renderer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	handlers := map[protocol.Command]channel.HandlerFunc{
		protocol.CmdDoRender: func(ctx context.Context, ch *channel.Tagged, payload []byte) error {
			out := renderOne(ctx, r, payload, log)
			return ch.SendCommand(protocol.CmdRenderOutput, out)
		},
	}
	d := channel.NewDispatcher(handlers, log)
	return d.Run(ctx, channel.NewTagged(conn))
}

func renderOne(ctx context.Context, r Renderer, payload []byte, log *slog.Logger) (out []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("renderer panicked", "panic", rec)
			out = protocol.FailurePayload(fmt.Sprintf("renderer panicked: %v", rec))
		}
	}()

	var params protocol.RenderParams
	if err := json.Unmarshal(payload, &params); err != nil {
		return protocol.FailurePayload(fmt.Sprintf("malformed render params: %v", err))
	}
	if err := params.Validate(); err != nil {
		return protocol.FailurePayload(err.Error())
	}
	params = params.WithDefaults()

	start := time.Now()
	out, err := r.Render(ctx, params)
	if err != nil {
		log.Warn("render failed", "material", params.SrcMaterialName, "err", err)
		return protocol.FailurePayload(err.Error())
	}
	log.Info("rendered", "material", params.SrcMaterialName, "as", params.RenderAs,
		"bytes", len(out), "took", time.Since(start).Round(time.Millisecond))
	return out
}

// RunWorker dials the parent and serves until the session ends. A parent
// that goes away mid-session ends the worker without error.
func RunWorker(ctx context.Context, port int, r Renderer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	conn, err := Dial(ctx, port)
	if err != nil {
		return err
	}
	log.Info("connected to parent", "port", port)
	if err := Serve(ctx, conn, r, log); err != nil {
		if protocol.IsPeerGone(err) || errors.Is(err, context.Canceled) {
			log.Info("parent went away", "err", err)
			return nil
		}
		return err
	}
	return nil
}
