package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"wzrd/pkg/eventlog"
	"wzrd/pkg/progress"
	"wzrd/pkg/protocol"
)

// Progress bar slots.
const (
	BarOverall uint16 = iota
	BarItem

	Bars = 2
)

// ErrAborted means the renderer went away mid-batch.
var ErrAborted = errors.New("batch aborted")

// Renderer renders one item; *renderer.Session implements it.
type Renderer interface {
	RenderResult(ctx context.Context, params protocol.RenderParams) (protocol.RenderResult, error)
	Terminate() error
}

// Progress receives bar updates; *progress.Session implements it. An
// update failing with progress.ErrCancelled cancels the batch.
type Progress interface {
	Update(idx uint16, fraction float64, msg string) error
}

// Options configures Run.
type Options struct {
	// OutDir receives <name>.png for items rendered as bytes. Empty keeps
	// the image in the result only.
	OutDir    string
	SessionID string
	Progress  Progress
	Events    eventlog.Recorder
	Logger    *slog.Logger
}

// ItemResult is the outcome of one item.
type ItemResult struct {
	Name   string
	Params protocol.RenderParams
	Result protocol.RenderResult
	// File is where the image was written, when OutDir is set.
	File string
}

// Report summarises a batch.
type Report struct {
	Items     []ItemResult
	Rendered  int
	Failed    int
	Cancelled bool
	Aborted   bool
}

// Total returns the number of items that were attempted.
func (r *Report) Total() int {
	return len(r.Items)
}

type noProgress struct{}

func (noProgress) Update(uint16, float64, string) error { return nil }

// Run renders every item in order. A failed render is reported and the
// batch continues. A vanished renderer aborts the batch with ErrAborted. A
// closed progress display cancels the batch, force-stops the renderer and
// returns progress.ErrCancelled. The report is valid in every case.
func Run(ctx context.Context, m *Manifest, r Renderer, opts Options) (*Report, error) {
	if opts.Progress == nil {
		opts.Progress = noProgress{}
	}
	if opts.Events == nil {
		opts.Events = eventlog.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &run{opts: opts, log: opts.Logger.With("component", "batch"), r: r, rep: &Report{}}

	n := len(m.Items)
	for i, it := range m.Items {
		name := it.Label()
		if err := b.update(ctx, BarOverall, float64(i)/float64(n), fmt.Sprintf("Rendering %d of %d: %s", i+1, n, name)); err != nil {
			return b.rep, err
		}
		if err := b.update(ctx, BarItem, 0, name); err != nil {
			return b.rep, err
		}

		params := Merge(m.Defaults, it.Params).WithDefaults()
		res, err := r.RenderResult(ctx, params)
		if err != nil {
			b.rep.Aborted = true
			b.event(ctx, protocol.EvBatchAborted, name, map[string]any{"error": err.Error(), "done": i})
			b.log.Error("batch aborted", "item", name, "err", err)
			if protocol.IsPeerGone(err) {
				return b.rep, fmt.Errorf("%w at %q: %w", ErrAborted, name, err)
			}
			return b.rep, fmt.Errorf("render %q: %w", name, err)
		}

		ir := ItemResult{Name: name, Params: params, Result: res}
		if res.Failed {
			b.rep.Failed++
			b.event(ctx, protocol.EvRenderFailed, name, map[string]any{"reason": res.Reason})
			b.log.Warn("render failed", "item", name, "reason", res.Reason)
		} else {
			if ir.File, err = b.save(name, res); err != nil {
				b.log.Warn("save render", "item", name, "err", err)
			}
			b.rep.Rendered++
			b.event(ctx, protocol.EvRenderOK, name, map[string]any{"path": res.Path, "file": ir.File, "bytes": len(res.Image)})
			b.log.Info("rendered", "item", name, "path", res.Path, "file", ir.File)
		}
		b.rep.Items = append(b.rep.Items, ir)

		status := "done"
		if res.Failed {
			status = "failed: " + res.Reason
		}
		if err := b.update(ctx, BarItem, 1, name+" "+status); err != nil {
			return b.rep, err
		}
	}
	if err := b.update(ctx, BarOverall, 1, fmt.Sprintf("Finished %d of %d (%d failed)", b.rep.Rendered, n, b.rep.Failed)); err != nil {
		return b.rep, err
	}
	return b.rep, nil
}

type run struct {
	opts Options
	log  *slog.Logger
	r    Renderer
	rep  *Report
}

func (b *run) update(ctx context.Context, bar uint16, fraction float64, msg string) error {
	err := b.opts.Progress.Update(bar, fraction, msg)
	if err == nil {
		return nil
	}
	if !errors.Is(err, progress.ErrCancelled) {
		b.log.Warn("progress update", "err", err)
		return nil
	}
	b.rep.Cancelled = true
	b.event(ctx, protocol.EvBatchCancelled, "", map[string]any{"done": len(b.rep.Items)})
	b.log.Info("batch cancelled from the progress display", "done", len(b.rep.Items))
	if terr := b.r.Terminate(); terr != nil {
		b.log.Warn("terminate renderer", "err", terr)
	}
	return err
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (b *run) save(name string, res protocol.RenderResult) (string, error) {
	if b.opts.OutDir == "" || len(res.Image) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(b.opts.OutDir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(b.opts.OutDir, unsafeName.ReplaceAllString(name, "_")+".png")
	if err := os.WriteFile(path, res.Image, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (b *run) event(ctx context.Context, typ, item string, payload map[string]any) {
	data, _ := json.Marshal(payload)
	ev := protocol.Event{
		Type:      typ,
		Source:    "batch",
		SessionID: b.opts.SessionID,
		Item:      item,
		Payload:   string(data),
	}
	if err := b.opts.Events.Record(context.WithoutCancel(ctx), ev); err != nil {
		b.log.Debug("event log", "err", err)
	}
}
