package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"wzrd/pkg/protocol"
)

// Placeholder renders a flat swatch instead of a real preview. It is the
// built-in render-worker: it checks that the material source exists and
// fills the frame with a colour derived from the material name, scaled by
// film exposure.
type Placeholder struct {
	// BaseDir resolves "//"-relative output paths, like a scene directory.
	BaseDir string
}

// Render implements Renderer.
func (p Placeholder) Render(ctx context.Context, params protocol.RenderParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params = params.WithDefaults()
	if _, err := os.Stat(params.MaterialSource); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("material source %s not found", params.MaterialSource)
		}
		return nil, fmt.Errorf("material source: %w", err)
	}

	img := Swatch(params.SrcMaterialName, params.Resolution(), params.FilmExposure)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	if params.RenderAs == protocol.RenderAsBytes {
		return buf.Bytes(), nil
	}

	out := p.resolve(params.RenderOutputPath)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil { //nolint:gosec // previews are shared with the asset browser
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil { //nolint:gosec // previews are shared with the asset browser
		return nil, fmt.Errorf("write preview: %w", err)
	}
	return []byte(out), nil
}

func (p Placeholder) resolve(path string) string {
	if rel, ok := strings.CutPrefix(path, "//"); ok {
		base := p.BaseDir
		if base == "" {
			base, _ = os.Getwd()
		}
		return filepath.Join(base, rel)
	}
	return path
}

// Swatch returns a size×size image filled with name's colour.
func Swatch(name string, size int, exposure float64) *image.NRGBA {
	if size < 1 {
		size = 1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	sum := h.Sum32()

	gain := math.Pow(2, exposure-protocol.DefaultFilmExposure)
	c := color.NRGBA{
		R: scale(uint8(sum>>16), gain),
		G: scale(uint8(sum>>8), gain),
		B: scale(uint8(sum), gain),
		A: 0xff,
	}
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func scale(v uint8, gain float64) uint8 {
	return uint8(math.Min(255, math.Round(float64(v)*gain)))
}
