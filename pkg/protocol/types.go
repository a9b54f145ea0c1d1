package protocol

import (
	"fmt"
	"strings"
)

// DispMethod selects how a material's height information deforms the preview.
type DispMethod string

const (
	DispBump         DispMethod = "BUMP"         // Normal map only, geometry untouched.
	DispDisplacement DispMethod = "DISPLACEMENT" // Geometry displaced by the height map only.
	DispBoth         DispMethod = "BOTH"         // Height and normal map both displace.
)

// Valid reports whether m is one of the known displacement methods.
func (m DispMethod) Valid() bool {
	switch m {
	case DispBump, DispDisplacement, DispBoth:
		return true
	default:
		return false
	}
}

// Shape is the preview geometry the material is applied to.
type Shape string

const (
	ShapeSphere Shape = "sphere"
	ShapePlane  Shape = "plane"
)

// Valid reports whether s is a known preview shape.
func (s Shape) Valid() bool {
	return s == ShapeSphere || s == ShapePlane
}

// RenderEngine selects the renderer backend inside the worker.
type RenderEngine string

const (
	EngineCycles RenderEngine = "CYCLES"
	EngineEevee  RenderEngine = "BLENDER_EEVEE"
)

// Valid reports whether e is a known render engine.
func (e RenderEngine) Valid() bool {
	return e == EngineCycles || e == EngineEevee
}

// RenderAs controls what a render_output payload carries.
type RenderAs string

const (
	RenderAsPath  RenderAs = "save_to_path" // payload is the output path
	RenderAsBytes RenderAs = "bytes"        // payload is the encoded image
)

// Valid reports whether r is a known output mode.
func (r RenderAs) Valid() bool {
	return r == RenderAsPath || r == RenderAsBytes
}

// Render parameter defaults, applied by WithDefaults.
const (
	DefaultDispScale       = 0.9
	DefaultDispMidlevel    = 0.5
	DefaultSizeFactor      = 1.0
	DefaultTimeLimitFactor = 1.0
	DefaultFilmExposure    = 1.0
	DefaultRenderOutput    = "//render_out.png"

	// BaseResolution is the preview edge length in pixels at size_factor 1.
	BaseResolution = 256
)

// RenderParams is the configuration map sent with do_render. It is produced
// by the asset-catalogue side and consumed by the renderer worker.
type RenderParams struct {
	MaterialSource   string       `json:"material_source" yaml:"material_source"`
	SrcMaterialName  string       `json:"src_material_name" yaml:"src_material_name"`
	DispScale        float64      `json:"disp_scale,omitempty" yaml:"disp_scale,omitempty"`
	DispMidlevel     float64      `json:"disp_midlevel,omitempty" yaml:"disp_midlevel,omitempty"`
	SizeFactor       float64      `json:"size_factor,omitempty" yaml:"size_factor,omitempty"`
	TimeLimitFactor  float64      `json:"time_limit_factor,omitempty" yaml:"time_limit_factor,omitempty"`
	DispMethod       DispMethod   `json:"disp_method,omitempty" yaml:"disp_method,omitempty"`
	FilmExposure     float64      `json:"film_exposure,omitempty" yaml:"film_exposure,omitempty"`
	PanoramaStrength float64      `json:"panorama_strength,omitempty" yaml:"panorama_strength,omitempty"`
	Shape            Shape        `json:"shape,omitempty" yaml:"shape,omitempty"`
	RenderEngine     RenderEngine `json:"render_engine,omitempty" yaml:"render_engine,omitempty"`
	RenderAs         RenderAs     `json:"render_as,omitempty" yaml:"render_as,omitempty"`
	RenderOutputPath string       `json:"render_output_path,omitempty" yaml:"render_output_path,omitempty"`
}

// WithDefaults returns a copy of p with every unset field filled in.
func (p RenderParams) WithDefaults() RenderParams {
	out := p
	if out.DispScale == 0 {
		out.DispScale = DefaultDispScale
	}
	if out.DispMidlevel == 0 {
		out.DispMidlevel = DefaultDispMidlevel
	}
	if out.SizeFactor == 0 {
		out.SizeFactor = DefaultSizeFactor
	}
	if out.TimeLimitFactor == 0 {
		out.TimeLimitFactor = DefaultTimeLimitFactor
	}
	if out.FilmExposure == 0 {
		out.FilmExposure = DefaultFilmExposure
	}
	if out.DispMethod == "" {
		out.DispMethod = DispDisplacement
	}
	if out.Shape == "" {
		out.Shape = ShapeSphere
	}
	if out.RenderEngine == "" {
		out.RenderEngine = EngineCycles
	}
	if out.RenderAs == "" {
		out.RenderAs = RenderAsPath
	}
	if out.RenderOutputPath == "" {
		out.RenderOutputPath = DefaultRenderOutput
	}
	return out
}

// Resolution returns the square output edge length in pixels.
func (p RenderParams) Resolution() int {
	f := p.SizeFactor
	if f == 0 {
		f = DefaultSizeFactor
	}
	return int(BaseResolution * f)
}

// Validate checks the closed enums and the required material fields.
// Empty enum values are allowed; WithDefaults fills them in.
func (p RenderParams) Validate() error {
	var problems []string
	if p.MaterialSource == "" {
		problems = append(problems, "material_source is required")
	}
	if p.SrcMaterialName == "" {
		problems = append(problems, "src_material_name is required")
	}
	if p.DispMethod != "" && !p.DispMethod.Valid() {
		problems = append(problems, fmt.Sprintf("disp_method %q is not one of BUMP, DISPLACEMENT, BOTH", p.DispMethod))
	}
	if p.Shape != "" && !p.Shape.Valid() {
		problems = append(problems, fmt.Sprintf("shape %q is not one of sphere, plane", p.Shape))
	}
	if p.RenderEngine != "" && !p.RenderEngine.Valid() {
		problems = append(problems, fmt.Sprintf("render_engine %q is not one of CYCLES, BLENDER_EEVEE", p.RenderEngine))
	}
	if p.RenderAs != "" && !p.RenderAs.Valid() {
		problems = append(problems, fmt.Sprintf("render_as %q is not one of save_to_path, bytes", p.RenderAs))
	}
	if p.SizeFactor < 0 {
		problems = append(problems, "size_factor must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid render params: %s", strings.Join(problems, "; "))
	}
	return nil
}
