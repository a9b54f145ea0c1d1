// Package batch renders a list of material previews through one renderer
// session while driving a two-bar progress display.
package batch

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"wzrd/pkg/protocol"
)

// Manifest is a batch file: shared defaults plus one entry per preview.
//
//	defaults:
//	  shape: plane
//	  render_as: bytes
//	items:
//	  - name: bricks
//	    material_source: /assets/bricks.blend
//	    src_material_name: Bricks
type Manifest struct {
	Defaults protocol.RenderParams `yaml:"defaults"`
	Items    []Item                `yaml:"items"`
}

// Item is one preview. Name defaults to the source material name.
type Item struct {
	Name   string                `yaml:"name"`
	Params protocol.RenderParams `yaml:",inline"`
}

// Label returns the name used in logs, events and output file names.
func (it Item) Label() string {
	if it.Name != "" {
		return it.Name
	}
	return it.Params.SrcMaterialName
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-supplied by design
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every item's merged parameters.
func (m *Manifest) Validate() error {
	if len(m.Items) == 0 {
		return errors.New("manifest has no items")
	}
	var problems []string
	seen := make(map[string]bool, len(m.Items))
	for i, it := range m.Items {
		label := it.Label()
		if label != "" && seen[label] {
			problems = append(problems, fmt.Sprintf("item %d: duplicate name %q", i, label))
		}
		seen[label] = true
		if err := Merge(m.Defaults, it.Params).Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("item %d (%s): %v", i, label, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid manifest: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Merge overlays the set fields of item onto defaults.
func Merge(defaults, item protocol.RenderParams) protocol.RenderParams {
	out := defaults
	setString(&out.MaterialSource, item.MaterialSource)
	setString(&out.SrcMaterialName, item.SrcMaterialName)
	setString(&out.RenderOutputPath, item.RenderOutputPath)
	setFloat(&out.DispScale, item.DispScale)
	setFloat(&out.DispMidlevel, item.DispMidlevel)
	setFloat(&out.SizeFactor, item.SizeFactor)
	setFloat(&out.TimeLimitFactor, item.TimeLimitFactor)
	setFloat(&out.FilmExposure, item.FilmExposure)
	setFloat(&out.PanoramaStrength, item.PanoramaStrength)
	if item.DispMethod != "" {
		out.DispMethod = item.DispMethod
	}
	if item.Shape != "" {
		out.Shape = item.Shape
	}
	if item.RenderEngine != "" {
		out.RenderEngine = item.RenderEngine
	}
	if item.RenderAs != "" {
		out.RenderAs = item.RenderAs
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}
