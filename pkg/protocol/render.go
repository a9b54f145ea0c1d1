package protocol

import (
	"bytes"
	"strings"
)

// RenderResult is the interpreted payload of a render_output frame.
// A failed render is reported here, not as an error: the batch keeps going.
type RenderResult struct {
	Failed bool
	Reason string
	Path   string // set when the render was saved to a path
	Image  []byte // set when the render was returned as bytes
}

// FailurePayload builds a render_output payload reporting a failed render.
func FailurePayload(reason string) []byte {
	return []byte(FailureMarker + reason)
}

// ParseFailure reports whether raw carries the failure marker and, if so,
// the reason after it.
func ParseFailure(raw []byte) (string, bool) {
	if !bytes.HasPrefix(raw, []byte(FailureMarker)) {
		return "", false
	}
	return string(raw[len(FailureMarker):]), true
}

// ParseRenderOutput interprets a render_output payload according to the
// render_as mode the render was requested with.
func ParseRenderOutput(as RenderAs, raw []byte) RenderResult {
	if reason, ok := ParseFailure(raw); ok {
		return RenderResult{Failed: true, Reason: reason}
	}
	if as == RenderAsBytes {
		return RenderResult{Image: raw}
	}
	return RenderResult{Path: strings.TrimSpace(string(raw))}
}
