// Package appversion reports the wzrd build version.
package appversion

import "runtime/debug"

// version is set at build time via -ldflags "-X wzrd/internal/appversion.version=...".
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the linker-stamped version, falling back to the module
// version recorded by `go install`, then "dev".
func String() string {
	if version != "dev" {
		return version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return version
}
