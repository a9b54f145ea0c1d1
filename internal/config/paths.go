// Package config resolves wzrd's state paths and loads config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"wzrd/pkg/protocol"
)

// Paths holds all resolved wzrd state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home       string // ~/.wzrd or WZRD_HOME
	PortFile   string // ports/blender_mset.prt or WZRD_PORT_FILE
	DBPath     string // events.db or WZRD_DB_PATH
	PIDPath    string // wzrd.pid or WZRD_PID_PATH
	ConfigPath string // config.toml or WZRD_CONFIG
	LogDir     string // logs (respects WZRD_HOME)
}

// ResolvePaths returns all wzrd paths, respecting env var overrides.
// Environment variables:
//   - WZRD_HOME: base directory for all wzrd state (default: ~/.wzrd)
//   - WZRD_PORT_FILE: connector advertisement file (default: $WZRD_HOME/ports/blender_mset.prt)
//   - WZRD_DB_PATH: event log database (default: $WZRD_HOME/events.db)
//   - WZRD_PID_PATH: serve PID file (default: $WZRD_HOME/wzrd.pid)
//   - WZRD_CONFIG: config file (default: $WZRD_HOME/config.toml)
//
// If WZRD_HOME is set, it becomes the base for all default paths.
// Specific env vars override both the default and the WZRD_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		Home:       home,
		PortFile:   resolvePathWithEnv("WZRD_PORT_FILE", home, filepath.Join(protocol.PortsDir, protocol.AdvertisementFile)),
		DBPath:     resolvePathWithEnv("WZRD_DB_PATH", home, "events.db"),
		PIDPath:    resolvePathWithEnv("WZRD_PID_PATH", home, "wzrd.pid"),
		ConfigPath: resolvePathWithEnv("WZRD_CONFIG", home, "config.toml"),
		LogDir:     filepath.Join(home, "logs"),
	}, nil
}

// resolveHome returns the wzrd home directory from WZRD_HOME or ~/.wzrd.
func resolveHome() (string, error) {
	if v := os.Getenv("WZRD_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.WzrdDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
