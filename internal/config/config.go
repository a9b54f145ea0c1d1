package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"wzrd/pkg/frame"
	"wzrd/pkg/protocol"
)

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the contents of config.toml.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Renderer  RendererConfig  `toml:"renderer"`
	Display   DisplayConfig   `toml:"display"`
	Connector ConnectorConfig `toml:"connector"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // auto | text | json
	File   bool   `toml:"file"`   // also write to <home>/logs/wzrd.log
}

// RendererConfig describes the renderer child. An empty Executable means
// the running wzrd binary's own render-worker subcommand.
type RendererConfig struct {
	Executable    string            `toml:"executable"`
	Args          []string          `toml:"args"`
	Scenes        map[string]string `toml:"scenes"`
	InitScript    string            `toml:"init_script"`
	Script        string            `toml:"script"`
	AcceptTimeout Duration          `toml:"accept_timeout"`
	RenderTimeout Duration          `toml:"render_timeout"`
	MaxFrame      uint32            `toml:"max_frame"`
}

// DisplayConfig describes the progress display child. An empty Executable
// means the running wzrd binary's own progress subcommand.
type DisplayConfig struct {
	Executable    string   `toml:"executable"`
	Args          []string `toml:"args"`
	AcceptTimeout Duration `toml:"accept_timeout"`
	Disabled      bool     `toml:"disabled"`
}

// ConnectorConfig tunes the service listener.
type ConnectorConfig struct {
	IOTimeout Duration `toml:"io_timeout"`
	MaxFrame  uint32   `toml:"max_frame"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Renderer: RendererConfig{
			Args:          []string{"render-worker", "--port", "{port}"},
			AcceptTimeout: Duration(60 * time.Second),
			MaxFrame:      frame.DefaultMaxPayload,
		},
		Display: DisplayConfig{
			Args:          []string{"progress", "--port", "{port}"},
			AcceptTimeout: Duration(30 * time.Second),
		},
		Connector: ConnectorConfig{
			IOTimeout: Duration(30 * time.Second),
			MaxFrame:  frame.DefaultMaxPayload,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // config path is controlled by the user
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the rest of wzrd cannot act on.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of auto, text, json", c.Log.Format)
	}
	for shape := range c.Renderer.Scenes {
		if !protocol.Shape(shape).Valid() {
			return fmt.Errorf("renderer.scenes: unknown shape %q", shape)
		}
	}
	if c.Renderer.AcceptTimeout < 0 || c.Renderer.RenderTimeout < 0 || c.Display.AcceptTimeout < 0 || c.Connector.IOTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// SceneMap returns the per-shape scene files keyed by protocol.Shape.
func (r RendererConfig) SceneMap() map[protocol.Shape]string {
	out := make(map[protocol.Shape]string, len(r.Scenes))
	for k, v := range r.Scenes {
		out[protocol.Shape(k)] = v
	}
	return out
}

// Encode renders c as TOML, for `wzrd status --config`.
func (c Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
