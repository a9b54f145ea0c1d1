package renderer

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"wzrd/pkg/eventlog"
	"wzrd/pkg/procs"
	"wzrd/pkg/protocol"
)

// DefaultAcceptTimeout bounds how long Open waits for the child to dial back.
const DefaultAcceptTimeout = 60 * time.Second

// PortPlaceholder is replaced by the callback port in the init script.
const PortPlaceholder = "TARGET_PORT"

// Argument template placeholders.
const (
	ArgPort   = "{port}"
	ArgScene  = "{scene}"
	ArgInit   = "{init}"
	ArgScript = "{script}"
)

// Config describes how to launch and talk to one renderer child.
type Config struct {
	// Executable and Args form the child command line. Args may contain the
	// {port}, {scene}, {init} and {script} placeholders.
	Executable string
	Args       []string
	Env        []string

	// Scenes maps each preview shape to its scene template.
	Scenes map[protocol.Shape]string
	Shape  protocol.Shape

	// InitScript is a multi-line script flattened into one {init} argument.
	InitScript string
	// Script is the worker entry point passed as {script}.
	Script string

	AcceptTimeout time.Duration
	// RenderTimeout bounds one Render call. Zero means unbounded.
	RenderTimeout time.Duration
	// MaxPayload caps frame size; zero means frame.DefaultMaxPayload.
	MaxPayload uint32

	Procs  *procs.Manager
	Events eventlog.Recorder
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.AcceptTimeout == 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	if c.Shape == "" {
		c.Shape = protocol.ShapeSphere
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Procs == nil {
		c.Procs = procs.NewManager("", c.Logger)
	}
	if c.Events == nil {
		c.Events = eventlog.Discard{}
	}
	return c
}

// InitExpr substitutes port into script and joins its non-blank lines with
// "; " so the whole script fits in one command-line argument.
func InitExpr(script string, port int) string {
	script = strings.ReplaceAll(script, PortPlaceholder, strconv.Itoa(port))
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(script), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "; ")
}

// ExpandArgs fills the placeholders in args.
func (c Config) ExpandArgs(port int) []string {
	r := strings.NewReplacer(
		ArgPort, strconv.Itoa(port),
		ArgScene, c.Scenes[c.Shape],
		ArgInit, InitExpr(c.InitScript, port),
		ArgScript, c.Script,
	)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = r.Replace(a)
	}
	return out
}
