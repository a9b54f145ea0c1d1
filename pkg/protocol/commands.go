package protocol

import "fmt"

// Command is the numeric id carried by a tagged frame.
type Command uint16

// Command table. Both ends of a tagged channel are built against this exact
// table; there is no negotiation, so ids must never be renumbered.
const (
	CmdGetParams      Command = 0
	CmdRenderOut      Command = 1
	CmdEnd            Command = 2
	CmdPeek           Command = 3
	CmdItemRenderDone Command = 4
	CmdDoRender       Command = 5
	CmdRenderOutput   Command = 6
	CmdEndSession     Command = 7
)

var commandNames = [...]string{ //nolint:gochecknoglobals // build-time command table
	CmdGetParams:      "get_params",
	CmdRenderOut:      "render_out",
	CmdEnd:            "end",
	CmdPeek:           "peek",
	CmdItemRenderDone: "item_render_done",
	CmdDoRender:       "do_render",
	CmdRenderOutput:   "render_output",
	CmdEndSession:     "end_session",
}

var commandIDs = func() map[string]Command { //nolint:gochecknoglobals // reverse of commandNames
	m := make(map[string]Command, len(commandNames))
	for id, name := range commandNames {
		m[name] = Command(id)
	}
	return m
}()

// Valid reports whether c has an entry in the command table.
func (c Command) Valid() bool {
	return int(c) < len(commandNames)
}

// String returns the table name of c, or "cmd(<id>)" for ids outside the table.
func (c Command) String() string {
	if !c.Valid() {
		return fmt.Sprintf("cmd(%d)", uint16(c))
	}
	return commandNames[c]
}

// LookupCommand resolves a command name to its id.
func LookupCommand(name string) (Command, error) {
	id, ok := commandIDs[name]
	if !ok {
		return 0, &UnknownCommandError{Name: name}
	}
	return id, nil
}

// Commands returns every command in id order.
func Commands() []Command {
	out := make([]Command, len(commandNames))
	for i := range commandNames {
		out[i] = Command(i)
	}
	return out
}
