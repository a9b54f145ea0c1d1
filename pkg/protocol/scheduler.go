package protocol

import "encoding/json"

// Scheduler commands understood by the creative-suite connector.
const (
	SchedSkip           = "skip"
	SchedCreateMaterial = "create_material"
	SchedSetMaskFill    = "set_mask_fill"
)

// SchedulerCommand is the payload the connector listener hands to the next
// peer that dials in. Data is opaque to this layer.
type SchedulerCommand struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

// SkipCommand returns the no-op command delivered when nothing is scheduled.
func SkipCommand() SchedulerCommand {
	return SchedulerCommand{Cmd: SchedSkip, Data: json.RawMessage("null")}
}

// NewSchedulerCommand marshals data into a SchedulerCommand.
func NewSchedulerCommand(cmd string, data any) (SchedulerCommand, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return SchedulerCommand{}, &MalformedPayloadError{Err: err}
	}
	return SchedulerCommand{Cmd: cmd, Data: raw}, nil
}

// Reply statuses sent back by the connector peer.
const (
	ReplyOK      = "ok"
	ReplyError   = "error"
	ReplyUnknown = "unknown"
)

// Reply is the single response a connector peer sends per connection.
type Reply struct {
	Status string `json:"status"`
	Info   string `json:"info"`
}

// MaterialMaps names texture map files by channel (albedo, normal, rough, ...).
type MaterialMaps map[string]string

// CreateMaterialData is the data of a create_material command.
type CreateMaterialData struct {
	Name string       `json:"name"`
	Mode string       `json:"mode,omitempty"`
	Maps MaterialMaps `json:"maps,omitempty"`
}

// MaskFillData is the data of a set_mask_fill command.
type MaskFillData struct {
	Albedo string `json:"albedo"`
}
