package protocol

// Event represents a row in the events SQLite table.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
	Item      string `json:"item"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// SessionRow represents a row in the sessions SQLite table.
type SessionRow struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // renderer | progress
	Port     int    `json:"port"`
	PID      int    `json:"pid"`
	Status   string `json:"status"` // open | closed | terminated | failed
	OpenedAt string `json:"opened_at"`
	ClosedAt string `json:"closed_at"`
}

// Event types written to the events table.
const (
	EvSessionOpen    = "session_open"
	EvSessionClose   = "session_close"
	EvRenderOK       = "render_ok"
	EvRenderFailed   = "render_failed"
	EvBatchCancelled = "batch_cancelled"
	EvBatchAborted   = "batch_aborted"
	EvConnectorReply = "connector_reply"
)
