package protocol

// Directory and path constants used throughout wzrd.
const (
	// WzrdDir is the user-level state directory (e.g., ~/.wzrd).
	WzrdDir = ".wzrd"

	// PortsDir holds advertisement files, one per cross-application connector.
	PortsDir = "ports"

	// AdvertisementFile is the file the creative-suite connector reads to
	// discover the host's listening port.
	AdvertisementFile = "blender_mset.prt"

	// LoopbackHost is the only interface any listener in this module binds.
	LoopbackHost = "127.0.0.1"
)

// Tagged frame layout.
const (
	// MagicSize is the length of the tagged frame magic marker.
	MagicSize = 3

	// TaggedHeaderSize is MAGIC(3) + CMD(2) + PAYLOAD_LENGTH(4).
	TaggedHeaderSize = MagicSize + 2 + 4

	// LengthPrefixSize is the uint32 length prefix of a simple frame.
	LengthPrefixSize = 4
)

// Magic is the marker that opens every tagged frame. Both peers must agree
// on it; a mismatch means the stream lost frame alignment.
var Magic = [MagicSize]byte{'S', 'E', 'X'} //nolint:gochecknoglobals // fixed wire constant

// Progress protocol opcodes. Each is exactly three ASCII bytes.
const (
	OpUpdate = "UPD"
	OpDie    = "DIE"

	// OpSize is the width of a progress opcode on the wire.
	OpSize = 3

	// UpdateHeaderSize is IDX(2) + FRACTION(8) + MSG_LENGTH(4), following the opcode.
	UpdateHeaderSize = 2 + 8 + 4
)

// FailureMarker prefixes a render_output payload that reports a recoverable
// render failure. The remainder of the payload is the reason.
const FailureMarker = "$fail:"
