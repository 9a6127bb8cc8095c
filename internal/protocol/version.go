package protocol

// Game version this server speaks, reported in the status response and the
// Config-phase known packs.
const (
	VersionName     = "1.21.5"
	ProtocolVersion = 770
)
