package protocol

// State represents the phase of the connection protocol a session is in.
// Transitions are strictly forward: Handshake selects Status, Login or
// Transfer; Login and Transfer proceed to Config; Config proceeds to Play.
type State int32

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StateTransfer
	StateConfig
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateStatus:
		return "Status"
	case StateLogin:
		return "Login"
	case StateTransfer:
		return "Transfer"
	case StateConfig:
		return "Config"
	case StatePlay:
		return "Play"
	}
	return "Unknown"
}

// Handshake intent selectors sent by the client.
const (
	IntentStatus   int32 = 1
	IntentLogin    int32 = 2
	IntentTransfer int32 = 3
)

// RawPacket is one decoded frame: the declared packet id and its payload,
// post-framing/compression/encryption. Its meaning is scoped by the
// session's current State.
type RawPacket struct {
	ID      int32
	Payload []byte
}
