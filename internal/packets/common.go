// Package packets defines the typed wire structs exchanged during the
// connection handshake phases. Each clientbound packet knows its id and how
// to marshal its payload; each serverbound packet unmarshals from a decoded
// frame payload.
package packets

import (
	"bytes"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// Clientbound is a packet the server sends. Marshal produces only the
// payload; Body prepends the varint packet id to form the frame body handed
// to the codec.
type Clientbound interface {
	ID() int32
	Marshal() ([]byte, error)
}

// Body serializes a clientbound packet into a frame body (varint id
// followed by the payload), ready for the codec's compression/framing/
// encryption layers.
func Body(p Clientbound) ([]byte, error) {
	payload, err := p.Marshal()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(protocol.VarIntLen(p.ID()) + len(payload))
	if err := protocol.WriteVarInt(&buf, p.ID()); err != nil {
		return nil, err
	}
	if _, err := buf.Write(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
