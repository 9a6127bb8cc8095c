package packets

import (
	"bytes"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// Intention is the first packet of every connection. The ServerAddress may
// embed BungeeCord forwarding data as NUL-separated segments.
type Intention struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

func (p *Intention) Unmarshal(payload []byte) error {
	r := bytes.NewReader(payload)

	var err error
	if p.ProtocolVersion, err = protocol.ReadVarInt(r); err != nil {
		return err
	}
	if p.ServerAddress, err = protocol.ReadString(r); err != nil {
		return err
	}
	if p.ServerPort, err = protocol.ReadUint16(r); err != nil {
		return err
	}
	p.NextState, err = protocol.ReadVarInt(r)
	return err
}
