package packets

import (
	"bytes"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// PlayDisconnect kicks a client that has completed configuration.
type PlayDisconnect struct {
	ReasonJSON string
}

func (p *PlayDisconnect) ID() int32 { return protocol.ClientboundPlayDisconnect }

func (p *PlayDisconnect) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteString(&buf, p.ReasonJSON); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
