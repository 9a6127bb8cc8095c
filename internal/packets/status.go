package packets

import (
	"bytes"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// StatusResponse carries the server list JSON document.
type StatusResponse struct {
	JSON string
}

func (p *StatusResponse) ID() int32 { return protocol.ClientboundStatusResponse }

func (p *StatusResponse) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteString(&buf, p.JSON); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PingRequest echoes an arbitrary client timestamp.
type PingRequest struct {
	Payload int64
}

func (p *PingRequest) Unmarshal(payload []byte) error {
	var err error
	p.Payload, err = protocol.ReadInt64(bytes.NewReader(payload))
	return err
}

// PongResponse returns the ping payload untouched.
type PongResponse struct {
	Payload int64
}

func (p *PongResponse) ID() int32 { return protocol.ClientboundPongResponse }

func (p *PongResponse) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteInt64(&buf, p.Payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
