package packets

import (
	"bytes"
	"io"

	"github.com/google/uuid"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// LoginStart opens the Login phase with the client's claimed identity.
type LoginStart struct {
	Name string
	UUID uuid.UUID
}

func (p *LoginStart) Unmarshal(payload []byte) error {
	r := bytes.NewReader(payload)

	var err error
	if p.Name, err = protocol.ReadString(r); err != nil {
		return err
	}
	p.UUID, err = protocol.ReadUUID(r)
	return err
}

// EncryptionRequest sends the server's public key and a random verify token.
type EncryptionRequest struct {
	ServerID    string
	PublicKey   []byte
	VerifyToken []byte
	ShouldAuth  bool
}

func (p *EncryptionRequest) ID() int32 { return protocol.ClientboundEncryptionRequest }

func (p *EncryptionRequest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteString(&buf, p.ServerID); err != nil {
		return nil, err
	}
	if err := protocol.WriteByteArray(&buf, p.PublicKey); err != nil {
		return nil, err
	}
	if err := protocol.WriteByteArray(&buf, p.VerifyToken); err != nil {
		return nil, err
	}
	if err := protocol.WriteBool(&buf, p.ShouldAuth); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncryptionResponse returns the shared secret and verify token, both
// encrypted with the server's public key.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (p *EncryptionResponse) Unmarshal(payload []byte) error {
	r := bytes.NewReader(payload)

	var err error
	if p.SharedSecret, err = protocol.ReadByteArray(r); err != nil {
		return err
	}
	p.VerifyToken, err = protocol.ReadByteArray(r)
	return err
}

// LoginSuccess finalizes the Login phase with the trusted game profile.
type LoginSuccess struct {
	UUID       uuid.UUID
	Username   string
	Properties []profile.Property
}

func (p *LoginSuccess) ID() int32 { return protocol.ClientboundLoginSuccess }

func (p *LoginSuccess) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteUUID(&buf, p.UUID); err != nil {
		return nil, err
	}
	if err := protocol.WriteString(&buf, p.Username); err != nil {
		return nil, err
	}
	if err := protocol.WriteVarInt(&buf, int32(len(p.Properties))); err != nil {
		return nil, err
	}
	for _, prop := range p.Properties {
		if err := protocol.WriteString(&buf, prop.Name); err != nil {
			return nil, err
		}
		if err := protocol.WriteString(&buf, prop.Value); err != nil {
			return nil, err
		}
		if err := protocol.WriteBool(&buf, prop.Signature != ""); err != nil {
			return nil, err
		}
		if prop.Signature != "" {
			if err := protocol.WriteString(&buf, prop.Signature); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// SetCompression announces the compression threshold. The packet itself is
// the last one sent uncompressed.
type SetCompression struct {
	Threshold int32
}

func (p *SetCompression) ID() int32 { return protocol.ClientboundSetCompression }

func (p *SetCompression) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteVarInt(&buf, p.Threshold); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoginDisconnect carries a JSON text component reason.
type LoginDisconnect struct {
	ReasonJSON string
}

func (p *LoginDisconnect) ID() int32 { return protocol.ClientboundLoginDisconnect }

func (p *LoginDisconnect) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteString(&buf, p.ReasonJSON); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoginPluginRequest opens a login-phase plugin channel exchange, used for
// Velocity's signed forwarding query.
type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

func (p *LoginPluginRequest) ID() int32 { return protocol.ClientboundLoginPluginRequest }

func (p *LoginPluginRequest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteVarInt(&buf, p.MessageID); err != nil {
		return nil, err
	}
	if err := protocol.WriteString(&buf, p.Channel); err != nil {
		return nil, err
	}
	if _, err := buf.Write(p.Data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoginPluginResponse answers a LoginPluginRequest. Data is only present
// when the client understood the channel.
type LoginPluginResponse struct {
	MessageID  int32
	Understood bool
	Data       []byte
}

func (p *LoginPluginResponse) Unmarshal(payload []byte) error {
	r := bytes.NewReader(payload)

	var err error
	if p.MessageID, err = protocol.ReadVarInt(r); err != nil {
		return err
	}
	if p.Understood, err = protocol.ReadBool(r); err != nil {
		return err
	}
	if p.Understood {
		p.Data, err = io.ReadAll(r)
	}
	return err
}

// LoginCookieResponse answers a login-phase cookie request. Currently only
// logged; plugins are the intended consumer.
type LoginCookieResponse struct {
	Key     string
	Payload []byte
}

func (p *LoginCookieResponse) Unmarshal(payload []byte) error {
	r := bytes.NewReader(payload)

	var err error
	if p.Key, err = protocol.ReadString(r); err != nil {
		return err
	}
	present, err := protocol.ReadBool(r)
	if err != nil || !present {
		return err
	}
	p.Payload, err = protocol.ReadByteArray(r)
	return err
}
