package packets

import (
	"bytes"
	"fmt"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// ClientInformation carries the client settings negotiated during the
// Config phase and handed to the player constructor on completion.
type ClientInformation struct {
	Locale              string
	ViewDistance        byte
	ChatMode            int32
	ChatColors          bool
	SkinParts           byte
	MainHand            int32
	TextFiltering       bool
	AllowServerListings bool
}

func (p *ClientInformation) Unmarshal(payload []byte) error {
	r := bytes.NewReader(payload)

	var err error
	if p.Locale, err = protocol.ReadString(r); err != nil {
		return err
	}
	if p.ViewDistance, err = r.ReadByte(); err != nil {
		return err
	}
	if p.ChatMode, err = protocol.ReadVarInt(r); err != nil {
		return err
	}
	if p.ChatColors, err = protocol.ReadBool(r); err != nil {
		return err
	}
	if p.SkinParts, err = r.ReadByte(); err != nil {
		return err
	}
	if p.MainHand, err = protocol.ReadVarInt(r); err != nil {
		return err
	}
	if p.TextFiltering, err = protocol.ReadBool(r); err != nil {
		return err
	}
	p.AllowServerListings, err = protocol.ReadBool(r)
	return err
}

// PluginMessage is a config-phase channel message in either direction. The
// server uses the minecraft:brand channel to announce itself; the client
// reports its brand the same way.
type PluginMessage struct {
	Channel string
	Data    []byte
}

func (p *PluginMessage) ID() int32 { return protocol.ClientboundConfigPluginMessage }

func (p *PluginMessage) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteString(&buf, p.Channel); err != nil {
		return nil, err
	}
	if _, err := buf.Write(p.Data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *PluginMessage) Unmarshal(payload []byte) error {
	r := bytes.NewReader(payload)

	var err error
	if p.Channel, err = protocol.ReadString(r); err != nil {
		return err
	}
	p.Data = make([]byte, r.Len())
	copy(p.Data, payload[len(payload)-r.Len():])
	return nil
}

// BrandMessage builds the server brand announcement.
func BrandMessage(brand string) (*PluginMessage, error) {
	var buf bytes.Buffer
	if err := protocol.WriteString(&buf, brand); err != nil {
		return nil, err
	}
	return &PluginMessage{Channel: "minecraft:brand", Data: buf.Bytes()}, nil
}

// ConfigDisconnect carries a plain-text reason during the Config phase.
type ConfigDisconnect struct {
	Reason string
}

func (p *ConfigDisconnect) ID() int32 { return protocol.ClientboundConfigDisconnect }

func (p *ConfigDisconnect) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteString(&buf, p.Reason); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FinishConfig tells the client configuration is complete; the client
// acknowledges with the serverbound counterpart.
type FinishConfig struct{}

func (p *FinishConfig) ID() int32 { return protocol.ClientboundFinishConfig }

func (p *FinishConfig) Marshal() ([]byte, error) { return nil, nil }

// ServerLink is one labeled URL advertised to the client.
type ServerLink struct {
	Label string
	URL   string
}

// ServerLinks advertises a list of labeled URLs.
type ServerLinks struct {
	Links []ServerLink
}

func (p *ServerLinks) ID() int32 { return protocol.ClientboundServerLinks }

func (p *ServerLinks) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteVarInt(&buf, int32(len(p.Links))); err != nil {
		return nil, err
	}
	for _, link := range p.Links {
		// Custom label form: false followed by a text component.
		if err := protocol.WriteBool(&buf, false); err != nil {
			return nil, err
		}
		if err := protocol.WriteString(&buf, link.Label); err != nil {
			return nil, err
		}
		if err := protocol.WriteString(&buf, link.URL); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UpdateTags ships the opaque registry tag payload provided by the game
// server; the session engine does not inspect it.
type UpdateTags struct {
	Payload []byte
}

func (p *UpdateTags) ID() int32 { return protocol.ClientboundUpdateTags }

func (p *UpdateTags) Marshal() ([]byte, error) { return p.Payload, nil }

// KnownPack identifies one data pack version shared with the client.
type KnownPack struct {
	Namespace string
	ID        string
	Version   string
}

// KnownPacks lists the data packs the server will reference.
type KnownPacks struct {
	Packs []KnownPack
}

func (p *KnownPacks) ID() int32 { return protocol.ClientboundKnownPacks }

func (p *KnownPacks) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteVarInt(&buf, int32(len(p.Packs))); err != nil {
		return nil, err
	}
	for _, pack := range p.Packs {
		if err := protocol.WriteString(&buf, pack.Namespace); err != nil {
			return nil, err
		}
		if err := protocol.WriteString(&buf, pack.ID); err != nil {
			return nil, err
		}
		if err := protocol.WriteString(&buf, pack.Version); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (p *KnownPacks) Unmarshal(payload []byte) error {
	r := bytes.NewReader(payload)

	count, err := protocol.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("known pack count %d out of range", count)
	}
	p.Packs = make([]KnownPack, 0, count)
	for i := int32(0); i < count; i++ {
		var pack KnownPack
		if pack.Namespace, err = protocol.ReadString(r); err != nil {
			return err
		}
		if pack.ID, err = protocol.ReadString(r); err != nil {
			return err
		}
		if pack.Version, err = protocol.ReadString(r); err != nil {
			return err
		}
		p.Packs = append(p.Packs, pack)
	}
	return nil
}
