// Package proxy implements the two trust adapters that derive a player's
// verified identity from a proxy's forwarding scheme instead of a direct
// cryptographic handshake. Exactly one adapter (or neither) is active per
// server instance; both bypass encryption and direct authentication.
package proxy

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/packets"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

// Channel the proxy answers forwarding queries on.
const velocityChannel = "velocity:player_info"

// Forwarding protocol versions this server understands.
const (
	velocityForwardingDefault     = 1
	velocityForwardingLazySession = 4
)

const velocitySignatureLen = sha256.Size

var (
	// ErrVelocitySignature indicates the response was not signed with the
	// shared secret. Fatal, never retried.
	ErrVelocitySignature = errors.New("velocity response signature does not match")
	// ErrVelocityNoResponse indicates the client did not understand the
	// forwarding query, i.e. there is no Velocity proxy in front of it.
	ErrVelocityNoResponse = errors.New("client did not answer the velocity forwarding query")
	// ErrVelocityVersion indicates the proxy speaks a forwarding version
	// this server does not.
	ErrVelocityVersion = errors.New("unsupported velocity forwarding version")
)

// Velocity verifies signed forwarding payloads with a shared secret.
type Velocity struct {
	secret []byte
}

func NewVelocity(secret string) *Velocity {
	return &Velocity{secret: []byte(secret)}
}

// Query builds the login-plugin request sent to the client (and answered by
// the proxy on its behalf) to obtain the forwarded identity.
func (v *Velocity) Query(messageID int32) *packets.LoginPluginRequest {
	return &packets.LoginPluginRequest{
		MessageID: messageID,
		Channel:   velocityChannel,
	}
}

// Verify authenticates a login-plugin response against the shared secret
// and parses the forwarded identity from the verified payload. The first 32
// bytes are an HMAC-SHA256 signature over the remainder.
func (v *Velocity) Verify(resp *packets.LoginPluginResponse) (string, *profile.GameProfile, error) {
	if !resp.Understood {
		return "", nil, ErrVelocityNoResponse
	}
	if len(resp.Data) < velocitySignatureLen {
		return "", nil, fmt.Errorf("%w: payload too short", ErrVelocitySignature)
	}

	signature := resp.Data[:velocitySignatureLen]
	payload := resp.Data[velocitySignatureLen:]

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return "", nil, ErrVelocitySignature
	}

	return parseForwardingPayload(payload)
}

func parseForwardingPayload(payload []byte) (string, *profile.GameProfile, error) {
	r := bytes.NewReader(payload)

	version, err := protocol.ReadVarInt(r)
	if err != nil {
		return "", nil, fmt.Errorf("reading forwarding version: %w", err)
	}
	if version < velocityForwardingDefault || version > velocityForwardingLazySession {
		return "", nil, fmt.Errorf("%w: %d", ErrVelocityVersion, version)
	}

	addr, err := protocol.ReadString(r)
	if err != nil {
		return "", nil, fmt.Errorf("reading forwarded address: %w", err)
	}

	id, err := protocol.ReadUUID(r)
	if err != nil {
		return "", nil, fmt.Errorf("reading forwarded uuid: %w", err)
	}
	name, err := protocol.ReadString(r)
	if err != nil {
		return "", nil, fmt.Errorf("reading forwarded username: %w", err)
	}

	count, err := protocol.ReadVarInt(r)
	if err != nil {
		return "", nil, fmt.Errorf("reading property count: %w", err)
	}
	if count < 0 {
		return "", nil, fmt.Errorf("property count %d out of range", count)
	}
	properties := make([]profile.Property, 0, count)
	for i := int32(0); i < count; i++ {
		var prop profile.Property
		if prop.Name, err = protocol.ReadString(r); err != nil {
			return "", nil, fmt.Errorf("reading property name: %w", err)
		}
		if prop.Value, err = protocol.ReadString(r); err != nil {
			return "", nil, fmt.Errorf("reading property value: %w", err)
		}
		signed, err := protocol.ReadBool(r)
		if err != nil {
			return "", nil, fmt.Errorf("reading property signed flag: %w", err)
		}
		if signed {
			if prop.Signature, err = protocol.ReadString(r); err != nil {
				return "", nil, fmt.Errorf("reading property signature: %w", err)
			}
		}
		properties = append(properties, prop)
	}

	return addr, &profile.GameProfile{ID: id, Name: name, Properties: properties}, nil
}
