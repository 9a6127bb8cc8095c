package proxy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedForwarding indicates the handshake's virtual host field did
// not carry well-formed BungeeCord forwarding segments. Fatal.
var ErrMalformedForwarding = errors.New("malformed bungeecord forwarding data")

// DecodeBungeeCord extracts the forwarded identity a BungeeCord proxy
// embeds in the handshake's server-address field as NUL-separated segments:
// virtual host, real client address, undashed UUID, and optionally a
// properties JSON array. This happens before any cryptographic handshake.
func DecodeBungeeCord(serverAddress, username string) (string, *profile.GameProfile, error) {
	parts := strings.Split(serverAddress, "\x00")
	if len(parts) != 3 && len(parts) != 4 {
		return "", nil, fmt.Errorf("%w: got %d segments", ErrMalformedForwarding, len(parts))
	}

	forwardedAddr := parts[1]
	if forwardedAddr == "" {
		return "", nil, fmt.Errorf("%w: empty forwarded address", ErrMalformedForwarding)
	}

	id, err := uuid.Parse(parts[2])
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad uuid segment: %s", ErrMalformedForwarding, err)
	}

	var properties []profile.Property
	if len(parts) == 4 {
		if err := json.UnmarshalFromString(parts[3], &properties); err != nil {
			return "", nil, fmt.Errorf("%w: bad properties segment: %s", ErrMalformedForwarding, err)
		}
	}

	return forwardedAddr, &profile.GameProfile{
		ID:         id,
		Name:       username,
		Properties: properties,
	}, nil
}
