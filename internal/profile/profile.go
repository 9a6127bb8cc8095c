// Package profile defines the player identity produced exactly once per
// session by authentication, a proxy trust adapter, or offline synthesis.
package profile

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// Property is a signed key/value pair attached to a game profile, most
// commonly the "textures" blob issued by the session server.
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// GameProfile is a player's verified identity. Immutable once the session's
// Login phase completes.
type GameProfile struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Properties     []Property `json:"properties"`
	ProfileActions []string   `json:"profileActions,omitempty"`
}

// Offline returns a profile whose UUID is derived deterministically from the
// username, for servers that skip identity verification.
func Offline(name string) *GameProfile {
	return &GameProfile{
		ID:   OfflineUUID(name),
		Name: name,
	}
}

// OfflineUUID derives the well-known offline UUID for a username: a v3-style
// (MD5) UUID over the literal string "OfflinePlayer:<name>". Every server
// implementation derives the same id for the same name.
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	var id uuid.UUID
	copy(id[:], sum[:])
	id[6] = (id[6] & 0x0F) | 0x30 // version 3
	id[8] = (id[8] & 0x3F) | 0x80 // RFC 4122 variant
	return id
}

// ValidName reports whether name satisfies the wire contract for usernames:
// 3-16 characters drawn from [A-Za-z0-9_]. When strict is false only the
// length bounds are enforced.
func ValidName(name string, strict bool) bool {
	if len(name) < 3 || len(name) > 16 {
		return false
	}
	if !strict {
		return true
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}
