package proxy

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/go-test/deep"
	"github.com/google/uuid"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/packets"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
)

func signedPayload(t *testing.T, secret string, id uuid.UUID, name, addr string) []byte {
	t.Helper()

	var payload bytes.Buffer
	if err := protocol.WriteVarInt(&payload, 1); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteString(&payload, addr); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteUUID(&payload, id); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteString(&payload, name); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteVarInt(&payload, 0); err != nil {
		t.Fatal(err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload.Bytes())
	return append(mac.Sum(nil), payload.Bytes()...)
}

func TestVelocityVerify(t *testing.T) {
	const secret = "forwarding-secret"
	id := uuid.MustParse("853c80ef-3c37-49fd-aa49-938b674adae6")

	v := NewVelocity(secret)
	addr, p, err := v.Verify(&packets.LoginPluginResponse{
		MessageID:  0,
		Understood: true,
		Data:       signedPayload(t, secret, id, "Steve", "203.0.113.7:51234"),
	})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if addr != "203.0.113.7:51234" {
		t.Errorf("forwarded address = %q, want 203.0.113.7:51234", addr)
	}
	if diff := deep.Equal(p, &profile.GameProfile{ID: id, Name: "Steve", Properties: []profile.Property{}}); diff != nil {
		t.Errorf("profile mismatch: %v", diff)
	}
}

func TestVelocityVerifyFailures(t *testing.T) {
	id := uuid.New()

	tests := map[string]struct {
		resp      *packets.LoginPluginResponse
		wantedErr error
	}{
		"not_understood": {
			resp:      &packets.LoginPluginResponse{Understood: false},
			wantedErr: ErrVelocityNoResponse,
		},
		"too_short": {
			resp:      &packets.LoginPluginResponse{Understood: true, Data: []byte{1, 2, 3}},
			wantedErr: ErrVelocitySignature,
		},
		"wrong_secret": {
			resp: &packets.LoginPluginResponse{
				Understood: true,
				Data:       signedPayload(t, "other-secret", id, "Steve", "203.0.113.7"),
			},
			wantedErr: ErrVelocitySignature,
		},
		"bad_version": {
			resp: &packets.LoginPluginResponse{
				Understood: true,
				Data: func() []byte {
					var payload bytes.Buffer
					_ = protocol.WriteVarInt(&payload, 9)
					mac := hmac.New(sha256.New, []byte("forwarding-secret"))
					mac.Write(payload.Bytes())
					return append(mac.Sum(nil), payload.Bytes()...)
				}(),
			},
			wantedErr: ErrVelocityVersion,
		},
	}

	v := NewVelocity("forwarding-secret")
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := v.Verify(tt.resp); !errors.Is(err, tt.wantedErr) {
				t.Errorf("expected %v, got %v", tt.wantedErr, err)
			}
		})
	}
}

func TestDecodeBungeeCord(t *testing.T) {
	addr, p, err := DecodeBungeeCord(
		"play.example.com\x00203.0.113.7\x00853c80ef3c3749fdaa49938b674adae6\x00[]",
		"Steve",
	)
	if err != nil {
		t.Fatalf("DecodeBungeeCord returned error: %v", err)
	}
	if addr != "203.0.113.7" {
		t.Errorf("forwarded address = %q, want 203.0.113.7", addr)
	}
	if p.ID != uuid.MustParse("853c80ef-3c37-49fd-aa49-938b674adae6") {
		t.Errorf("uuid = %s, want 853c80ef-3c37-49fd-aa49-938b674adae6", p.ID)
	}
	if p.Name != "Steve" {
		t.Errorf("name = %q, want Steve", p.Name)
	}
}

func TestDecodeBungeeCordProperties(t *testing.T) {
	_, p, err := DecodeBungeeCord(
		"play.example.com\x00203.0.113.7\x00853c80ef3c3749fdaa49938b674adae6\x00"+
			`[{"name":"textures","value":"dGV4dHVyZXM=","signature":"c2ln"}]`,
		"Steve",
	)
	if err != nil {
		t.Fatalf("DecodeBungeeCord returned error: %v", err)
	}
	want := []profile.Property{{Name: "textures", Value: "dGV4dHVyZXM=", Signature: "c2ln"}}
	if diff := deep.Equal(p.Properties, want); diff != nil {
		t.Errorf("properties mismatch: %v", diff)
	}
}

func TestDecodeBungeeCordMalformed(t *testing.T) {
	tests := map[string]string{
		"no_forwarding":  "play.example.com",
		"two_segments":   "play.example.com\x00203.0.113.7",
		"bad_uuid":       "play.example.com\x00203.0.113.7\x00not-a-uuid",
		"empty_address":  "play.example.com\x00\x00853c80ef3c3749fdaa49938b674adae6",
		"bad_properties": "play.example.com\x00203.0.113.7\x00853c80ef3c3749fdaa49938b674adae6\x00{not json",
		"five_segments":  "a\x00b\x00c\x00d\x00e",
	}

	for name, serverAddress := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := DecodeBungeeCord(serverAddress, "Steve"); !errors.Is(err, ErrMalformedForwarding) {
				t.Errorf("expected ErrMalformedForwarding, got %v", err)
			}
		})
	}
}
