// Package keystore holds the server's asymmetric keypair for the lifetime
// of the process and implements the login-phase crypto handshake: issuing
// the encryption request, recovering the client's shared secret, and
// producing the session-authentication digest.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/packets"
)

// Key size expected by the client. Larger keys are rejected during the
// handshake, so this is part of the wire contract rather than a tunable.
const rsaKeyBits = 1024

// VerifyTokenLen is the number of random bytes issued with each encryption
// request to defeat handshake replay.
const VerifyTokenLen = 4

var ErrVerifyTokenMismatch = errors.New("verify token returned by client does not match issued token")

// KeyStore is shared read-only across all sessions.
type KeyStore struct {
	key       *rsa.PrivateKey
	publicDER []byte
}

// New generates the server keypair. Called once at startup.
func New() (*KeyStore, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating server keypair: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding server public key: %w", err)
	}

	return &KeyStore{key: key, publicDER: publicDER}, nil
}

// NewVerifyToken draws the per-login random verify token.
func NewVerifyToken() ([]byte, error) {
	token := make([]byte, VerifyTokenLen)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("generating verify token: %w", err)
	}
	return token, nil
}

// EncryptionRequest builds the packet offering this server's public key and
// the given verify token to a client.
func (ks *KeyStore) EncryptionRequest(serverID string, verifyToken []byte, shouldAuth bool) *packets.EncryptionRequest {
	return &packets.EncryptionRequest{
		ServerID:    serverID,
		PublicKey:   ks.publicDER,
		VerifyToken: verifyToken,
		ShouldAuth:  shouldAuth,
	}
}

// Decrypt recovers plaintext the client encrypted with the server's public
// key (the shared secret and echoed verify token).
func (ks *KeyStore) Decrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, ks.key, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypting handshake payload: %w", err)
	}
	return plaintext, nil
}

// VerifyToken checks the token echoed by the client against the issued one.
// A mismatch fails the handshake closed; this is the anti-replay check and
// must not be skipped.
func (ks *KeyStore) VerifyToken(issued, echoedCiphertext []byte) error {
	echoed, err := ks.Decrypt(echoedCiphertext)
	if err != nil {
		return err
	}
	if len(echoed) != len(issued) {
		return ErrVerifyTokenMismatch
	}
	for i := range issued {
		if issued[i] != echoed[i] {
			return ErrVerifyTokenMismatch
		}
	}
	return nil
}

// SessionHash computes the session-authentication digest handed to the
// identity-verification service: SHA-1 over serverID, shared secret and the
// server's public key, rendered as a signed two's-complement hex string.
func (ks *KeyStore) SessionHash(serverID string, sharedSecret []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(sharedSecret)
	h.Write(ks.publicDER)
	return minecraftDigest(h.Sum(nil))
}

// minecraftDigest renders a SHA-1 sum the way the client does: as a signed,
// minimal two's-complement big integer in lowercase hex.
func minecraftDigest(sum []byte) string {
	n := new(big.Int).SetBytes(sum)
	if sum[0]&0x80 != 0 {
		// Negative: value is -(2^160 - n).
		m := new(big.Int).Lsh(big.NewInt(1), uint(len(sum)*8))
		n.Sub(n, m)
	}
	return fmt.Sprintf("%x", n)
}
