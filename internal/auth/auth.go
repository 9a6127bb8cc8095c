// Package auth implements the outbound identity-verification call made for
// direct (non-proxied) logins, plus validation of the signed profile
// properties the service returns.
package auth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/core"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrServiceUnavailable indicates the session server could not be
	// reached or answered with a server error.
	ErrServiceUnavailable = errors.New("authentication service unavailable")
	// ErrUnverifiedUsername indicates the service has no record of this
	// client joining, i.e. the client never authenticated.
	ErrUnverifiedUsername = errors.New("username could not be verified")
	// ErrBanned indicates the profile carries moderation actions and the
	// server does not admit such players.
	ErrBanned = errors.New("player profile carries moderation actions")
	// ErrDisallowedAction indicates the profile carries a moderation action
	// outside the configured allow list.
	ErrDisallowedAction = errors.New("player profile carries a disallowed moderation action")
	// ErrTextureSignature indicates a signed profile property failed
	// signature verification.
	ErrTextureSignature = errors.New("invalid texture property signature")
)

// Profiles are cached briefly so a client re-trying its login within the
// window does not trigger a second service round trip.
const profileCacheTTL = 30 * time.Second

// Client performs hasJoined lookups against a session server.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *logrus.Logger
	profiles       *cache.Cache
	allowBanned    bool
	allowedActions map[string]struct{}
	textureKey     *rsa.PublicKey
}

// NewClient builds an authentication client from the server config. The
// texture verification key is optional; without it signed properties are
// still required to parse but are not signature-checked.
func NewClient(cfg *core.Config, logger *logrus.Logger) (*Client, error) {
	allowed := make(map[string]struct{}, len(cfg.Auth.AllowedActions))
	for _, action := range cfg.Auth.AllowedActions {
		allowed[action] = struct{}{}
	}

	c := &Client{
		baseURL: cfg.Auth.SessionServerURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Auth.TimeoutSeconds) * time.Second,
		},
		logger:         logger,
		profiles:       cache.New(profileCacheTTL, 2*profileCacheTTL),
		allowBanned:    cfg.Auth.AllowBannedPlayers,
		allowedActions: allowed,
	}

	keyPEM, err := cfg.TextureKey()
	if err != nil {
		return nil, err
	}
	if keyPEM != nil {
		if c.textureKey, err = parsePublicKey(keyPEM); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func parsePublicKey(keyPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("texture key file does not contain a PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing texture key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("texture key is not an RSA public key")
	}
	return rsaKey, nil
}

// Authenticate verifies that the client owning username completed the
// encryption handshake with sessionHash, returning its trusted profile.
// Every failure is one of the typed errors above; none are retried here.
func (c *Client) Authenticate(ctx context.Context, username, sessionHash, ip string) (*profile.GameProfile, error) {
	cacheKey := username + "/" + sessionHash
	if cached, ok := c.profiles.Get(cacheKey); ok {
		return cached.(*profile.GameProfile), nil
	}

	p, err := c.hasJoined(ctx, username, sessionHash, ip)
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("session server verified %s as %s", username, p.ID)

	if err := c.checkProfileActions(p); err != nil {
		return nil, err
	}
	for i := range p.Properties {
		if err := c.ValidateTextures(&p.Properties[i]); err != nil {
			return nil, err
		}
	}

	c.profiles.SetDefault(cacheKey, p)
	return p, nil
}

func (c *Client) hasJoined(ctx context.Context, username, sessionHash, ip string) (*profile.GameProfile, error) {
	query := url.Values{}
	query.Set("username", username)
	query.Set("serverId", sessionHash)
	if ip != "" {
		query.Set("ip", ip)
	}
	endpoint := c.baseURL + "/session/minecraft/hasJoined?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, ErrUnverifiedUsername
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %s", ErrServiceUnavailable, err)
	}

	p := &profile.GameProfile{}
	if err := json.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %s", ErrServiceUnavailable, err)
	}
	if p.Name == "" {
		return nil, ErrUnverifiedUsername
	}
	return p, nil
}

// checkProfileActions applies the moderation policy: profiles carrying
// actions are rejected unless the server tolerates them, and even then only
// actions from the allow list.
func (c *Client) checkProfileActions(p *profile.GameProfile) error {
	if len(p.ProfileActions) == 0 {
		return nil
	}
	if !c.allowBanned {
		return ErrBanned
	}
	for _, action := range p.ProfileActions {
		if _, ok := c.allowedActions[action]; !ok {
			return ErrDisallowedAction
		}
	}
	return nil
}

// ValidateTextures verifies the signature over a signed profile property.
// An invalid signature is a hard failure; unsigned properties pass.
func (c *Client) ValidateTextures(prop *profile.Property) error {
	if prop.Signature == "" || c.textureKey == nil {
		return nil
	}

	signature, err := base64.StdEncoding.DecodeString(prop.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid base64", ErrTextureSignature)
	}

	digest := sha1.Sum([]byte(prop.Value))
	if err := rsa.VerifyPKCS1v15(c.textureKey, crypto.SHA1, digest[:], signature); err != nil {
		return fmt.Errorf("%w: %s", ErrTextureSignature, err)
	}
	return nil
}
