package session

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/auth"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/core"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/keystore"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/packets"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/proxy"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/text"
)

var (
	errServerFull      = errors.New("server is full")
	errInvalidUsername = errors.New("invalid username")
	errDuplicateLogin  = errors.New("player with this name or uuid is already connected")
	errUnexpectedReply = errors.New("unexpected handshake reply")
)

// velocityMessageIDs hands out process-unique ids for login plugin requests.
var velocityMessageIDs atomic.Int32

// kickReason maps a login-phase failure to the user-facing disconnect
// message, using the client's own translations where a key exists.
func kickReason(err error) text.Component {
	switch {
	case errors.Is(err, errServerFull):
		return text.Translate("multiplayer.disconnect.server_full")
	case errors.Is(err, errDuplicateLogin):
		return text.Translate("multiplayer.disconnect.duplicate_login")
	case errors.Is(err, errInvalidUsername):
		return text.Translate("multiplayer.disconnect.invalid_player_data")
	case errors.Is(err, auth.ErrUnverifiedUsername):
		return text.Translate("multiplayer.disconnect.unverified_username")
	case errors.Is(err, auth.ErrServiceUnavailable):
		return text.Translate("multiplayer.disconnect.authservers_down")
	case errors.Is(err, auth.ErrBanned), errors.Is(err, auth.ErrDisallowedAction):
		return text.Translate("multiplayer.disconnect.banned")
	case errors.Is(err, keystore.ErrVerifyTokenMismatch):
		return text.Literal("Verify token does not match")
	default:
		// A Caser is stateful, so each call builds its own.
		return text.Literal(cases.Title(language.English).String(err.Error()))
	}
}

// buildDispatch constructs the closed per-state packet tables once per
// session. An id absent from its state's table is a protocol violation.
func (s *Session) buildDispatch() map[protocol.State]map[int32]handlerFunc {
	login := map[int32]handlerFunc{
		protocol.ServerboundLoginStart:          s.handleLoginStart,
		protocol.ServerboundEncryptionResponse:  s.handleEncryptionResponse,
		protocol.ServerboundLoginPluginResponse: s.handleLoginPluginResponse,
		protocol.ServerboundLoginAcknowledged:   s.handleLoginAcknowledged,
		protocol.ServerboundLoginCookieResponse: s.handleLoginCookieResponse,
	}

	return map[protocol.State]map[int32]handlerFunc{
		protocol.StateHandshake: {
			protocol.ServerboundIntention: s.handleIntention,
		},
		protocol.StateStatus: {
			protocol.ServerboundStatusRequest: s.handleStatusRequest,
			protocol.ServerboundPingRequest:   s.handlePingRequest,
		},
		protocol.StateLogin: login,
		// A transferred client re-enters login under the same rules.
		protocol.StateTransfer: login,
		protocol.StateConfig: {
			protocol.ServerboundClientInformation:    s.handleClientInformation,
			protocol.ServerboundConfigCookieResponse: s.handleIgnored,
			protocol.ServerboundPluginMessage:        s.handleConfigPluginMessage,
			protocol.ServerboundFinishConfigAck:      s.handleFinishConfigAck,
			protocol.ServerboundConfigKeepAlive:      s.handleIgnored,
			protocol.ServerboundConfigPong:           s.handleIgnored,
			protocol.ServerboundResourcePackResult:   s.handleIgnored,
			protocol.ServerboundKnownPacks:           s.handleKnownPacks,
		},
	}
}

// handleIntention processes the first packet of every connection and moves
// the state machine to the requested successor. An out-of-range next-state
// closes the session without a state change.
func (s *Session) handleIntention(pkt *protocol.RawPacket) error {
	var in packets.Intention
	if err := in.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed handshake: %w", err)
	}

	s.protocolVersion = in.ProtocolVersion
	s.serverAddress = in.ServerAddress

	switch in.NextState {
	case protocol.IntentStatus:
		s.setState(protocol.StateStatus)
	case protocol.IntentLogin, protocol.IntentTransfer:
		if in.NextState == protocol.IntentTransfer {
			s.setState(protocol.StateTransfer)
		} else {
			s.setState(protocol.StateLogin)
		}
		// Reject at the door, before any login packet is read.
		if !s.server.HasCapacity() {
			return errServerFull
		}
	default:
		s.log().Debugf("rejected handshake with next_state %d", in.NextState)
		s.Close()
	}
	return nil
}

func (s *Session) handleStatusRequest(*protocol.RawPacket) error {
	// One status document per connection; a repeat is a protocol violation.
	if s.statusSent {
		return errors.New("repeated status request")
	}
	s.statusSent = true
	return s.SendNow(&packets.StatusResponse{
		JSON: s.server.StatusJSON(s.protocolVersion),
	})
}

// handlePingRequest echoes the payload and ends the status exchange; the
// connection is closed once the pong has been flushed.
func (s *Session) handlePingRequest(pkt *protocol.RawPacket) error {
	var ping packets.PingRequest
	if err := ping.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed ping: %w", err)
	}
	if err := s.SendNow(&packets.PongResponse{Payload: ping.Payload}); err != nil {
		return err
	}
	s.Close()
	return nil
}

// handleLoginStart validates the claimed username and branches on the trust
// mode: proxy forwarding, the encryption handshake, or offline synthesis.
func (s *Session) handleLoginStart(pkt *protocol.RawPacket) error {
	var start packets.LoginStart
	if err := start.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed login start: %w", err)
	}

	if !profile.ValidName(start.Name, s.cfg.StrictUsernames) {
		return fmt.Errorf("%w: %q", errInvalidUsername, start.Name)
	}
	s.pendingName = start.Name
	s.logger.Store(s.log().WithField("username", start.Name))

	switch s.cfg.ProxyMode() {
	case core.ProxyModeVelocity:
		s.velocityMsgID = velocityMessageIDs.Add(1)
		return s.sendNow(s.velocity.Query(s.velocityMsgID), nil)

	case core.ProxyModeBungeeCord:
		addr, p, err := proxy.DecodeBungeeCord(s.serverAddress, start.Name)
		if err != nil {
			return err
		}
		s.forwardedAddr = addr
		return s.finishLogin(p)

	default:
		if s.cfg.Compression.Enabled {
			if err := s.enableCompression(); err != nil {
				return err
			}
		}
		if s.cfg.Encryption {
			token, err := keystore.NewVerifyToken()
			if err != nil {
				return err
			}
			s.verifyToken = token
			return s.sendNow(s.keyStore.EncryptionRequest("", token, s.cfg.OnlineMode), nil)
		}
		return s.finishLogin(profile.Offline(start.Name))
	}
}

// handleEncryptionResponse completes the crypto handshake: verify-token
// check, shared-secret recovery, cipher installation on both directions at
// the same frame boundary, then authentication or offline synthesis.
func (s *Session) handleEncryptionResponse(pkt *protocol.RawPacket) error {
	if s.verifyToken == nil {
		return fmt.Errorf("%w: no encryption request issued", errUnexpectedReply)
	}

	var resp packets.EncryptionResponse
	if err := resp.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed encryption response: %w", err)
	}

	if err := s.keyStore.VerifyToken(s.verifyToken, resp.VerifyToken); err != nil {
		return err
	}
	secret, err := s.keyStore.Decrypt(resp.SharedSecret)
	if err != nil {
		return err
	}
	s.verifyToken = nil

	if err := s.dec.EnableEncryption(secret); err != nil {
		return err
	}
	var encErr error
	if err := s.switchWriteMode(func() {
		encErr = s.enc.EnableEncryption(secret)
	}); err != nil {
		return err
	}
	if encErr != nil {
		return encErr
	}

	if s.cfg.OnlineMode {
		hash := s.keyStore.SessionHash("", secret)
		p, err := s.auth.Authenticate(s.ctx, s.pendingName, hash, s.clientIP())
		if err != nil {
			return err
		}
		return s.finishLogin(p)
	}
	return s.finishLogin(profile.Offline(s.pendingName))
}

// handleLoginPluginResponse completes the Velocity forwarding exchange.
func (s *Session) handleLoginPluginResponse(pkt *protocol.RawPacket) error {
	var resp packets.LoginPluginResponse
	if err := resp.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed plugin response: %w", err)
	}
	if s.velocity == nil || resp.MessageID != s.velocityMsgID {
		return fmt.Errorf("%w: plugin response %d", errUnexpectedReply, resp.MessageID)
	}

	addr, p, err := s.velocity.Verify(&resp)
	if err != nil {
		return err
	}
	s.forwardedAddr = addr
	return s.finishLogin(p)
}

func (s *Session) handleLoginCookieResponse(pkt *protocol.RawPacket) error {
	var cookie packets.LoginCookieResponse
	if err := cookie.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed cookie response: %w", err)
	}
	s.log().Debugf("cookie response for %s", cookie.Key)
	return nil
}

// finishLogin runs the duplicate-login rendezvous and, if this session wins
// the claim, declares success. Exactly one GameProfile results per session.
func (s *Session) finishLogin(p *profile.GameProfile) error {
	select {
	case ok := <-s.server.CanPlayerJoin(p.Name, p.ID):
		if !ok {
			return errDuplicateLogin
		}
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	s.profile = p

	return s.sendNow(&packets.LoginSuccess{
		UUID:       p.ID,
		Username:   p.Name,
		Properties: p.Properties,
	}, nil)
}

// enableCompression announces the threshold and flips both directions. The
// announcement itself is the last packet sent uncompressed.
func (s *Session) enableCompression() error {
	threshold, level := s.cfg.Compression.Threshold, s.cfg.Compression.Level
	err := s.sendNow(&packets.SetCompression{Threshold: int32(threshold)}, func() {
		s.enc.EnableCompression(threshold, level)
	})
	if err != nil {
		return err
	}
	s.dec.EnableCompression()
	return nil
}

// handleLoginAcknowledged moves the session into Config and opens the
// configuration exchange.
func (s *Session) handleLoginAcknowledged(*protocol.RawPacket) error {
	if s.profile == nil {
		return fmt.Errorf("%w: login not complete", errUnexpectedReply)
	}
	s.setState(protocol.StateConfig)

	brand, err := packets.BrandMessage(s.server.Branding())
	if err != nil {
		return err
	}
	if err := s.SendNow(brand); err != nil {
		return err
	}
	return s.SendNow(&packets.KnownPacks{
		Packs: []packets.KnownPack{
			{Namespace: "minecraft", ID: "core", Version: protocol.VersionName},
		},
	})
}

// handleKnownPacks sends the remaining configuration data once the client
// has agreed on pack versions, then asks it to finish.
func (s *Session) handleKnownPacks(pkt *protocol.RawPacket) error {
	var packs packets.KnownPacks
	if err := packs.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed known packs: %w", err)
	}

	if tags := s.server.Tags(); tags != nil {
		if err := s.SendNow(&packets.UpdateTags{Payload: tags}); err != nil {
			return err
		}
	}
	if links := s.server.ServerLinks(); len(links) > 0 {
		if err := s.SendNow(&packets.ServerLinks{Links: links}); err != nil {
			return err
		}
	}
	return s.SendNow(&packets.FinishConfig{})
}

func (s *Session) handleClientInformation(pkt *protocol.RawPacket) error {
	var info packets.ClientInformation
	if err := info.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed client information: %w", err)
	}
	s.clientInfo = &info
	return nil
}

func (s *Session) handleConfigPluginMessage(pkt *protocol.RawPacket) error {
	var msg packets.PluginMessage
	if err := msg.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("malformed plugin message: %w", err)
	}
	s.log().Debugf("plugin message on %s", msg.Channel)
	return nil
}

// handleFinishConfigAck completes the negotiation: the session enters Play
// and the game server takes over with the finalized profile and settings.
func (s *Session) handleFinishConfigAck(*protocol.RawPacket) error {
	s.setState(protocol.StatePlay)
	s.log().Info("login complete")
	s.server.SessionReady(s, s.profile, s.clientInfo)
	return nil
}

func (s *Session) handleIgnored(*protocol.RawPacket) error { return nil }

// clientIP is the host half of the address handed to the identity service.
func (s *Session) clientIP() string {
	host, _, err := net.SplitHostPort(s.ClientAddr())
	if err != nil {
		return s.ClientAddr()
	}
	return host
}
