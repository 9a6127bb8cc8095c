// Package session implements the per-connection protocol actor: it owns both
// halves of the socket, drives the Handshake/Status/Login/Config/Play state
// machine, and hands a fully negotiated player off to the game server.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/auth"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/codec"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/core"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/keystore"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/packets"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/proxy"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/text"
)

// outboundQueueSize bounds the number of frames waiting for the write flow.
const outboundQueueSize = 128

// drainGrace is how long a closing session will spend flushing queued
// frames (disconnect messages in particular) to a client that may have
// stopped reading.
const drainGrace = 250 * time.Millisecond

// sendStallTimeout bounds how long an enqueue or flush rendezvous may wait
// on a client that stopped draining its socket. A variable so tests can
// shorten it.
var sendStallTimeout = 5 * time.Second

// errSendStalled reports that the client stopped draining its socket before
// the frame could be flushed. The session is already closing when a caller
// sees it.
var errSendStalled = errors.New("outbound queue stalled")

// GameServer is the collaborator surface the session engine consumes. The
// duplicate-login check is the only cross-session synchronization point and
// it lives entirely behind this interface.
type GameServer interface {
	// CanPlayerJoin asks whether a player with this name/uuid may join,
	// claiming the identity if so. The answer arrives on a single-use
	// channel so near-simultaneous logins serialize through one arbiter.
	CanPlayerJoin(name string, id uuid.UUID) <-chan bool
	// HasCapacity reports whether the live connected-player count is below
	// the configured maximum.
	HasCapacity() bool
	StatusJSON(protocolVersion int32) string
	Branding() string
	ServerLinks() []packets.ServerLink
	Tags() []byte
	// SessionReady fires once, when the session reaches Play, carrying the
	// finalized profile and negotiated client settings.
	SessionReady(s *Session, p *profile.GameProfile, info *packets.ClientInformation)
	// SessionClosed fires once, after both session flows have exited.
	SessionClosed(s *Session)
}

// PlayHandler receives decoded Play-phase frames. The session engine does
// not inspect their semantics; it only classifies returned errors.
type PlayHandler interface {
	HandlePacket(s *Session, pkt *protocol.RawPacket) error
}

// Deps carries the shared read-only collaborators every session needs.
type Deps struct {
	Config      *core.Config
	Logger      *logrus.Logger
	KeyStore    *keystore.KeyStore
	Auth        *auth.Client
	Velocity    *proxy.Velocity
	Server      GameServer
	PlayHandler PlayHandler
}

// outbound is one unit of work for the write flow: an optional frame body,
// an optional mode switch to apply after it, and an optional rendezvous.
type outbound struct {
	frame []byte
	after func()
	done  chan struct{}
}

// Session is the per-connection actor. The read flow owns the Decoder and
// all handler state; the write flow owns the Encoder; they share only the
// outbound queue and the atomic closed flag.
type Session struct {
	id   uint64
	conn net.Conn

	cfg         *core.Config
	keyStore    *keystore.KeyStore
	auth        *auth.Client
	velocity    *proxy.Velocity
	server      GameServer
	playHandler PlayHandler

	dec *codec.Decoder
	enc *codec.Encoder

	state  atomic.Int32
	queue  chan outbound
	closed atomic.Bool

	// logger is replaced, never mutated, so the write flow and cross-thread
	// kick callers may read it while login enriches it.
	logger atomic.Pointer[logrus.Entry]

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	dispatch map[protocol.State]map[int32]handlerFunc

	// Login/Config-phase state, only touched by the read flow.
	protocolVersion int32
	serverAddress   string
	statusSent      bool
	pendingName     string
	verifyToken     []byte
	velocityMsgID   int32
	forwardedAddr   string
	profile         *profile.GameProfile
	clientInfo      *packets.ClientInformation
}

type handlerFunc func(pkt *protocol.RawPacket) error

// New builds a session around an accepted connection. ctx is the server's
// shutdown context; canceling it closes the session.
func New(ctx context.Context, conn net.Conn, id uint64, deps *Deps) *Session {
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:          id,
		conn:        conn,
		cfg:         deps.Config,
		keyStore:    deps.KeyStore,
		auth:        deps.Auth,
		velocity:    deps.Velocity,
		server:      deps.Server,
		playHandler: deps.PlayHandler,
		dec:         codec.NewDecoder(conn),
		enc:         codec.NewEncoder(conn),
		queue:       make(chan outbound, outboundQueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.logger.Store(deps.Logger.WithFields(logrus.Fields{
		"session": id,
		"addr":    conn.RemoteAddr().String(),
	}))
	s.state.Store(int32(protocol.StateHandshake))
	s.dispatch = s.buildDispatch()
	return s
}

func (s *Session) ID() uint64 { return s.id }

// log returns the session's current log entry.
func (s *Session) log() *logrus.Entry { return s.logger.Load() }

// State returns the session's current protocol state.
func (s *Session) State() protocol.State {
	return protocol.State(s.state.Load())
}

func (s *Session) setState(state protocol.State) {
	s.state.Store(int32(state))
}

// Profile returns the finalized identity, or nil before Login completes.
func (s *Session) Profile() *profile.GameProfile { return s.profile }

// ClientInfo returns the settings negotiated during Config, or nil.
func (s *Session) ClientInfo() *packets.ClientInformation { return s.clientInfo }

// ClientAddr is the address the player is considered to connect from: the
// proxy-forwarded address when a trust adapter supplied one, otherwise the
// physical socket address.
func (s *Session) ClientAddr() string {
	if s.forwardedAddr != "" {
		return s.forwardedAddr
	}
	return s.conn.RemoteAddr().String()
}

// Run drives the session until the connection closes: the write flow drains
// the outbound queue while the read flow decodes and dispatches frames.
// It returns only after both flows have exited and the socket is released.
func (s *Session) Run() {
	s.wg.Add(2)
	go s.writeLoop()
	// Observe cancellation from the server's shutdown context as well as
	// our own Close.
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		s.Close()
	}()

	s.readLoop()

	s.Close()
	s.wg.Wait()
	_ = s.conn.Close()
	s.server.SessionClosed(s)
	s.log().Info("disconnected")
}

// Close is idempotent and safe to call from any flow. It marks the session
// closed, cancels every suspension point, and unblocks both socket
// directions; the socket itself is released by Run once both flows have
// joined.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.conn.SetReadDeadline(time.Now())
		_ = s.conn.SetWriteDeadline(time.Now())
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Kick sends the state-appropriate disconnect packet through the ordered
// outbound queue and then closes the session. Sessions in states with no
// disconnect packet are simply closed.
func (s *Session) Kick(reason text.Component) {
	if s.closed.Load() {
		return
	}
	s.log().WithField("reason", reason.Plain()).Info("kicked")

	var pkt packets.Clientbound
	switch s.State() {
	case protocol.StateLogin, protocol.StateTransfer:
		pkt = &packets.LoginDisconnect{ReasonJSON: reason.JSON()}
	case protocol.StateConfig:
		pkt = &packets.ConfigDisconnect{Reason: reason.JSON()}
	case protocol.StatePlay:
		pkt = &packets.PlayDisconnect{ReasonJSON: reason.JSON()}
	}
	if pkt != nil {
		_ = s.sendNow(pkt, nil)
	}
	s.Close()
}

// EnqueuePacket queues a clientbound packet for FIFO delivery. Callers never
// see write failures; a broken socket closes the session instead.
func (s *Session) EnqueuePacket(p packets.Clientbound) error {
	frame, err := packets.Body(p)
	if err != nil {
		return err
	}
	s.EnqueueFrame(frame)
	return nil
}

// EnqueueFrame queues a pre-encoded frame body (varint id + payload). A
// queue that stays full past the stall timeout closes the session.
func (s *Session) EnqueueFrame(frame []byte) {
	stall := time.NewTimer(sendStallTimeout)
	defer stall.Stop()

	select {
	case s.queue <- outbound{frame: frame}:
	case <-s.ctx.Done():
	case <-stall.C:
		s.Close()
	}
}

// SendNow queues a packet and waits until the write flow has put it on the
// wire, so the caller may change modes or state that must observe ordering.
func (s *Session) SendNow(p packets.Clientbound) error {
	return s.sendNow(p, nil)
}

// sendNow is SendNow with an optional mode switch the write flow applies
// between this frame and the next one.
func (s *Session) sendNow(p packets.Clientbound, after func()) error {
	frame, err := packets.Body(p)
	if err != nil {
		return err
	}
	return s.submit(outbound{frame: frame, after: after, done: make(chan struct{})})
}

// switchWriteMode runs fn on the write flow between two frames, without
// sending anything. Used to flip the encoder's cipher at a frame boundary.
func (s *Session) switchWriteMode(fn func()) error {
	return s.submit(outbound{after: fn, done: make(chan struct{})})
}

// submit hands a unit to the write flow and waits for its rendezvous. The
// wait is bounded: a client that stopped draining its socket stalls the
// write flow in Write, so the timer closes the session, which fails the
// blocked Write through its deadline.
func (s *Session) submit(out outbound) error {
	stall := time.NewTimer(sendStallTimeout)
	defer stall.Stop()

	select {
	case s.queue <- out:
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-stall.C:
		s.Close()
		return errSendStalled
	}
	select {
	case <-out.done:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-stall.C:
		s.Close()
		return errSendStalled
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.drainQueue()
			return
		case out := <-s.queue:
			if err := s.writeOut(out); err != nil {
				s.log().WithError(err).Debug("write failed")
				s.Close()
				return
			}
		}
	}
}

func (s *Session) writeOut(out outbound) error {
	if out.frame != nil {
		if err := s.enc.WritePacket(out.frame); err != nil {
			if out.done != nil {
				close(out.done)
			}
			return err
		}
	}
	if out.after != nil {
		out.after()
	}
	if out.done != nil {
		close(out.done)
	}
	return nil
}

// drainQueue flushes frames that were already queued when the session
// closed, bounded by a short write deadline so a client that stopped
// reading cannot stall shutdown.
func (s *Session) drainQueue() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(drainGrace))
	for {
		select {
		case out := <-s.queue:
			if err := s.writeOut(out); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) readLoop() {
	for {
		pkt, err := s.dec.ReadPacket()
		if err != nil {
			if !s.closed.Load() && !errors.Is(err, io.EOF) {
				s.log().WithError(err).Debug("read failed")
			}
			return
		}

		if s.cfg.Debugging.PacketLoggingEnabled {
			s.log().Debugf("received packet in %s state:\n%s", s.State(), spew.Sdump(pkt))
		}

		state := s.State()
		if state == protocol.StatePlay {
			if err := s.handlePlay(pkt); err != nil {
				s.Kick(kickReason(err))
				return
			}
			continue
		}

		handler, ok := s.dispatch[state][pkt.ID]
		if !ok {
			s.Kick(text.Literal(fmt.Sprintf("Unexpected packet id %#x in %s state", pkt.ID, state)))
			return
		}
		if err := handler(pkt); err != nil {
			if s.closed.Load() {
				return
			}
			s.Kick(kickReason(err))
			return
		}
	}
}

// handlePlay hands a decoded frame to the configured Play-phase handler.
// The handler's errors are classified: fatal ones kick the session, the
// rest are logged and the connection continues.
func (s *Session) handlePlay(pkt *protocol.RawPacket) error {
	if s.playHandler == nil {
		return nil
	}
	if err := s.playHandler.HandlePacket(s, pkt); err != nil {
		var f interface{ Fatal() bool }
		if errors.As(err, &f) && f.Fatal() {
			return err
		}
		s.log().WithError(err).Warn("play handler error")
	}
	return nil
}
