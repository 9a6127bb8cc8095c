// Package server implements the game-server collaborator the session engine
// negotiates with: the player registry and duplicate-login arbiter, the
// capacity check, status document, Config-phase payloads, and the hooks that
// persist player records and expose established sessions to game logic.
package server

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/core"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/data"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/packets"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/session"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/text"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const brand = "pumpkin"

type joinRequest struct {
	name  string
	id    uuid.UUID
	reply chan bool
}

// Server is the session engine's collaborator. All join claims serialize
// through a single arbiter goroutine, which is the only cross-session
// synchronization point in the process.
type Server struct {
	cfg    *core.Config
	logger *logrus.Logger
	db     *gorm.DB

	joins    chan joinRequest
	quit     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	claims   map[uuid.UUID]string // uuid -> lowercased name
	names    map[string]uuid.UUID
	sessions map[uint64]*session.Session
}

// New builds the server and starts its join arbiter. db may be nil when
// player persistence is disabled (tests).
func New(cfg *core.Config, logger *logrus.Logger, db *gorm.DB) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		joins:    make(chan joinRequest),
		quit:     make(chan struct{}),
		claims:   make(map[uuid.UUID]string),
		names:    make(map[string]uuid.UUID),
		sessions: make(map[uint64]*session.Session),
	}
	go s.arbitrate()
	return s
}

// Close stops the join arbiter. Idempotent.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// arbitrate serializes join claims so that of any two near-simultaneous
// logins for the same identity, exactly one wins.
func (s *Server) arbitrate() {
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.joins:
			req.reply <- s.tryClaim(req.name, req.id)
		}
	}
}

func (s *Server) tryClaim(name string, id uuid.UUID) bool {
	lower := toLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.claims[id]; taken {
		return false
	}
	if _, taken := s.names[lower]; taken {
		return false
	}
	s.claims[id] = lower
	s.names[lower] = id
	return true
}

func (s *Server) releaseClaim(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lower, ok := s.claims[id]; ok {
		delete(s.claims, id)
		delete(s.names, lower)
	}
}

// CanPlayerJoin claims the identity for the asking session if no connected
// player holds it. The reply channel is buffered so the arbiter never
// blocks on a session that stopped waiting.
func (s *Server) CanPlayerJoin(name string, id uuid.UUID) <-chan bool {
	reply := make(chan bool, 1)
	select {
	case s.joins <- joinRequest{name: name, id: id, reply: reply}:
	case <-s.quit:
		reply <- false
	}
	return reply
}

// ConnectedCount is the number of identities currently claimed.
func (s *Server) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

// HasCapacity compares the live connected-player count against the
// configured maximum. Zero max_players disables the limit.
func (s *Server) HasCapacity() bool {
	if s.cfg.MaxPlayers == 0 {
		return true
	}
	return s.ConnectedCount() < s.cfg.MaxPlayers
}

// StatusJSON renders the server list document.
func (s *Server) StatusJSON(int32) string {
	var status struct {
		Version struct {
			Name     string `json:"name"`
			Protocol int32  `json:"protocol"`
		} `json:"version"`
		Players struct {
			Max    int `json:"max"`
			Online int `json:"online"`
		} `json:"players"`
		Description text.Component `json:"description"`
	}
	status.Version.Name = protocol.VersionName
	status.Version.Protocol = protocol.ProtocolVersion
	status.Players.Max = s.cfg.MaxPlayers
	status.Players.Online = s.ConnectedCount()
	status.Description = text.Literal(s.cfg.MOTD)

	out, err := json.MarshalToString(&status)
	if err != nil {
		return "{}"
	}
	return out
}

func (s *Server) Branding() string { return brand }

// ServerLinks returns the configured labeled URLs, sorted by label so the
// advertisement is stable across restarts.
func (s *Server) ServerLinks() []packets.ServerLink {
	if len(s.cfg.ServerLinks) == 0 {
		return nil
	}
	links := make([]packets.ServerLink, 0, len(s.cfg.ServerLinks))
	for label, url := range s.cfg.ServerLinks {
		links = append(links, packets.ServerLink{Label: label, URL: url})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Label < links[j].Label })
	return links
}

// Tags is the opaque registry tag payload for the Config phase. No tag
// registries are overridden, so the payload is an empty set.
func (s *Server) Tags() []byte { return []byte{0x00} }

// Register makes an accepted session addressable by id for EnqueuePacket
// and Kick callers.
func (s *Server) Register(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = sess
}

// SessionReady persists the player record and enforces the stored ban flag.
// Fires once per session, on reaching Play.
func (s *Server) SessionReady(sess *session.Session, p *profile.GameProfile, info *packets.ClientInformation) {
	entry := s.logger.WithFields(logrus.Fields{
		"session":  sess.ID(),
		"username": p.Name,
		"uuid":     p.ID,
	})

	if s.db != nil {
		record, err := data.UpsertPlayerRecord(s.db, p.ID.String(), p.Name, sess.ClientAddr())
		if err != nil {
			entry.WithError(err).Error("failed to persist player record")
		} else if record.Banned {
			sess.Kick(text.Translate("multiplayer.disconnect.banned"))
			return
		}
	}

	locale := ""
	if info != nil {
		locale = info.Locale
	}
	entry.WithField("locale", locale).Info("player joined")
}

// SessionClosed releases the session's join claim and registry slot.
func (s *Server) SessionClosed(sess *session.Session) {
	if p := sess.Profile(); p != nil {
		s.releaseClaim(p.ID)
	}
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
}

// EnqueuePacket pushes a pre-encoded frame body into an established
// session's outbound queue. Unknown session ids are ignored.
func (s *Server) EnqueuePacket(sessionID uint64, frame []byte) {
	if sess := s.lookup(sessionID); sess != nil {
		sess.EnqueueFrame(frame)
	}
}

// Kick disconnects an established session with a reason.
func (s *Server) Kick(sessionID uint64, reason text.Component) {
	if sess := s.lookup(sessionID); sess != nil {
		sess.Kick(reason)
	}
}

func (s *Server) lookup(sessionID uint64) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

// toLower is ASCII-only; usernames are drawn from [A-Za-z0-9_].
func toLower(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
