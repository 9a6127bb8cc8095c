package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/codec"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/core"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/keystore"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/packets"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/profile"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/protocol"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/text"
)

// fakeServer is a minimal GameServer that answers join claims immediately.
type fakeServer struct {
	mu         sync.Mutex
	full       bool
	claimed    map[string]bool
	ready      chan *profile.GameProfile
	closed     chan uint64
	links      []packets.ServerLink
	gatedJoins chan chan bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		claimed: make(map[string]bool),
		ready:   make(chan *profile.GameProfile, 4),
		closed:  make(chan uint64, 4),
	}
}

func (f *fakeServer) CanPlayerJoin(name string, id uuid.UUID) <-chan bool {
	reply := make(chan bool, 1)
	if f.gatedJoins != nil {
		// The test releases the reply, pausing the login right before the
		// duplicate check.
		f.gatedJoins <- reply
		return reply
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(name)
	if f.claimed[key] {
		reply <- false
	} else {
		f.claimed[key] = true
		reply <- true
	}
	return reply
}

func (f *fakeServer) HasCapacity() bool { return !f.full }

func (f *fakeServer) StatusJSON(int32) string {
	return `{"version":{"name":"1.21.5","protocol":770},"players":{"max":20,"online":0},"description":{"text":"test"}}`
}

func (f *fakeServer) Branding() string { return "pumpkin" }

func (f *fakeServer) ServerLinks() []packets.ServerLink { return f.links }

func (f *fakeServer) Tags() []byte { return []byte{0x00} }

func (f *fakeServer) SessionReady(s *Session, p *profile.GameProfile, info *packets.ClientInformation) {
	f.ready <- p
}

func (f *fakeServer) SessionClosed(s *Session) { f.closed <- s.ID() }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// startSession wires a session to one end of an in-memory pipe and runs it.
// The returned conn is the client's end.
func startSession(t *testing.T, cfg *core.Config, srv GameServer, id uint64) (net.Conn, *Session) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	require.NoError(t, clientConn.SetDeadline(time.Now().Add(5*time.Second)))

	ks, err := keystore.New()
	require.NoError(t, err)

	s := New(context.Background(), serverConn, id, &Deps{
		Config:   cfg,
		Logger:   quietLogger(),
		KeyStore: ks,
		Server:   srv,
	})
	go s.Run()
	return clientConn, s
}

func offlineConfig() *core.Config {
	cfg := &core.Config{MaxPlayers: 20, StrictUsernames: true}
	return cfg
}

func frameBody(t *testing.T, id int32, write func(*bytes.Buffer)) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteVarInt(&buf, id))
	if write != nil {
		write(&buf)
	}
	return buf.Bytes()
}

func handshakeBody(t *testing.T, next int32) []byte {
	return frameBody(t, protocol.ServerboundIntention, func(buf *bytes.Buffer) {
		require.NoError(t, protocol.WriteVarInt(buf, protocol.ProtocolVersion))
		require.NoError(t, protocol.WriteString(buf, "localhost"))
		require.NoError(t, protocol.WriteUint16(buf, 25565))
		require.NoError(t, protocol.WriteVarInt(buf, next))
	})
}

func loginStartBody(t *testing.T, name string) []byte {
	return frameBody(t, protocol.ServerboundLoginStart, func(buf *bytes.Buffer) {
		require.NoError(t, protocol.WriteString(buf, name))
		require.NoError(t, protocol.WriteUUID(buf, profile.OfflineUUID(name)))
	})
}

func TestHandshakeSelectsLogin(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, s := startSession(t, offlineConfig(), srv, 1)

	enc := codec.NewEncoder(conn)
	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentLogin)))

	require.Eventually(t, func() bool {
		return s.State() == protocol.StateLogin
	}, time.Second, time.Millisecond)

	conn.Close()
	<-srv.closed
}

func TestHandshakeOutOfRangeNextState(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, s := startSession(t, offlineConfig(), srv, 1)

	enc := codec.NewEncoder(conn)
	require.NoError(t, enc.WritePacket(handshakeBody(t, 9)))

	// The session closes without a state change or a disconnect packet.
	_, err := codec.NewDecoder(conn).ReadPacket()
	require.Error(t, err)

	<-srv.closed
	assert.Equal(t, protocol.StateHandshake, s.State())
	conn.Close()
}

func TestOfflineLoginSteve(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, _ := startSession(t, offlineConfig(), srv, 1)

	enc := codec.NewEncoder(conn)
	dec := codec.NewDecoder(conn)

	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentLogin)))
	require.NoError(t, enc.WritePacket(loginStartBody(t, "Steve")))

	pkt, err := dec.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundLoginSuccess, pkt.ID)

	r := bytes.NewReader(pkt.Payload)
	id, err := protocol.ReadUUID(r)
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("8667ba71-b85a-3004-af54-457a9734eed7"), id)
	name, err := protocol.ReadString(r)
	require.NoError(t, err)
	assert.Equal(t, "Steve", name)

	// Acknowledge and run the configuration exchange to Play.
	require.NoError(t, enc.WritePacket(frameBody(t, protocol.ServerboundLoginAcknowledged, nil)))

	pkt, err = dec.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientboundConfigPluginMessage, pkt.ID)

	pkt, err = dec.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientboundKnownPacks, pkt.ID)

	require.NoError(t, enc.WritePacket(frameBody(t, protocol.ServerboundKnownPacks, func(buf *bytes.Buffer) {
		require.NoError(t, protocol.WriteVarInt(buf, 0))
	})))

	pkt, err = dec.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientboundUpdateTags, pkt.ID)

	pkt, err = dec.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientboundFinishConfig, pkt.ID)

	require.NoError(t, enc.WritePacket(frameBody(t, protocol.ServerboundFinishConfigAck, nil)))

	p := <-srv.ready
	assert.Equal(t, "Steve", p.Name)
	assert.Equal(t, uuid.MustParse("8667ba71-b85a-3004-af54-457a9734eed7"), p.ID)

	conn.Close()
	<-srv.closed
}

func TestServerFullKickBeforeLogin(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	srv.full = true
	conn, _ := startSession(t, offlineConfig(), srv, 1)

	enc := codec.NewEncoder(conn)
	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentLogin)))

	// Kicked before any login packet is read.
	pkt, err := codec.NewDecoder(conn).ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundLoginDisconnect, pkt.ID)

	reason, err := protocol.ReadString(bytes.NewReader(pkt.Payload))
	require.NoError(t, err)
	assert.Contains(t, reason, "multiplayer.disconnect.server_full")

	conn.Close()
	<-srv.closed
}

func TestProtocolViolationKick(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, _ := startSession(t, offlineConfig(), srv, 1)

	enc := codec.NewEncoder(conn)
	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentLogin)))
	// Encryption response without an encryption request is in the login
	// table; an id outside the table entirely is a violation.
	require.NoError(t, enc.WritePacket(frameBody(t, 0x7F, nil)))

	pkt, err := codec.NewDecoder(conn).ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundLoginDisconnect, pkt.ID)

	reason, err := protocol.ReadString(bytes.NewReader(pkt.Payload))
	require.NoError(t, err)
	assert.Contains(t, reason, "Unexpected packet id")

	conn.Close()
	<-srv.closed
}

func TestInvalidUsernameKick(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, _ := startSession(t, offlineConfig(), srv, 1)

	enc := codec.NewEncoder(conn)
	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentLogin)))
	require.NoError(t, enc.WritePacket(loginStartBody(t, "bad name!")))

	pkt, err := codec.NewDecoder(conn).ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, protocol.ClientboundLoginDisconnect, pkt.ID)

	conn.Close()
	<-srv.closed
}

func TestStatusExchange(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, _ := startSession(t, offlineConfig(), srv, 1)

	enc := codec.NewEncoder(conn)
	dec := codec.NewDecoder(conn)

	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentStatus)))
	require.NoError(t, enc.WritePacket(frameBody(t, protocol.ServerboundStatusRequest, nil)))

	pkt, err := dec.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundStatusResponse, pkt.ID)
	doc, err := protocol.ReadString(bytes.NewReader(pkt.Payload))
	require.NoError(t, err)
	assert.Contains(t, doc, `"protocol":770`)

	require.NoError(t, enc.WritePacket(frameBody(t, protocol.ServerboundPingRequest, func(buf *bytes.Buffer) {
		require.NoError(t, protocol.WriteInt64(buf, 123456789))
	})))

	pkt, err = dec.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundPongResponse, pkt.ID)
	payload, err := protocol.ReadInt64(bytes.NewReader(pkt.Payload))
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), payload)

	// The connection is terminal after the pong.
	<-srv.closed
	conn.Close()
}

// TestEncryptedCompressedLogin drives the full direct-mode handshake: the
// compression announcement, the encryption exchange, and a login success
// delivered through both layers.
func TestEncryptedCompressedLogin(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := offlineConfig()
	cfg.Encryption = true
	cfg.Compression.Enabled = true
	cfg.Compression.Threshold = 64
	cfg.Compression.Level = 6

	srv := newFakeServer()
	conn, _ := startSession(t, cfg, srv, 1)

	enc := codec.NewEncoder(conn)
	dec := codec.NewDecoder(conn)

	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentLogin)))
	require.NoError(t, enc.WritePacket(loginStartBody(t, "Steve")))

	// The compression announcement is the last uncompressed packet.
	pkt, err := dec.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundSetCompression, pkt.ID)
	threshold, err := protocol.ReadVarInt(bytes.NewReader(pkt.Payload))
	require.NoError(t, err)
	require.Equal(t, int32(64), threshold)
	dec.EnableCompression()
	enc.EnableCompression(int(threshold), 6)

	pkt, err = dec.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundEncryptionRequest, pkt.ID)

	r := bytes.NewReader(pkt.Payload)
	_, err = protocol.ReadString(r) // server id
	require.NoError(t, err)
	publicDER, err := protocol.ReadByteArray(r)
	require.NoError(t, err)
	verifyToken, err := protocol.ReadByteArray(r)
	require.NoError(t, err)

	parsed, err := x509.ParsePKIXPublicKey(publicDER)
	require.NoError(t, err)
	serverKey := parsed.(*rsa.PublicKey)

	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, serverKey, secret)
	require.NoError(t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, serverKey, verifyToken)
	require.NoError(t, err)

	require.NoError(t, enc.WritePacket(frameBody(t, protocol.ServerboundEncryptionResponse, func(buf *bytes.Buffer) {
		require.NoError(t, protocol.WriteByteArray(buf, encSecret))
		require.NoError(t, protocol.WriteByteArray(buf, encToken))
	})))

	// Both directions flip to ciphered mode at the same frame boundary.
	require.NoError(t, enc.EnableEncryption(secret))
	require.NoError(t, dec.EnableEncryption(secret))

	pkt, err = dec.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundLoginSuccess, pkt.ID)

	id, err := protocol.ReadUUID(bytes.NewReader(pkt.Payload))
	require.NoError(t, err)
	assert.Equal(t, profile.OfflineUUID("Steve"), id)

	conn.Close()
	<-srv.closed
}

// TestDuplicateLoginRace pauses two logins for the same identity right
// before the duplicate check and releases them together; exactly one may
// proceed.
func TestDuplicateLoginRace(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	srv.gatedJoins = make(chan chan bool, 2)

	results := make(chan int32, 2)
	runClient := func(conn net.Conn) {
		enc := codec.NewEncoder(conn)
		if err := enc.WritePacket(handshakeBody(t, protocol.IntentLogin)); err != nil {
			results <- -1
			return
		}
		if err := enc.WritePacket(loginStartBody(t, "Steve")); err != nil {
			results <- -1
			return
		}
		pkt, err := codec.NewDecoder(conn).ReadPacket()
		if err != nil {
			results <- -1
			return
		}
		results <- pkt.ID
	}

	connA, _ := startSession(t, offlineConfig(), srv, 1)
	connB, _ := startSession(t, offlineConfig(), srv, 2)
	go runClient(connA)
	go runClient(connB)

	// Both sessions are now parked at the rendezvous.
	replyA := <-srv.gatedJoins
	replyB := <-srv.gatedJoins
	replyA <- true
	replyB <- false

	got := []int32{<-results, <-results}
	assert.ElementsMatch(t, []int32{
		protocol.ClientboundLoginSuccess,
		protocol.ClientboundLoginDisconnect,
	}, got)

	connA.Close()
	connB.Close()
	<-srv.closed
	<-srv.closed
}

// A client that stops draining its socket cannot hold the session open: the
// flush rendezvous is bounded, and closing fails the blocked write through
// its deadline.
func TestStalledClientClosesSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	restore := sendStallTimeout
	sendStallTimeout = 50 * time.Millisecond
	defer func() { sendStallTimeout = restore }()

	srv := newFakeServer()
	conn, s := startSession(t, offlineConfig(), srv, 1)

	// Log in but never read, so the login success cannot be flushed and the
	// write flow blocks in its Write.
	enc := codec.NewEncoder(conn)
	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentLogin)))
	require.NoError(t, enc.WritePacket(loginStartBody(t, "Steve")))

	// A concurrent kick must not wedge against the stalled write flow.
	kicked := make(chan struct{})
	go func() {
		defer close(kicked)
		s.Kick(text.Literal("Stopped reading"))
	}()

	select {
	case <-srv.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close against a client that stopped reading")
	}
	select {
	case <-kicked:
	case <-time.After(2 * time.Second):
		t.Fatal("kick blocked on a client that stopped reading")
	}
	assert.True(t, s.Closed())
	conn.Close()
}

// A kick from another goroutine may land at any point in the login flow; in
// particular while the read flow is enriching the session's log entry.
func TestKickConcurrentWithLogin(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, s := startSession(t, offlineConfig(), srv, 1)

	go s.Kick(text.Literal("Server closed"))

	enc := codec.NewEncoder(conn)
	_ = enc.WritePacket(handshakeBody(t, protocol.IntentLogin))
	_ = enc.WritePacket(loginStartBody(t, "Steve"))

	// Drain whatever the session manages to send before it closes.
	dec := codec.NewDecoder(conn)
	for {
		if _, err := dec.ReadPacket(); err != nil {
			break
		}
	}
	<-srv.closed
	conn.Close()
}

func TestRepeatedStatusRequestCloses(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, _ := startSession(t, offlineConfig(), srv, 1)

	enc := codec.NewEncoder(conn)
	dec := codec.NewDecoder(conn)

	require.NoError(t, enc.WritePacket(handshakeBody(t, protocol.IntentStatus)))
	require.NoError(t, enc.WritePacket(frameBody(t, protocol.ServerboundStatusRequest, nil)))

	pkt, err := dec.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, protocol.ClientboundStatusResponse, pkt.ID)

	// A second request on the same connection elicits no response; the
	// session closes instead.
	require.NoError(t, enc.WritePacket(frameBody(t, protocol.ServerboundStatusRequest, nil)))
	_, err = dec.ReadPacket()
	require.Error(t, err)

	<-srv.closed
	conn.Close()
}

func TestClientAddrPrefersForwarded(t *testing.T) {
	srv := newFakeServer()
	conn, s := startSession(t, offlineConfig(), srv, 1)
	defer func() {
		conn.Close()
		<-srv.closed
	}()

	assert.Equal(t, s.conn.RemoteAddr().String(), s.ClientAddr())
	s.forwardedAddr = "203.0.113.7:51234"
	assert.Equal(t, "203.0.113.7:51234", s.ClientAddr())
	assert.Equal(t, "203.0.113.7", s.clientIP())
}

func TestCloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv := newFakeServer()
	conn, s := startSession(t, offlineConfig(), srv, 1)

	s.Close()
	s.Close()
	assert.True(t, s.Closed())

	<-srv.closed
	conn.Close()
}
