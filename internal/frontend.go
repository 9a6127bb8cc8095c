package internal

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/session"
)

// frontend implements the concurrent client connection logic.
//
// It accepts TCP connections and hands each one to a session actor,
// abstracting the socket lifecycle away from the protocol engine.
type frontend struct {
	Address string
	Deps    *session.Deps
	Logger  *logrus.Logger

	// Register makes each accepted session addressable by the game server
	// before its first byte is read.
	Register func(*session.Session)

	nextSessionID atomic.Uint64
}

// Start opens the listening socket and spins the blocking accept loop off
// in its own goroutine, added to the WaitGroup. Context cancellation stops
// the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %v", f.Address, err)
	}

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// createSocket opens a TCP socket to listen for client connections on the
// Address provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %s", err.Error())
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %s", err.Error())
	}

	return socket, nil
}

// startBlockingLoop is purely responsible for accepting new connections and
// spinning off a session goroutine for each one.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("waiting for connections on %v", f.Address)

	connections := make(chan *net.TCPConn)
	go func() {
		for {
			connection, err := socket.AcceptTCP()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				f.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			select {
			case connections <- connection:
			case <-ctx.Done():
				_ = connection.Close()
				return
			}
		}
	}()

	sessionWg := &sync.WaitGroup{}

handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			// Frames are small and latency-sensitive during the handshake.
			_ = connection.SetNoDelay(true)

			id := f.nextSessionID.Add(1)
			sess := session.New(ctx, connection, id, f.Deps)
			if f.Register != nil {
				f.Register(sess)
			}
			f.Logger.Infof("accepted connection %d from %s", id, connection.RemoteAddr())

			sessionWg.Add(1)
			go func() {
				defer sessionWg.Done()
				// The session observes ctx itself, so shutdown closes it
				// after it drains queued disconnect frames.
				sess.Run()
			}()
		}
	}

	_ = socket.Close()

	f.Logger.Info("shutting down (waiting for connections to close)")
	sessionWg.Wait()
	f.Logger.Info("exited")
}
