// Package relay implements the chat relay server: it accepts a fixed number of
// clients, rebroadcasts every chat frame to all of them in a single global
// order, and shuts down once each client has said it is done.
package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/core"
	"github.com/dcrodman/chatrelay/internal/core/client"
)

const peerNameTTL = 10 * time.Minute

// Server wires the acceptor, the per-client receivers and the broadcaster
// around one Registry and one dispatch Queue.
type Server struct {
	// Address to listen on, in host:port form.
	Address string
	// Number of clients in the session. Must be at least one.
	ExpectedClients int

	Config *core.Config
	Logger *logrus.Logger

	listener *net.TCPListener
	registry *Registry
	queue    *Queue
	session  *Session
	names    *client.NameCache

	receivers sync.WaitGroup
}

// Listen binds the server's socket. Run calls it if it hasn't been called yet,
// but calling it separately lets startup failures be reported before anything
// else happens.
func (s *Server) Listen() error {
	if s.ExpectedClients <= 0 {
		return fmt.Errorf("expected clients must be > 0, got %d", s.ExpectedClients)
	}
	if s.Config == nil {
		s.Config = &core.Config{}
		s.Config.Relay.WaitForRoster = true
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}

	socket, err := s.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", s.Address, err)
	}

	s.listener = socket
	s.registry = NewRegistry(s.ExpectedClients)
	s.queue = NewQueue()
	s.session = newSession(s.ExpectedClients, socket, s.queue)
	if s.Config.Logging.ResolvePeerNames {
		s.names = client.NewNameCache(peerNameTTL)
	}
	return nil
}

// createSocket opens a TCP socket to listen for client connections. Relayed
// frames carry IPv4 addresses, so only IPv4 is used.
func (s *Server) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp4", s.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address: %w", err)
	}

	socket, err := net.ListenTCP("tcp4", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}
	return socket, nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() *net.TCPAddr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr().(*net.TCPAddr)
}

// Registry exposes the client roster, mostly for inspection in tests.
func (s *Server) Registry() *Registry { return s.registry }

// Session exposes the session state.
func (s *Server) Session() *Session { return s.session }

// Run serves the session until every expected client has finished, ctx is
// cancelled, or the accept loop fails. It returns only after the broadcaster
// and every receiver have exited. A non-nil error means the accept loop broke
// unexpectedly.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	b := &broadcaster{
		queue:         s.queue,
		registry:      s.registry,
		session:       s.session,
		logger:        s.Logger,
		waitForRoster: s.Config.Relay.WaitForRoster,
		logFrames:     s.Config.Debugging.PacketLoggingEnabled,
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.run()
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Logger.Info("[relay] shutdown requested")
			s.Shutdown()
		case <-s.session.Done():
		}
	}()

	err := s.acceptConnections()
	if err != nil {
		s.Shutdown()
	}

	wg.Wait()
	s.receivers.Wait()
	s.Logger.Info("[relay] exited")

	return err
}

// Shutdown asks the broadcaster to notify and disconnect every client and
// then stop. It is safe to call any number of times.
func (s *Server) Shutdown() {
	if s.session != nil {
		s.session.RequestShutdown()
	}
}
