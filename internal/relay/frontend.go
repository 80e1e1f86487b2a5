package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/core/client"
	relaydebug "github.com/dcrodman/chatrelay/internal/core/debug"
	"github.com/dcrodman/chatrelay/internal/packets"
)

// acceptConnections is the acceptor loop. It accepts up to ExpectedClients
// connections and spins off a receiver for each one. Once the roster is full
// it stops accepting but leaves the listener open until the session stops.
func (s *Server) acceptConnections() error {
	s.Logger.Infof("[relay] waiting for %d connections on %v", s.ExpectedClients, s.Addr())

	for more := true; more && s.session.Running(); {
		connection, err := s.listener.AcceptTCP()
		if err != nil {
			if !s.session.Running() {
				// The listener was closed by the shutdown.
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		// Registered before it's counted so that the roster is never reported
		// complete without the client in it.
		s.acceptClient(connection)
		more = s.session.clientAccepted()
	}

	s.Logger.Infof("[relay] accepted %d of %d connections", s.session.Accepted(), s.ExpectedClients)
	<-s.session.Done()
	return nil
}

// acceptClient registers the connection and starts its receiver.
func (s *Server) acceptClient(connection *net.TCPConn) {
	c := client.NewClient(connection)
	h := s.registry.Add(c)

	// A shutdown may have cleared the roster between Accept and Add.
	if !s.session.Running() {
		s.registry.Remove(h)
		return
	}

	entry := s.Logger.WithField("session", c.SessionID)
	if s.names != nil {
		entry.Infof("[relay] accepted connection from %s (%s)", c, s.names.Name(c.IPAddr()))
	} else {
		entry.Infof("[relay] accepted connection from %s", c)
	}

	s.receivers.Add(1)
	go s.processFrames(h, c, entry)
}

// processFrames is the receiver for one client: a blocking loop that decodes
// frames from the connection and turns them into dispatch items. It only
// returns once the connection has been closed, either by the peer or by the
// broadcaster.
func (s *Server) processFrames(h Handle, c *client.Client, entry *logrus.Entry) {
	defer s.receivers.Done()
	defer s.closeConnectionAndRecover(h, c, entry)

	decoder := packets.NewDecoder(c)
	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			return
		} else if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.registry.Exists(h) {
				// Closed on our side after an ack or a failed write.
				return
			}
			entry.Infof("[relay] error reading from %s: %v", c, err)
			return
		}

		if s.Config.Debugging.PacketLoggingEnabled {
			relaydebug.LogFrame(entry, packets.ClientToServer, frame.Bytes(packets.ClientToServer))
		}
		s.handleFrame(h, c, frame, entry)
	}
}

func (s *Server) handleFrame(h Handle, c *client.Client, frame packets.Frame, entry *logrus.Entry) {
	switch frame.Kind {
	case packets.ChatType:
		s.queue.Enqueue(Broadcast{Source: c.Address(), Payload: frame.Payload})

	case packets.DoneType:
		first, finished, expected := s.registry.MarkFinished(h)
		if !first {
			entry.Debugf("[relay] ignoring repeated done from %s", c)
			return
		}
		entry.Infof("[relay] %s finished sending (%d/%d)", c, finished, expected)

		s.queue.Enqueue(Ack{Target: h})
		// Only the receiver whose mark completed the count gets here.
		if finished == expected {
			s.session.RequestShutdown()
		}

	default:
		entry.Debugf("[relay] ignoring %s frame from %s", frame.Kind, c)
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics, disconnects the
// client, and removes them from the registry regardless of the state of the connection.
func (s *Server) closeConnectionAndRecover(h Handle, c *client.Client, entry *logrus.Entry) {
	if err := recover(); err != nil {
		entry.Errorf("[relay] receiver for %s panicked: %v, trace: %s",
			c, err, debug.Stack())
	}

	s.registry.Remove(h)
	entry.Infof("[relay] disconnected client %s", c)
}
