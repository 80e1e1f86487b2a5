package relay

import (
	"net"
	"sync"
	"sync/atomic"
)

// Session is the state shared by every component for one run of the server:
// the listening socket, whether the server is still running, and the latches
// that mark the roster as complete and the session as over.
type Session struct {
	expected int
	listener *net.TCPListener
	queue    *Queue

	running  atomic.Bool
	accepted atomic.Int64

	roster       chan struct{}
	rosterOnce   sync.Once
	done         chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
}

func newSession(expected int, listener *net.TCPListener, queue *Queue) *Session {
	s := &Session{
		expected: expected,
		listener: listener,
		queue:    queue,
		roster:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.running.Store(true)
	return s
}

// Running is false once the session has been stopped.
func (s *Session) Running() bool { return s.running.Load() }

// Done is closed when the session stops.
func (s *Session) Done() <-chan struct{} { return s.done }

// RosterComplete is closed once every expected client has been accepted or
// shutdown has been requested, whichever happens first.
func (s *Session) RosterComplete() <-chan struct{} { return s.roster }

// Accepted returns the number of connections accepted so far.
func (s *Session) Accepted() int { return int(s.accepted.Load()) }

// clientAccepted counts one accepted connection and reports whether the
// acceptor should keep going.
func (s *Session) clientAccepted() (more bool) {
	n := s.accepted.Add(1)
	if int(n) >= s.expected {
		s.completeRoster()
		return false
	}
	return true
}

func (s *Session) completeRoster() {
	s.rosterOnce.Do(func() { close(s.roster) })
}

// RequestShutdown queues the global shutdown. Only the first call has any
// effect, so the ShutdownAll item is enqueued at most once per session.
func (s *Session) RequestShutdown() {
	s.shutdownOnce.Do(func() {
		s.queue.Enqueue(ShutdownAll{})
		s.completeRoster()
	})
}

// stop marks the session as no longer running and closes the listener so a
// blocked Accept returns. Safe to call more than once.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		close(s.done)
	})
}
