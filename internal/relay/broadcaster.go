package relay

import (
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/core/debug"
	"github.com/dcrodman/chatrelay/internal/packets"
)

// broadcaster is the single consumer of the dispatch queue and the only
// goroutine that writes to client sockets. Since there is exactly one of
// them, every client sees relayed messages in queue order.
type broadcaster struct {
	queue    *Queue
	registry *Registry
	session  *Session
	logger   *logrus.Logger

	waitForRoster bool
	logFrames     bool
}

func (b *broadcaster) run() {
	defer b.logger.Debug("[relay] broadcaster exited")

	if b.waitForRoster {
		<-b.session.RosterComplete()
	}

	for {
		item, ok := b.queue.Dequeue()
		if !ok {
			return
		}
		if stop := b.dispatch(item); stop {
			return
		}
	}
}

// dispatch performs the writes for one item and returns true once the
// session has been shut down.
func (b *broadcaster) dispatch(item Item) bool {
	switch it := item.(type) {
	case Broadcast:
		b.broadcast(it)
	case Ack:
		b.ack(it)
	case ShutdownAll:
		b.shutdownAll()
		return true
	default:
		b.logger.Warnf("[relay] ignoring unknown dispatch item %T", item)
	}
	return false
}

func (b *broadcaster) broadcast(it Broadcast) {
	frame := packets.EncodeRelay(it.Source, it.Payload)
	if b.logFrames {
		debug.LogFrame(b.logger.WithField("source", it.Source.String()), packets.ServerToClient, frame)
	}

	b.registry.ForEach(func(m Member) {
		if err := m.Client.Send(frame); err != nil {
			// The client is dropped; the message is not retried.
			b.logger.WithField("session", m.Client.SessionID).Infof("[relay] removing client after failed write: %v", err)
			b.registry.Remove(m.Handle)
		}
	})
}

func (b *broadcaster) ack(it Ack) {
	c, ok := b.registry.Get(it.Target)
	if !ok {
		return
	}

	entry := b.logger.WithField("session", c.SessionID)
	if err := c.Send(packets.EncodeDone()); err != nil {
		entry.Infof("[relay] failed to acknowledge %s: %v", c, err)
	} else {
		entry.Debugf("[relay] acknowledged %s", c)
	}
	// Always removed so that a failed ack can't leak the connection.
	b.registry.Remove(it.Target)
}

func (b *broadcaster) shutdownAll() {
	done := packets.EncodeDone()
	b.registry.ForEach(func(m Member) {
		if err := m.Client.Send(done); err != nil {
			b.logger.WithField("session", m.Client.SessionID).Debugf("[relay] failed to send shutdown to %s: %v", m.Client, err)
		}
	})

	// Stop before removing so that a connection accepted concurrently either
	// shows up in RemoveAll or sees the session as stopped.
	b.session.stop()
	b.registry.RemoveAll()
	b.queue.Close()

	b.logger.Infof("[relay] shut down with %d of %d clients finished", b.registry.Finished(), b.registry.Expected())
}
