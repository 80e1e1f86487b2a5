package relay

import (
	"sync"

	"github.com/dcrodman/chatrelay/internal/packets"
)

// Item is one unit of outbound work for the Broadcaster.
type Item interface {
	isItem()
}

// Broadcast relays a chat payload to every registered client.
type Broadcast struct {
	Source  packets.Address
	Payload []byte
}

// Ack sends a Done frame to a single client and then disconnects it.
type Ack struct {
	Target Handle
}

// ShutdownAll sends a Done frame to every client, disconnects them, and stops
// the server.
type ShutdownAll struct{}

func (Broadcast) isItem()   {}
func (Ack) isItem()         {}
func (ShutdownAll) isItem() {}

// Queue is an unbounded FIFO of Items with a blocking Dequeue. Any number of
// goroutines may enqueue; the relative order of Enqueue calls is the order
// items come out.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Item
	closed bool
}

// NewQueue returns an empty, open Queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends item without blocking. Items enqueued after Close are
// dropped and false is returned.
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Dequeue blocks until an item is available. ok is false once the queue has
// been closed and everything enqueued before that has been consumed.
func (q *Queue) Dequeue() (item Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	item = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

// Close stops the queue from accepting items and wakes any waiting consumer.
// It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len returns the number of items waiting to be consumed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
