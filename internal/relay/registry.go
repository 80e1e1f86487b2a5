package relay

import (
	"sort"
	"sync"

	"github.com/dcrodman/chatrelay/internal/core/client"
)

// Handle identifies one connection for as long as the process runs. Handles
// are never reused.
type Handle uint64

// Member is a registered client as seen through a Registry snapshot.
type Member struct {
	Handle Handle
	Client *client.Client
}

// Registry is the roster of connected clients. It also owns the count of
// clients that have finished sending, since deciding who the last finisher is
// has to happen under the same lock as membership changes.
type Registry struct {
	mu sync.Mutex

	clients  map[Handle]*client.Client
	finished map[Handle]bool
	next     Handle

	expected      int
	finishedCount int
}

// NewRegistry returns an empty Registry for a session of expectedClients.
func NewRegistry(expectedClients int) *Registry {
	return &Registry{
		clients:  make(map[Handle]*client.Client),
		finished: make(map[Handle]bool),
		expected: expectedClients,
	}
}

// Add registers c and returns the handle that identifies it.
func (r *Registry) Add(c *client.Client) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.clients[r.next] = c
	return r.next
}

// Remove drops the client from the roster and closes its connection. Removing
// a handle that isn't registered is a no-op; the return value reports whether
// this call did the removal.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	c, ok := r.clients[h]
	delete(r.clients, h)
	r.mu.Unlock()

	if ok {
		_ = c.Close()
	}
	return ok
}

// Exists reports whether h is currently registered.
func (r *Registry) Exists(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.clients[h]
	return ok
}

// Get returns the client registered under h.
func (r *Registry) Get(h Handle) (*client.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[h]
	return c, ok
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Snapshot copies the current members in registration order.
func (r *Registry) Snapshot() []Member {
	r.mu.Lock()
	members := make([]Member, 0, len(r.clients))
	for h, c := range r.clients {
		members = append(members, Member{Handle: h, Client: c})
	}
	r.mu.Unlock()

	sort.Slice(members, func(i, j int) bool { return members[i].Handle < members[j].Handle })
	return members
}

// ForEach calls fn for every client that was registered when ForEach was
// called. The lock is not held while fn runs, so fn may block on I/O and may
// call Remove.
func (r *Registry) ForEach(fn func(Member)) {
	for _, m := range r.Snapshot() {
		fn(m)
	}
}

// MarkFinished records that h has sent its Done frame. first is true only for
// the first call for a given handle, and finished is the session-wide count
// after this call. Handles that were already removed can still be marked so
// that a Done frame read before a failed write is not lost.
func (r *Registry) MarkFinished(h Handle) (first bool, finished, expected int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == 0 || h > r.next || r.finished[h] {
		return false, r.finishedCount, r.expected
	}
	r.finished[h] = true
	r.finishedCount++
	return true, r.finishedCount, r.expected
}

// Finished returns how many distinct clients have sent a Done frame.
func (r *Registry) Finished() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedCount
}

// Expected returns the number of clients the session was started for.
func (r *Registry) Expected() int { return r.expected }

// RemoveAll removes and closes every registered client.
func (r *Registry) RemoveAll() {
	for _, m := range r.Snapshot() {
		r.Remove(m.Handle)
	}
}
