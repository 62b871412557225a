// Package relay implements the relay server (C5): registration, pairing,
// opaque MSG_DATA forwarding, inactivity reaping, and the single-instance
// guard a deployment needs when a peer cannot reach its partner directly.
package relay

import (
	"sync"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
)

// ConnState is a relay connection's position in the §4.5 state machine.
type ConnState int

const (
	ConnConnected ConnState = iota
	ConnRegistered
	ConnPaired
	ConnDisconnected
)

// RegisteredGrace is the 5-second window within which a Registered
// connection's slot cannot be displaced by a same-ID reconnect — "The
// 5-second Registered window is load-bearing" per spec.md §9.
const RegisteredGrace = 5 * time.Second

// InactivityTimeout is the hard per-connection liveness bound (§5).
const InactivityTimeout = 5 * time.Second

// Conn is one relay-side connection's bookkeeping: its socket, its
// current state, and its pairing.
type Conn struct {
	mu sync.Mutex

	ID       uint32
	State    ConnState
	Partner  *Conn
	LastSeen time.Time

	raw frame.Conn
}

func newConn(raw frame.Conn) *Conn {
	return &Conn{State: ConnConnected, LastSeen: time.Now(), raw: raw}
}

// touch refreshes the connection's last-activity timestamp.
func (c *Conn) touch() {
	c.mu.Lock()
	c.LastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Conn) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LastSeen
}

func (c *Conn) state() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.State = s
	c.mu.Unlock()
}

// Registry is the relay's connection table: a single mutex guards slot
// lookup, insertion, and removal, held only for that bookkeeping and
// never across I/O (§5 "Shared-resource policy").
type Registry struct {
	mu    sync.Mutex
	byID  map[uint32]*Conn
	conns map[*Conn]struct{}
}

// NewRegistry creates an empty connection table.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[uint32]*Conn),
		conns: make(map[*Conn]struct{}),
	}
}

// Add tracks a freshly accepted, not-yet-registered connection.
func (r *Registry) Add(raw frame.Conn) *Conn {
	c := newConn(raw)
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
	return c
}

// RegisterResult reports the outcome of a registration attempt.
type RegisterResult int

const (
	RegisterOK RegisterResult = iota
	RegisterDuplicate
	RegisterReplacedStale
)

// Register applies the §4.5 duplicate-ID policy for id against conn.
// On RegisterReplacedStale, the returned *Conn is the stale slot the
// caller must force-close after releasing any socket of its own — the
// registry itself never closes sockets, matching the "never across I/O"
// mutex-scope rule.
func (r *Registry) Register(conn *Conn, id uint32) (RegisterResult, *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[id]
	if ok && existing != conn {
		st := existing.state()
		if st == ConnPaired {
			return RegisterDuplicate, nil
		}
		if st == ConnRegistered && time.Since(existing.lastSeen()) < RegisteredGrace {
			return RegisterDuplicate, nil
		}
		delete(r.byID, id)
		delete(r.conns, existing)
		conn.ID = id
		conn.setState(ConnRegistered)
		conn.touch()
		r.byID[id] = conn
		return RegisterReplacedStale, existing
	}

	conn.ID = id
	conn.setState(ConnRegistered)
	conn.touch()
	r.byID[id] = conn
	return RegisterOK, nil
}

// Lookup returns the connection currently registered under id, if any.
func (r *Registry) Lookup(id uint32) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}

// Remove drops conn from the table entirely (used on disconnect/reap).
func (r *Registry) Remove(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
	if existing, ok := r.byID[conn.ID]; ok && existing == conn {
		delete(r.byID, conn.ID)
	}
}

// Pair transitions a and b to Paired, referencing each other.
func (r *Registry) Pair(a, b *Conn) {
	a.mu.Lock()
	a.State = ConnPaired
	a.Partner = b
	a.LastSeen = time.Now()
	a.mu.Unlock()

	b.mu.Lock()
	b.State = ConnPaired
	b.Partner = a
	b.LastSeen = time.Now()
	b.mu.Unlock()
}

// Snapshot returns every tracked connection, for the reaper sweep.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count reports the number of tracked connections, for metrics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
