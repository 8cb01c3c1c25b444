package core

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type conn struct {
	seq    uint64
	name   string
	userID int64
	roomID int64
	sink   Sink
}

// Registry is the exclusive owner of the set of live connections.
// The mutex also guards the Directory built on top of it.
type Registry struct {
	mu    sync.RWMutex
	seq   uint64
	conns map[ConnID]*conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnID]*conn)}
}

// Register adds a new connection and returns its id.
func (r *Registry) Register(name string, sink Sink) ConnID {
	id := ConnID(uuid.NewString())
	r.mu.Lock()
	r.seq++
	r.conns[id] = &conn{seq: r.seq, name: name, sink: sink}
	total := len(r.conns)
	r.mu.Unlock()
	log.Info().Str("module", "core.registry").Str("conn", string(id)).Str("name", name).Int("total", total).Msg("registered")
	return id
}

// Unregister removes the connection. Idempotent.
func (r *Registry) Unregister(id ConnID) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	total := len(r.conns)
	r.mu.Unlock()
	if ok {
		log.Info().Str("module", "core.registry").Str("conn", string(id)).Int("total", total).Msg("unregistered")
	}
}

// SetUser attaches the resolved user id to the connection.
func (r *Registry) SetUser(id ConnID, userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.userID = userID
	return true
}

// Get returns a point-in-time handle for one connection.
func (r *Registry) Get(id ConnID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Handle{}, false
	}
	return handleOf(id, c), true
}

// Snapshot returns a copy of the registry filtered by pred, in registration
// order. Callers never observe a registry mutated mid-iteration.
func (r *Registry) Snapshot(pred Predicate) []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.conns))
	for id, c := range r.conns {
		h := handleOf(id, c)
		if pred(h) {
			out = append(out, h)
		}
	}
	seqs := make(map[ConnID]uint64, len(out))
	for id, c := range r.conns {
		seqs[id] = c.seq
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return seqs[out[i].ID] < seqs[out[j].ID] })
	return out
}

// Deliver pushes a frame to one connection. Delivering to a connection that
// has since disconnected is a silent no-op, never an error.
func (r *Registry) Deliver(id ConnID, f Frame) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.sink.TrySend(f); err != nil {
		log.Debug().Str("module", "core.registry").Str("conn", string(id)).Err(err).Msg("frame dropped")
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func handleOf(id ConnID, c *conn) Handle {
	return Handle{ID: id, Name: c.name, UserID: c.userID, RoomID: c.roomID, sink: c.sink}
}
