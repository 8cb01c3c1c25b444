package core

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/mismatch-chat/relay/internal/domain"
)

// Ephemeral ids start high so they cannot collide with store sequence ids.
const ephemeralIDBase = 1_000_000_000

type roomState struct {
	meta    domain.Room
	members map[ConnID]string // conn -> role
}

// Directory tracks room metadata and live membership. It piggybacks on the
// registry's mutex: a room mutation and the liveness check it depends on
// always happen under the same critical section.
type Directory struct {
	reg   *Registry
	rooms map[int64]*roomState
	local int64
}

func NewDirectory(reg *Registry) *Directory {
	return &Directory{reg: reg, rooms: make(map[int64]*roomState), local: ephemeralIDBase}
}

// Track registers room metadata and returns its id, assigning an ephemeral
// id when the store did not provide one. Re-tracking an id refreshes the
// metadata but keeps the live member set. Duplicate names are allowed: two
// rooms with the same name are two distinct rooms.
func (d *Directory) Track(meta domain.Room) int64 {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	if meta.ID == 0 {
		d.local++
		meta.ID = d.local
	}
	if st, ok := d.rooms[meta.ID]; ok {
		st.meta = meta
		return meta.ID
	}
	d.rooms[meta.ID] = &roomState{meta: meta, members: make(map[ConnID]string)}
	log.Info().Str("module", "core.directory").Int64("room", meta.ID).Str("name", meta.Name).Msg("room tracked")
	return meta.ID
}

// Room returns the tracked metadata.
func (d *Directory) Room(id int64) (domain.Room, bool) {
	d.reg.mu.RLock()
	defer d.reg.mu.RUnlock()
	st, ok := d.rooms[id]
	if !ok {
		return domain.Room{}, false
	}
	return st.meta, true
}

// Join adds a live connection to the room. Idempotent: re-joining an
// existing member succeeds without duplicating membership.
func (d *Directory) Join(roomID int64, connID ConnID, role string) error {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	st, ok := d.rooms[roomID]
	if !ok {
		return ErrUnknownRoom
	}
	c, ok := d.reg.conns[connID]
	if !ok {
		return ErrUnknownConn
	}
	st.members[connID] = role
	c.roomID = roomID
	log.Info().Str("module", "core.directory").Int64("room", roomID).Str("conn", string(connID)).Str("role", role).Msg("member joined")
	return nil
}

// Leave removes the connection from the room. Idempotent. Emptying the live
// member set keeps the room metadata: persisted rooms survive their members.
func (d *Directory) Leave(roomID int64, connID ConnID) {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	st, ok := d.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := st.members[connID]; !ok {
		return
	}
	delete(st.members, connID)
	if c, ok := d.reg.conns[connID]; ok && c.roomID == roomID {
		c.roomID = 0
	}
	log.Info().Str("module", "core.directory").Int64("room", roomID).Str("conn", string(connID)).Msg("member left")
}

// Members returns the live member connection ids.
func (d *Directory) Members(roomID int64) []ConnID {
	d.reg.mu.RLock()
	defer d.reg.mu.RUnlock()
	st, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]ConnID, 0, len(st.members))
	for id := range st.members {
		out = append(out, id)
	}
	return out
}

func (d *Directory) MemberCount(roomID int64) int {
	d.reg.mu.RLock()
	defer d.reg.mu.RUnlock()
	st, ok := d.rooms[roomID]
	if !ok {
		return 0
	}
	return len(st.members)
}

// Entry pairs room metadata with its live member count.
type Entry struct {
	Room        domain.Room
	MemberCount int
}

// List returns every tracked room ordered by id.
func (d *Directory) List() []Entry {
	d.reg.mu.RLock()
	out := make([]Entry, 0, len(d.rooms))
	for _, st := range d.rooms {
		out = append(out, Entry{Room: st.meta, MemberCount: len(st.members)})
	}
	d.reg.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Room.ID < out[j].Room.ID })
	return out
}
