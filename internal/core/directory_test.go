package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mismatch-chat/relay/internal/domain"
)

func newDirWithConns(t *testing.T, names ...string) (*Registry, *Directory, []ConnID) {
	t.Helper()
	reg := NewRegistry()
	dir := NewDirectory(reg)
	ids := make([]ConnID, 0, len(names))
	for _, n := range names {
		ids = append(ids, reg.Register(n, &testSink{}))
	}
	return reg, dir, ids
}

func Test_Track_Assigns_Ephemeral_IDs(t *testing.T) {
	req := require.New(t)
	_, dir, _ := newDirWithConns(t)

	id1 := dir.Track(domain.Room{Name: "general", Type: domain.RoomPublic})
	id2 := dir.Track(domain.Room{Name: "general", Type: domain.RoomPublic})
	req.NotEqual(id1, id2)
	req.GreaterOrEqual(id1, int64(ephemeralIDBase))

	// Store-assigned ids pass through untouched.
	id3 := dir.Track(domain.Room{ID: 5, Name: "random"})
	req.EqualValues(5, id3)
}

func Test_Duplicate_Names_Are_Distinct_Rooms(t *testing.T) {
	req := require.New(t)
	_, dir, _ := newDirWithConns(t)

	a := dir.Track(domain.Room{ID: 1, Name: "lobby"})
	b := dir.Track(domain.Room{ID: 2, Name: "lobby"})
	req.NotEqual(a, b)
	req.Len(dir.List(), 2)
}

func Test_Join_Leave_Idempotent_Round_Trip(t *testing.T) {
	req := require.New(t)
	_, dir, ids := newDirWithConns(t, "alice", "bob")

	roomID := dir.Track(domain.Room{ID: 5, Name: "five"})
	req.NoError(dir.Join(roomID, ids[1], domain.RoleMember))
	before := dir.Members(roomID)

	req.NoError(dir.Join(roomID, ids[0], domain.RoleMember))
	// Re-join does not duplicate membership.
	req.NoError(dir.Join(roomID, ids[0], domain.RoleMember))
	req.Len(dir.Members(roomID), 2)

	dir.Leave(roomID, ids[0])
	// Leave is idempotent too.
	dir.Leave(roomID, ids[0])
	req.ElementsMatch(before, dir.Members(roomID))
}

func Test_Empty_Room_Keeps_Metadata(t *testing.T) {
	req := require.New(t)
	_, dir, ids := newDirWithConns(t, "alice")

	roomID := dir.Track(domain.Room{ID: 9, Name: "survivor", Type: domain.RoomPrivate})
	req.NoError(dir.Join(roomID, ids[0], domain.RoleMember))
	dir.Leave(roomID, ids[0])

	req.Zero(dir.MemberCount(roomID))
	meta, ok := dir.Room(roomID)
	req.True(ok)
	req.Equal("survivor", meta.Name)
	req.Equal(domain.RoomPrivate, meta.Type)
}

func Test_Join_Unknown_Room_Or_Conn(t *testing.T) {
	req := require.New(t)
	_, dir, ids := newDirWithConns(t, "alice")

	req.ErrorIs(dir.Join(404, ids[0], domain.RoleMember), ErrUnknownRoom)

	roomID := dir.Track(domain.Room{ID: 1, Name: "one"})
	req.ErrorIs(dir.Join(roomID, ConnID("ghost"), domain.RoleMember), ErrUnknownConn)
}

func Test_Join_Updates_Registry_Room(t *testing.T) {
	req := require.New(t)
	reg, dir, ids := newDirWithConns(t, "alice")

	roomID := dir.Track(domain.Room{ID: 3, Name: "three"})
	req.NoError(dir.Join(roomID, ids[0], domain.RoleMember))

	h, ok := reg.Get(ids[0])
	req.True(ok)
	req.Equal(roomID, h.RoomID)
	req.Len(reg.Snapshot(InRoom(roomID)), 1)

	dir.Leave(roomID, ids[0])
	h, _ = reg.Get(ids[0])
	req.Zero(h.RoomID)
}

func Test_List_Reports_Live_Counts(t *testing.T) {
	req := require.New(t)
	_, dir, ids := newDirWithConns(t, "alice", "bob")

	a := dir.Track(domain.Room{ID: 1, Name: "a"})
	dir.Track(domain.Room{ID: 2, Name: "b", PasswordHash: "x", Type: domain.RoomProtected})
	req.NoError(dir.Join(a, ids[0], domain.RoleMember))
	req.NoError(dir.Join(a, ids[1], domain.RoleMember))

	list := dir.List()
	req.Len(list, 2)
	req.EqualValues(1, list[0].Room.ID)
	req.Equal(2, list[0].MemberCount)
	req.Equal(0, list[1].MemberCount)
	req.True(list[1].Room.IsProtected())
}
