package app

import (
	"context"
	"errors"
	"sync"

	"github.com/mismatch-chat/relay/internal/core"
	"github.com/mismatch-chat/relay/internal/domain"
	"github.com/mismatch-chat/relay/internal/protocol"
)

// fakeSink records every delivered frame, decoded.
type fakeSink struct {
	mu     sync.Mutex
	frames []protocol.Message
}

func (s *fakeSink) TrySend(f core.Frame) error {
	msg, err := protocol.Decode(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, msg)
	return nil
}

func (s *fakeSink) Close() {}

func (s *fakeSink) all() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSink) ofType(t protocol.MessageType) []protocol.Message {
	var out []protocol.Message
	for _, m := range s.all() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

type savedMessage struct {
	RoomID int64
	UserID int64
	Text   string
}

var errStoreDown = errors.New("store unavailable")

// fakeStore is an in-memory Store. history is returned exactly as seeded so
// tests control the "native" storage order.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]int64
	nextUser int64
	rooms    []domain.Room
	nextRoom int64
	joins    map[[2]int64]string
	saved    []savedMessage
	history  map[int64][]domain.StoredMessage

	down bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]int64),
		joins:   make(map[[2]int64]string),
		history: make(map[int64][]domain.StoredMessage),
	}
}

func (f *fakeStore) CreateUser(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errStoreDown
	}
	f.nextUser++
	f.users[name] = f.nextUser
	return f.nextUser, nil
}

func (f *fakeStore) FindUserByName(_ context.Context, name string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errStoreDown
	}
	id, ok := f.users[name]
	if !ok {
		return nil, nil
	}
	return &domain.User{ID: id, Username: name}, nil
}

func (f *fakeStore) UserByID(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errStoreDown
	}
	for name, uid := range f.users {
		if uid == id {
			return &domain.User{ID: id, Username: name}, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateRoom(_ context.Context, name string, roomType domain.RoomType, passwordHash string, creatorID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errStoreDown
	}
	f.nextRoom++
	f.rooms = append(f.rooms, domain.Room{ID: f.nextRoom, Name: name, Type: roomType, PasswordHash: passwordHash, CreatedBy: creatorID})
	return f.nextRoom, nil
}

func (f *fakeStore) ListRooms(_ context.Context) ([]domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errStoreDown
	}
	out := make([]domain.Room, len(f.rooms))
	copy(out, f.rooms)
	return out, nil
}

func (f *fakeStore) JoinRoom(_ context.Context, roomID, userID int64, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	f.joins[[2]int64{roomID, userID}] = role
	return nil
}

func (f *fakeStore) SaveMessage(_ context.Context, roomID, userID int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errStoreDown
	}
	f.saved = append(f.saved, savedMessage{RoomID: roomID, UserID: userID, Text: text})
	return int64(len(f.saved)), nil
}

func (f *fakeStore) RoomMessages(_ context.Context, roomID int64, limit int) ([]domain.StoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errStoreDown
	}
	msgs := f.history[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]domain.StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeStore) seedUser(name string, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[name] = id
	if id > f.nextUser {
		f.nextUser = id
	}
}

func (f *fakeStore) seedHistory(roomID int64, msgs []domain.StoredMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[roomID] = msgs
}

func (f *fakeStore) roleOf(roomID, userID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins[[2]int64{roomID, userID}]
}

func (f *fakeStore) savedMessages() []savedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]savedMessage, len(f.saved))
	copy(out, f.saved)
	return out
}

func (f *fakeStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}
