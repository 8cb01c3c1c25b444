// Package storage implements the persistence contract on BadgerDB.
//
// Keys are zero-padded so lexicographic order matches id/time order:
//
//	user:id:{%019d}                      -> user record
//	user:name:{username}                 -> padded user id
//	room:{%019d}                         -> room record
//	member:{%019d room}:{%019d user}     -> membership record
//	msg:{%019d room}:{%019d ns}:{uuid}   -> message record
//
// The uuid suffix disambiguates two messages landing on the same nanosecond.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mismatch-chat/relay/internal/domain"
)

const seqBandwidth = 64

type Store struct {
	db      *badger.DB
	userSeq *badger.Sequence
	roomSeq *badger.Sequence
	msgSeq  *badger.Sequence
}

// Open opens (or creates) the database at dir.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return New(db)
}

// New wraps an already-open database. The store takes ownership: Close
// releases the id sequences and closes the database.
func New(db *badger.DB) (*Store, error) {
	userSeq, err := db.GetSequence([]byte("seq:users"), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("user sequence: %w", err)
	}
	roomSeq, err := db.GetSequence([]byte("seq:rooms"), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("room sequence: %w", err)
	}
	msgSeq, err := db.GetSequence([]byte("seq:messages"), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &Store{db: db, userSeq: userSeq, roomSeq: roomSeq, msgSeq: msgSeq}, nil
}

func (s *Store) Close() error {
	_ = s.userSeq.Release()
	_ = s.roomSeq.Release()
	_ = s.msgSeq.Release()
	return s.db.Close()
}

func userKey(id int64) []byte       { return fmt.Appendf(nil, "user:id:%019d", id) }
func userNameKey(name string) []byte { return []byte("user:name:" + name) }
func roomKey(id int64) []byte       { return fmt.Appendf(nil, "room:%019d", id) }
func memberKey(roomID, userID int64) []byte {
	return fmt.Appendf(nil, "member:%019d:%019d", roomID, userID)
}

// next bumps a sequence to a nonzero id (badger sequences start at 0, and 0
// means "not identified" everywhere else).
func next(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

// CreateUser persists a bare user record for the given display name.
// Connect-time auto-registration goes through here; API signups use
// CreateUserRecord with credentials attached.
func (s *Store) CreateUser(_ context.Context, name string) (int64, error) {
	return s.createUser(domain.User{Username: name, AvatarURL: domain.AvatarURL(name)})
}

// CreateUserRecord persists a user with whatever credentials the caller set.
func (s *Store) CreateUserRecord(_ context.Context, user domain.User) (int64, error) {
	return s.createUser(user)
}

func (s *Store) createUser(user domain.User) (int64, error) {
	id, err := next(s.userSeq)
	if err != nil {
		return 0, fmt.Errorf("allocate user id: %w", err)
	}
	user.ID = id
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	val, err := json.Marshal(user)
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(userKey(id), val); err != nil {
			return err
		}
		return txn.Set(userNameKey(user.Username), fmt.Appendf(nil, "%019d", id))
	})
	if err != nil {
		return 0, fmt.Errorf("store user: %w", err)
	}
	log.Debug().Str("module", "storage").Int64("user", id).Str("name", user.Username).Msg("user stored")
	return id, nil
}

// FindUserByName returns (nil, nil) when the name is unknown.
func (s *Store) FindUserByName(ctx context.Context, name string) (*domain.User, error) {
	var id int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userNameKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := strconv.ParseInt(string(val), 10, 64)
			id = parsed
			return err
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", name, err)
	}
	return s.UserByID(ctx, id)
}

// UserByID returns (nil, nil) when the id is unknown.
func (s *Store) UserByID(_ context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &user, nil
}

// CreateRoom always creates a new room; names are not unique.
func (s *Store) CreateRoom(_ context.Context, name string, roomType domain.RoomType, passwordHash string, creatorID int64) (int64, error) {
	id, err := next(s.roomSeq)
	if err != nil {
		return 0, fmt.Errorf("allocate room id: %w", err)
	}
	room := domain.Room{
		ID:           id,
		Name:         name,
		Type:         roomType,
		PasswordHash: passwordHash,
		CreatedBy:    creatorID,
		CreatedAt:    time.Now().UTC(),
	}
	val, err := json.Marshal(room)
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(roomKey(id), val)
	})
	if err != nil {
		return 0, fmt.Errorf("store room: %w", err)
	}
	log.Debug().Str("module", "storage").Int64("room", id).Str("name", name).Msg("room stored")
	return id, nil
}

func (s *Store) ListRooms(_ context.Context) ([]domain.Room, error) {
	var rooms []domain.Room
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("room:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var room domain.Room
				if err := json.Unmarshal(val, &room); err != nil {
					return err
				}
				rooms = append(rooms, room)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

type membership struct {
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// JoinRoom records durable membership. Re-joining overwrites the record, so
// the operation is idempotent.
func (s *Store) JoinRoom(_ context.Context, roomID, userID int64, role string) error {
	val, err := json.Marshal(membership{Role: role, JoinedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(memberKey(roomID, userID), val)
	})
	if err != nil {
		return fmt.Errorf("store membership room=%d user=%d: %w", roomID, userID, err)
	}
	return nil
}

func (s *Store) SaveMessage(_ context.Context, roomID, userID int64, text string) (int64, error) {
	id, err := next(s.msgSeq)
	if err != nil {
		return 0, fmt.Errorf("allocate message id: %w", err)
	}
	msg := domain.StoredMessage{
		ID:        id,
		RoomID:    roomID,
		SenderID:  userID,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	key := fmt.Appendf(nil, "msg:%019d:%019d:%s", roomID, msg.CreatedAt.UnixNano(), uuid.NewString())
	val, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	return id, nil
}

// RoomMessages returns the last limit messages for the room, oldest first.
// It walks the keyspace newest-first to honor the limit, then reverses.
func (s *Store) RoomMessages(_ context.Context, roomID int64, limit int) ([]domain.StoredMessage, error) {
	var msgs []domain.StoredMessage
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := fmt.Appendf(nil, "msg:%019d:", roomID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the end of the prefix range, then walk backwards.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(msgs) == limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var msg domain.StoredMessage
				if err := json.Unmarshal(val, &msg); err != nil {
					return err
				}
				msgs = append(msgs, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load messages room=%d: %w", roomID, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
