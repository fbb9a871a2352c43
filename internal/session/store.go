// Package session is the durable per-user/per-showtime record of held
// seats.  It is what lets a reload (or a crashed tab) come back with
// its holds intact: the coordinator restores the record on join and
// re-asserts each hold against the authority.  Records are keyed by
// (show, user) as an explicit index; there is no key scanning, and a
// store never exposes another user's holds.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/seat-sync/internal/model"
)

// ErrStorage wraps any backend read/write failure.  Callers are
// expected to degrade to in-memory state rather than stop operating;
// the Resilient wrapper does exactly that.
var ErrStorage = errors.New("session storage failure")

// Store persists holds.  List lazily purges expired entries before
// returning, so a record read after a hold's TTL never contains it.
type Store interface {
	Save(ctx context.Context, hold model.Hold) error
	Remove(ctx context.Context, showID, seatID string) error
	List(ctx context.Context, showID, userID string) ([]model.Hold, error)
	Clear(ctx context.Context, showID, userID string) error
}

// MemoryStore keeps holds in process memory.  It is the terminal
// fallback and the test double; it obviously does not survive a
// process restart.  Like the Redis and MySQL stores it is bound to one
// user at construction, which makes Remove an exact keyed delete.
type MemoryStore struct {
	userID string

	mu    sync.Mutex
	holds map[string]map[string]model.Hold // show|user -> seat -> hold
}

// NewMemoryStore returns an empty in-memory store for the given user.
func NewMemoryStore(userID string) *MemoryStore {
	return &MemoryStore{userID: userID, holds: make(map[string]map[string]model.Hold)}
}

func recordKey(showID, userID string) string { return showID + "|" + userID }

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, hold model.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(hold.ShowID, hold.UserID)
	rec, ok := s.holds[key]
	if !ok {
		rec = make(map[string]model.Hold)
		s.holds[key] = rec
	}
	rec[hold.SeatID] = hold
	return nil
}

// Remove implements Store.  Removing an absent hold is a no-op; the
// bound user keeps the delete away from every other user's record.
func (s *MemoryStore) Remove(_ context.Context, showID, seatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds[recordKey(showID, s.userID)], seatID)
	return nil
}

// List implements Store, purging expired holds as it reads.  A request
// for a different user than the bound one yields nothing.
func (s *MemoryStore) List(_ context.Context, showID, userID string) ([]model.Hold, error) {
	if userID != s.userID {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.holds[recordKey(showID, userID)]
	now := time.Now().UTC()
	out := make([]model.Hold, 0, len(rec))
	for seat, h := range rec {
		if h.Expired(now) {
			delete(rec, seat)
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, showID, userID string) error {
	if userID != s.userID {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, recordKey(showID, userID))
	return nil
}
