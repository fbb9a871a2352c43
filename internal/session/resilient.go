package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/iliyamo/seat-sync/internal/model"
)

// Resilient wraps a durable store and degrades to in-memory holds when
// the backend misbehaves.  Every write is mirrored into memory up
// front, so the fallback record is already warm when the backend drops
// out; persistence quality degrades but hold tracking never stops.
type Resilient struct {
	primary  Store
	memory   *MemoryStore
	degraded bool
	mu       sync.Mutex
	warn     sync.Once
}

// NewResilient wraps primary with an in-memory fallback bound to the
// same user as the primary.
func NewResilient(primary Store, userID string) *Resilient {
	return &Resilient{primary: primary, memory: NewMemoryStore(userID)}
}

// Degraded reports whether the primary backend has failed at least once.
func (r *Resilient) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

func (r *Resilient) noteFailure(err error) {
	r.mu.Lock()
	r.degraded = true
	r.mu.Unlock()
	r.warn.Do(func() {
		log.Printf("session: storage degraded to memory: %v", err)
	})
}

// Save implements Store.
func (r *Resilient) Save(ctx context.Context, hold model.Hold) error {
	_ = r.memory.Save(ctx, hold)
	if err := r.primary.Save(ctx, hold); err != nil {
		if errors.Is(err, ErrStorage) {
			r.noteFailure(err)
			return nil
		}
		return err
	}
	return nil
}

// Remove implements Store.
func (r *Resilient) Remove(ctx context.Context, showID, seatID string) error {
	_ = r.memory.Remove(ctx, showID, seatID)
	if err := r.primary.Remove(ctx, showID, seatID); err != nil {
		if errors.Is(err, ErrStorage) {
			r.noteFailure(err)
			return nil
		}
		return err
	}
	return nil
}

// List implements Store.  A healthy primary read also refreshes the
// memory mirror, so a later fallback read returns the same record.
func (r *Resilient) List(ctx context.Context, showID, userID string) ([]model.Hold, error) {
	holds, err := r.primary.List(ctx, showID, userID)
	if err != nil {
		if errors.Is(err, ErrStorage) {
			r.noteFailure(err)
			return r.memory.List(ctx, showID, userID)
		}
		return nil, err
	}
	_ = r.memory.Clear(ctx, showID, userID)
	for _, h := range holds {
		_ = r.memory.Save(ctx, h)
	}
	return holds, nil
}

// Clear implements Store.
func (r *Resilient) Clear(ctx context.Context, showID, userID string) error {
	_ = r.memory.Clear(ctx, showID, userID)
	if err := r.primary.Clear(ctx, showID, userID); err != nil {
		if errors.Is(err, ErrStorage) {
			r.noteFailure(err)
			return nil
		}
		return err
	}
	return nil
}
