package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-sync/internal/model"
)

func hold(seat string, ttl time.Duration) model.Hold {
	now := time.Now().UTC()
	return model.Hold{
		SeatID:     seat,
		ShowID:     "show-1",
		UserID:     "user-1",
		SessionID:  "sess-1",
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore("user-1")
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, hold("A1", 10*time.Minute)))
	require.NoError(t, s.Save(ctx, hold("A2", 10*time.Minute)))

	holds, err := s.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	require.Len(t, holds, 2)
	assert.Equal(t, "A1", holds[0].SeatID, "listing is seat-ordered")

	require.NoError(t, s.Remove(ctx, "show-1", "A1"))
	holds, err = s.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "A2", holds[0].SeatID)
}

func TestMemoryStorePurgesExpired(t *testing.T) {
	s := NewMemoryStore("user-1")
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, hold("A1", -time.Minute)))
	require.NoError(t, s.Save(ctx, hold("A2", 10*time.Minute)))

	holds, err := s.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "A2", holds[0].SeatID)
}

func TestMemoryStoreIsolatesUsers(t *testing.T) {
	s := NewMemoryStore("user-1")
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, hold("A1", 10*time.Minute)))

	holds, err := s.List(ctx, "show-1", "user-2")
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestMemoryStoreRemoveScopedToBoundUser(t *testing.T) {
	s := NewMemoryStore("user-1")
	ctx := context.Background()

	other := hold("A1", 10*time.Minute)
	other.UserID = "user-2"
	require.NoError(t, s.Save(ctx, hold("A1", 10*time.Minute)))
	require.NoError(t, s.Save(ctx, other))

	require.NoError(t, s.Remove(ctx, "show-1", "A1"))

	holds, err := s.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	assert.Empty(t, holds)
	// The other user's record under the same show and seat is untouched.
	assert.Len(t, s.holds[recordKey("show-1", "user-2")], 1)

	// Clear for a foreign user is a no-op as well.
	require.NoError(t, s.Clear(ctx, "show-1", "user-2"))
	assert.Len(t, s.holds[recordKey("show-1", "user-2")], 1)
}

func TestMemoryStoreClear(t *testing.T) {
	s := NewMemoryStore("user-1")
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, hold("A1", 10*time.Minute)))
	require.NoError(t, s.Clear(ctx, "show-1", "user-1"))

	holds, err := s.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	assert.Empty(t, holds)
}

// failingStore errors on everything once armed.
type failingStore struct {
	fail bool
}

func (f *failingStore) Save(context.Context, model.Hold) error {
	if f.fail {
		return errors.Join(ErrStorage, errors.New("backend down"))
	}
	return nil
}

func (f *failingStore) Remove(context.Context, string, string) error {
	if f.fail {
		return errors.Join(ErrStorage, errors.New("backend down"))
	}
	return nil
}

func (f *failingStore) List(context.Context, string, string) ([]model.Hold, error) {
	if f.fail {
		return nil, errors.Join(ErrStorage, errors.New("backend down"))
	}
	return nil, nil
}

func (f *failingStore) Clear(context.Context, string, string) error {
	if f.fail {
		return errors.Join(ErrStorage, errors.New("backend down"))
	}
	return nil
}

func TestResilientDegradesToMemory(t *testing.T) {
	backend := &failingStore{}
	r := NewResilient(backend, "user-1")
	ctx := context.Background()

	// Healthy write mirrors into memory.
	require.NoError(t, r.Save(ctx, hold("A1", 10*time.Minute)))
	assert.False(t, r.Degraded())

	// Backend dies; reads continue from the warm memory mirror.
	backend.fail = true
	holds, err := r.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "A1", holds[0].SeatID)
	assert.True(t, r.Degraded())

	// Writes keep succeeding against memory.
	require.NoError(t, r.Save(ctx, hold("A2", 10*time.Minute)))
	holds, err = r.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	assert.Len(t, holds, 2)

	require.NoError(t, r.Remove(ctx, "show-1", "A1"))
	holds, err = r.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "A2", holds[0].SeatID)
}

func TestResilientHealthyListRefreshesMirror(t *testing.T) {
	backend := NewMemoryStore("user-1")
	r := NewResilient(backend, "user-1")
	ctx := context.Background()

	// A hold written to the backend by a previous context.
	require.NoError(t, backend.Save(ctx, hold("B5", 10*time.Minute)))

	holds, err := r.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	require.Len(t, holds, 1)

	// The mirror now carries it too.
	mirror, err := r.memory.List(ctx, "show-1", "user-1")
	require.NoError(t, err)
	assert.Len(t, mirror, 1)
}
