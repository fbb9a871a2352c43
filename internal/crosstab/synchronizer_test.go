package crosstab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-sync/internal/model"
)

// recordingSink captures what the synchronizer hands to its sink.
type recordingSink struct {
	mu       sync.Mutex
	applied  []model.TabMessage
	sameUser []bool
	resyncs  int
}

func (s *recordingSink) ApplySibling(msg model.TabMessage, sameUser bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, msg)
	s.sameUser = append(s.sameUser, sameUser)
}

func (s *recordingSink) ForceResync(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncs++
}

func (s *recordingSink) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func (s *recordingSink) resyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncs
}

func TestAnnouncePropagatesBetweenContexts(t *testing.T) {
	hub := NewMemoryHub()
	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	a := New(hub.Attach(), "user-1", "tab-a", sinkA)
	b := New(hub.Attach(), "user-1", "tab-b", sinkB)
	a.Start()
	b.Start()
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	require.NoError(t, a.Announce(context.Background(), model.TabSelect, "show-1", "A1"))

	require.Eventually(t, func() bool { return sinkB.appliedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	sinkB.mu.Lock()
	msg, same := sinkB.applied[0], sinkB.sameUser[0]
	sinkB.mu.Unlock()
	assert.Equal(t, "A1", msg.SeatID)
	assert.Equal(t, model.TabSelect, msg.Action)
	assert.True(t, same, "same user in another tab")

	// The sender never re-applies its own broadcast.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sinkA.appliedCount())
}

func TestDifferentUserClassification(t *testing.T) {
	hub := NewMemoryHub()
	sink := &recordingSink{}
	a := New(hub.Attach(), "user-1", "tab-a", &recordingSink{})
	b := New(hub.Attach(), "user-2", "tab-b", sink)
	a.Start()
	b.Start()
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	require.NoError(t, a.Announce(context.Background(), model.TabSelect, "show-1", "A1"))

	require.Eventually(t, func() bool { return sink.appliedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.False(t, sink.sameUser[0])
}

func TestOlderMessageDiscarded(t *testing.T) {
	sink := &recordingSink{}
	hub := NewMemoryHub()
	s := New(hub.Attach(), "user-1", "tab-a", sink)
	s.Start()
	t.Cleanup(s.Close)

	now := time.Now().UnixMilli()
	s.handle(model.TabMessage{SeatID: "A1", UserID: "user-1", ShowID: "show-1",
		Action: model.TabSelect, OriginID: "tab-b", Timestamp: now})
	s.handle(model.TabMessage{SeatID: "A1", UserID: "user-1", ShowID: "show-1",
		Action: model.TabDeselect, OriginID: "tab-c", Timestamp: now - 100})

	assert.Equal(t, 1, sink.appliedCount(), "older message for the same seat is discarded")
}

func TestTimestampTieDiscardsIncoming(t *testing.T) {
	sink := &recordingSink{}
	hub := NewMemoryHub()
	s := New(hub.Attach(), "user-1", "tab-a", sink)
	s.Start()
	t.Cleanup(s.Close)

	now := time.Now().UnixMilli()
	s.handle(model.TabMessage{SeatID: "A1", UserID: "user-1", ShowID: "show-1",
		Action: model.TabSelect, OriginID: "tab-b", Timestamp: now})
	s.handle(model.TabMessage{SeatID: "A1", UserID: "user-1", ShowID: "show-1",
		Action: model.TabDeselect, OriginID: "tab-c", Timestamp: now})

	assert.Equal(t, 1, sink.appliedCount())
}

func TestLocalAnnounceBlocksOlderSibling(t *testing.T) {
	sink := &recordingSink{}
	hub := NewMemoryHub()
	s := New(hub.Attach(), "user-1", "tab-a", sink)
	s.Start()
	t.Cleanup(s.Close)

	// Local action stamps the seat; an older sibling message for the
	// same seat must not roll it back.
	require.NoError(t, s.Announce(context.Background(), model.TabSelect, "show-1", "A1"))
	s.handle(model.TabMessage{SeatID: "A1", UserID: "user-1", ShowID: "show-1",
		Action: model.TabDeselect, OriginID: "tab-b",
		Timestamp: time.Now().Add(-time.Second).UnixMilli()})

	assert.Equal(t, 0, sink.appliedCount())
}

func TestCancelBookingForcesResync(t *testing.T) {
	sink := &recordingSink{}
	hub := NewMemoryHub()
	s := New(hub.Attach(), "user-1", "tab-a", sink)
	s.Start()
	t.Cleanup(s.Close)

	s.handle(model.TabMessage{UserID: "user-1", ShowID: "show-1",
		Action: model.TabCancelBooking, OriginID: "tab-b",
		Timestamp: time.Now().UnixMilli()})

	assert.Equal(t, 1, sink.resyncCount())
	assert.Equal(t, 0, sink.appliedCount(), "cancel is resync-only, never patched per seat")
}

func TestAnnounceCancelReachesSiblings(t *testing.T) {
	hub := NewMemoryHub()
	sinkB := &recordingSink{}
	a := New(hub.Attach(), "user-1", "tab-a", &recordingSink{})
	b := New(hub.Attach(), "user-1", "tab-b", sinkB)
	a.Start()
	b.Start()
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	a.AnnounceCancel("show-1")

	require.Eventually(t, func() bool { return sinkB.resyncCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}
