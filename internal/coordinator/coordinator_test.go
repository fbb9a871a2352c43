package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-sync/internal/model"
)

// fakeTransport is a programmable authority.  Errors are keyed by seat
// so one test can accept some seats and reject others.
type fakeTransport struct {
	mu         sync.Mutex
	selectErr  map[string]error
	deselErr   error
	extendErr  error
	confirmErr error
	snapshot   model.Snapshot
	snapErr    error
	expiresIn  time.Duration

	selects   []string
	deselects []string
	extends   []string
	confirms  [][]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{selectErr: make(map[string]error), expiresIn: 5 * time.Minute}
}

func (f *fakeTransport) Snapshot(ctx context.Context, showID string) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return model.Snapshot{}, f.snapErr
	}
	snap := f.snapshot
	if snap.ShowID == "" {
		snap.ShowID = showID
	}
	return snap, nil
}

func (f *fakeTransport) SelectSeat(ctx context.Context, showID, seatID, userID string) (model.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, seatID)
	if err := f.selectErr[seatID]; err != nil {
		return model.Hold{}, err
	}
	now := time.Now().UTC()
	return model.Hold{AcquiredAt: now, ExpiresAt: now.Add(f.expiresIn)}, nil
}

func (f *fakeTransport) DeselectSeat(ctx context.Context, showID, seatID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deselects = append(f.deselects, seatID)
	return f.deselErr
}

func (f *fakeTransport) ExtendHold(ctx context.Context, showID, seatID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends = append(f.extends, seatID)
	if f.extendErr != nil {
		return time.Time{}, f.extendErr
	}
	return time.Now().UTC().Add(f.expiresIn), nil
}

func (f *fakeTransport) ConfirmBooking(ctx context.Context, showID string, seatIDs []string, booking map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, seatIDs)
	if f.confirmErr != nil {
		return "", f.confirmErr
	}
	return "booking-1", nil
}

func (f *fakeTransport) selectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.selects)
}

// fakeChannel feeds events and connection transitions into the
// coordinator without a live connection and records subscription
// traffic.
type fakeChannel struct {
	*fakeTransport
	events chan model.Event
	states chan model.ConnState

	chMu   sync.Mutex
	joins  []string
	leaves int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		fakeTransport: newFakeTransport(),
		events:        make(chan model.Event, 16),
		states:        make(chan model.ConnState, 4),
	}
}

func (f *fakeChannel) JoinShow(ctx context.Context, showID string) error {
	f.chMu.Lock()
	defer f.chMu.Unlock()
	f.joins = append(f.joins, showID)
	return nil
}

func (f *fakeChannel) LeaveShow(ctx context.Context) error {
	f.chMu.Lock()
	defer f.chMu.Unlock()
	f.leaves++
	return nil
}

func (f *fakeChannel) State() model.ConnState         { return model.ConnDisconnected }
func (f *fakeChannel) Events() <-chan model.Event     { return f.events }
func (f *fakeChannel) States() <-chan model.ConnState { return f.states }

func (f *fakeChannel) joined() []string {
	f.chMu.Lock()
	defer f.chMu.Unlock()
	return append([]string(nil), f.joins...)
}

func (f *fakeChannel) leaveCount() int {
	f.chMu.Lock()
	defer f.chMu.Unlock()
	return f.leaves
}

// fakeStore records calls so tests can assert on persistence traffic.
type fakeStore struct {
	mu     sync.Mutex
	holds  map[string]model.Hold // seat -> hold
	clears int
}

func newFakeStore() *fakeStore { return &fakeStore{holds: make(map[string]model.Hold)} }

func (s *fakeStore) Save(ctx context.Context, hold model.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[hold.SeatID] = hold
	return nil
}

func (s *fakeStore) Remove(ctx context.Context, showID, seatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, seatID)
	return nil
}

func (s *fakeStore) List(ctx context.Context, showID, userID string) ([]model.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Hold, 0, len(s.holds))
	for _, h := range s.holds {
		out = append(out, h)
	}
	return out, nil
}

func (s *fakeStore) Clear(ctx context.Context, showID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds = make(map[string]model.Hold)
	s.clears++
	return nil
}

func (s *fakeStore) hold(seatID string) (model.Hold, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[seatID]
	return h, ok
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holds)
}

// fakeAnnouncer records cross-context broadcasts.
type fakeAnnouncer struct {
	mu      sync.Mutex
	actions []model.TabAction
	seats   []string
}

func (a *fakeAnnouncer) Announce(ctx context.Context, action model.TabAction, showID, seatID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	a.seats = append(a.seats, seatID)
	return nil
}

func newTestCoordinator(t *testing.T, tr Transport, store Store) *Coordinator {
	t.Helper()
	c, err := New(Options{
		UserID:      "user-1",
		HoldTTL:     15 * time.Minute,
		GraceWindow: 10 * time.Second,
		Fallback:    tr,
		Store:       store,
	})
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Close)
	return c
}

func seatStatus(t *testing.T, c *Coordinator, seatID string) model.SeatStatus {
	t.Helper()
	for _, v := range c.Seats() {
		if v.ID == seatID {
			return v.Status
		}
	}
	return model.SeatAvailable
}

func TestSelectSeatAcquiresHold(t *testing.T) {
	tr := newFakeTransport()
	store := newFakeStore()
	ann := &fakeAnnouncer{}
	c, err := New(Options{
		UserID:      "user-1",
		HoldTTL:     15 * time.Minute,
		GraceWindow: 10 * time.Second,
		Fallback:    tr,
		Store:       store,
	})
	require.NoError(t, err)
	c.SetAnnouncer(ann)
	c.Start()
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	hold, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", hold.SeatID)
	assert.Equal(t, "show-1", hold.ShowID)
	assert.Equal(t, "user-1", hold.UserID)
	assert.False(t, hold.ExpiresAt.IsZero())
	assert.Equal(t, model.SeatHeldSelf, seatStatus(t, c, "A1"))

	saved, ok := store.hold("A1")
	require.True(t, ok)
	assert.Equal(t, hold.ExpiresAt, saved.ExpiresAt)

	ann.mu.Lock()
	defer ann.mu.Unlock()
	require.Len(t, ann.actions, 1)
	assert.Equal(t, model.TabSelect, ann.actions[0])
}

func TestSelectSeatWithoutJoin(t *testing.T) {
	c := newTestCoordinator(t, newFakeTransport(), newFakeStore())
	_, err := c.SelectSeat(context.Background(), "A1")
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestSelectSeatValidation(t *testing.T) {
	c := newTestCoordinator(t, newFakeTransport(), newFakeStore())
	for _, bad := range []string{"", "has space", "ctrl\x01char", string(make([]byte, 80))} {
		_, err := c.SelectSeat(context.Background(), bad)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestSelectSeatConflictReverts(t *testing.T) {
	tr := newFakeTransport()
	tr.selectErr["A1"] = fmt.Errorf("taken: %w", ErrSeatConflict)
	store := newFakeStore()
	c := newTestCoordinator(t, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.ErrorIs(t, err, ErrSeatConflict)

	// The optimistic mark is rolled forward to held-other, never left
	// pending, and nothing is persisted.
	assert.Equal(t, model.SeatHeldOther, seatStatus(t, c, "A1"))
	assert.Equal(t, 0, store.count())
}

func TestSelectSeatIdempotentWhenHeld(t *testing.T) {
	tr := newFakeTransport()
	c := newTestCoordinator(t, tr, newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	first, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)
	again, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, first.ExpiresAt, again.ExpiresAt)
	// No second authority round trip for a seat we already hold.
	assert.Equal(t, 1, tr.selectCount())
}

func TestSelectSeatHeldByOther(t *testing.T) {
	tr := newFakeTransport()
	tr.snapshot = model.Snapshot{
		Version: 1,
		Seats: []model.Seat{
			{ID: "A1", Status: model.SeatHeldOther, HolderID: "user-2"},
		},
	}
	c := newTestCoordinator(t, tr, newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.ErrorIs(t, err, ErrSeatConflict)
	// Rejected locally; the authority is never asked.
	assert.Equal(t, 0, tr.selectCount())
}

func TestDeselectSeatRoundTrip(t *testing.T) {
	tr := newFakeTransport()
	store := newFakeStore()
	c := newTestCoordinator(t, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)
	require.NoError(t, c.DeselectSeat(context.Background(), "A1"))

	assert.Equal(t, model.SeatAvailable, seatStatus(t, c, "A1"))
	assert.Equal(t, 0, store.count())
	assert.Equal(t, []string{"A1"}, tr.deselects)
}

func TestDeselectSeatIdempotent(t *testing.T) {
	tr := newFakeTransport()
	c := newTestCoordinator(t, tr, newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	// Never held: succeeds with no authority call.
	require.NoError(t, c.DeselectSeat(context.Background(), "B7"))
	assert.Empty(t, tr.deselects)
}

func TestRenewHoldAdvancesExpiryOnly(t *testing.T) {
	tr := newFakeTransport()
	store := newFakeStore()
	c := newTestCoordinator(t, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	hold, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)

	newExp, err := c.RenewHold(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, newExp.After(hold.ExpiresAt.Add(-time.Second)))

	saved, ok := store.hold("A1")
	require.True(t, ok)
	assert.Equal(t, hold.AcquiredAt, saved.AcquiredAt, "renewal must not touch AcquiredAt")
	assert.Equal(t, uint32(1), saved.RenewalCount)
}

func TestRenewHoldNotOwned(t *testing.T) {
	c := newTestCoordinator(t, newFakeTransport(), newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))
	_, err := c.RenewHold(context.Background(), "A1")
	assert.ErrorIs(t, err, ErrSeatConflict)
}

func TestConfirmBookingClearsRecord(t *testing.T) {
	tr := newFakeTransport()
	store := newFakeStore()
	c := newTestCoordinator(t, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)
	_, err = c.SelectSeat(context.Background(), "A2")
	require.NoError(t, err)

	id, err := c.ConfirmBooking(context.Background(), []string{"A1", "A2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "booking-1", id)
	assert.Equal(t, model.SeatBooked, seatStatus(t, c, "A1"))
	assert.Equal(t, model.SeatBooked, seatStatus(t, c, "A2"))
	assert.Equal(t, 0, store.count())
	assert.Equal(t, 1, store.clears)
}

func TestConfirmBookingRequiresAllHeld(t *testing.T) {
	tr := newFakeTransport()
	c := newTestCoordinator(t, tr, newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)

	_, err = c.ConfirmBooking(context.Background(), []string{"A1", "A2"}, nil)
	require.ErrorIs(t, err, ErrSeatConflict)
	assert.Empty(t, tr.confirms, "booking must not reach the authority")
}

func TestCloseReleasesNothing(t *testing.T) {
	tr := newFakeTransport()
	store := newFakeStore()
	c := newTestCoordinator(t, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)
	c.Close()

	// Teardown must not deselect: the hold survives in the record for
	// the next context to restore.
	assert.Empty(t, tr.deselects)
	assert.Equal(t, 1, store.count())
}

func TestJoinReassertRestoredHolds(t *testing.T) {
	tr := newFakeTransport()
	tr.snapshot = model.Snapshot{
		Version: 1,
		Seats: []model.Seat{
			{ID: "A1", Status: model.SeatHeldOther, HolderID: "user-1"},
			{ID: "A2", Status: model.SeatAvailable},
		},
	}
	store := newFakeStore()
	now := time.Now().UTC()
	// A live hold and an expired one persisted by a previous context.
	require.NoError(t, store.Save(context.Background(), model.Hold{
		SeatID: "A1", ShowID: "show-1", UserID: "user-1",
		AcquiredAt: now.Add(-time.Minute), ExpiresAt: now.Add(10 * time.Minute),
	}))
	require.NoError(t, store.Save(context.Background(), model.Hold{
		SeatID: "A2", ShowID: "show-1", UserID: "user-1",
		AcquiredAt: now.Add(-20 * time.Minute), ExpiresAt: now.Add(-time.Minute),
	}))

	c := newTestCoordinator(t, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	assert.Equal(t, model.SeatHeldSelf, seatStatus(t, c, "A1"))
	assert.Equal(t, []string{"A1"}, tr.selects, "only the live hold is re-asserted")
	_, ok := store.hold("A2")
	assert.False(t, ok, "expired hold purged from the record")
}

func TestJoinReassertConflictDropsHold(t *testing.T) {
	tr := newFakeTransport()
	tr.selectErr["A1"] = fmt.Errorf("taken: %w", ErrSeatConflict)
	tr.snapshot = model.Snapshot{
		Version: 1,
		Seats:   []model.Seat{{ID: "A1", Status: model.SeatHeldOther, HolderID: "user-2"}},
	}
	store := newFakeStore()
	now := time.Now().UTC()
	require.NoError(t, store.Save(context.Background(), model.Hold{
		SeatID: "A1", ShowID: "show-1", UserID: "user-1",
		AcquiredAt: now, ExpiresAt: now.Add(10 * time.Minute),
	}))

	c := newTestCoordinator(t, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, ok := store.hold("A1")
	assert.False(t, ok, "conflicting hold removed, not retried")
	assert.NotEqual(t, model.SeatHeldSelf, seatStatus(t, c, "A1"))
}

func TestNoTransportUnavailable(t *testing.T) {
	ch := newFakeChannel()
	// Channel present but never connected, no fallback configured.
	c, err := New(Options{UserID: "user-1", Channel: ch, Store: newFakeStore()})
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Close)

	err = c.Join(context.Background(), "show-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func waitForStatus(t *testing.T, c *Coordinator, seatID string, want model.SeatStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return seatStatus(t, c, seatID) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func newEventCoordinator(t *testing.T, ch *fakeChannel, tr *fakeTransport, store Store) *Coordinator {
	t.Helper()
	c, err := New(Options{
		UserID:      "user-1",
		HoldTTL:     15 * time.Minute,
		GraceWindow: 10 * time.Second,
		Channel:     ch,
		Fallback:    tr,
		Store:       store,
	})
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Close)
	return c
}

func TestEventReleaseDropsOwnHold(t *testing.T) {
	ch := newFakeChannel()
	tr := newFakeTransport()
	store := newFakeStore()
	c := newEventCoordinator(t, ch, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)

	// Authoritative expiration: the only thing allowed to evict a hold.
	ch.events <- model.Event{Kind: model.EventSeatReleased, ShowID: "show-1", SeatID: "A1"}
	waitForStatus(t, c, "A1", model.SeatAvailable)
	assert.Equal(t, 0, store.count())
}

func TestExpirationWarningIsAdvisory(t *testing.T) {
	ch := newFakeChannel()
	tr := newFakeTransport()
	store := newFakeStore()
	c := newEventCoordinator(t, ch, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)

	ch.events <- model.Event{
		Kind: model.EventExpirationWarning, ShowID: "show-1",
		SeatID: "A1", TimeRemaining: 30 * time.Second,
	}
	require.Eventually(t, func() bool {
		for _, v := range c.Seats() {
			if v.ID == "A1" {
				return v.WarningRemaining > 0
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Still held: a warning never releases locally.
	assert.Equal(t, model.SeatHeldSelf, seatStatus(t, c, "A1"))
	assert.Equal(t, 1, store.count())
}

func TestEventOtherUserSelect(t *testing.T) {
	ch := newFakeChannel()
	c := newEventCoordinator(t, ch, newFakeTransport(), newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	ch.events <- model.Event{
		Kind: model.EventSeatSelected, ShowID: "show-1",
		SeatID: "B2", UserID: "user-2",
	}
	waitForStatus(t, c, "B2", model.SeatHeldOther)
}

func TestEventSiblingSelectAdoptsHold(t *testing.T) {
	ch := newFakeChannel()
	store := newFakeStore()
	c := newEventCoordinator(t, ch, newFakeTransport(), store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	// Same user, different context: the seat becomes held-self and the
	// hold joins this record.
	ch.events <- model.Event{
		Kind: model.EventSeatSelected, ShowID: "show-1",
		SeatID: "C3", UserID: "user-1",
	}
	waitForStatus(t, c, "C3", model.SeatHeldSelf)
	require.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventForOtherShowIgnored(t *testing.T) {
	ch := newFakeChannel()
	c := newEventCoordinator(t, ch, newFakeTransport(), newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	ch.events <- model.Event{
		Kind: model.EventSeatSelected, ShowID: "show-9",
		SeatID: "A1", UserID: "user-2",
	}
	// Give the loop a moment, then confirm nothing changed.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, model.SeatAvailable, seatStatus(t, c, "A1"))
}

func TestStaleEventSuperseded(t *testing.T) {
	ch := newFakeChannel()
	tr := newFakeTransport()
	tr.snapshot = model.Snapshot{
		Version: 10,
		Seats:   []model.Seat{{ID: "A1", Status: model.SeatAvailable}},
	}
	c := newEventCoordinator(t, ch, tr, newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	// Version 3 predates the merged snapshot; it must be dropped.
	ch.events <- model.Event{
		Kind: model.EventSeatSelected, ShowID: "show-1",
		SeatID: "A1", UserID: "user-2", Version: 3,
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, model.SeatAvailable, seatStatus(t, c, "A1"))
}

func TestSnapshotGraceWindowProtectsFreshHold(t *testing.T) {
	tr := newFakeTransport()
	c := newTestCoordinator(t, tr, newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)

	// A stale snapshot that predates the hold claims the seat is free.
	tr.mu.Lock()
	tr.snapshot = model.Snapshot{
		Version: 1,
		Seats:   []model.Seat{{ID: "A1", Status: model.SeatAvailable}},
	}
	tr.mu.Unlock()
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, model.SeatHeldSelf, seatStatus(t, c, "A1"),
		"hold inside the grace window survives a stale snapshot")
}

func TestSnapshotEvictsHoldOutsideGrace(t *testing.T) {
	tr := newFakeTransport()
	store := newFakeStore()
	c, err := New(Options{
		UserID:      "user-1",
		HoldTTL:     15 * time.Minute,
		GraceWindow: time.Nanosecond, // effectively no protection
		Fallback:    tr,
		Store:       store,
	})
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err = c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)

	tr.mu.Lock()
	tr.snapshot = model.Snapshot{
		Version: 2,
		Seats:   []model.Seat{{ID: "A1", Status: model.SeatHeldOther, HolderID: "user-2"}},
	}
	tr.mu.Unlock()
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, model.SeatHeldOther, seatStatus(t, c, "A1"))
	assert.Equal(t, 0, store.count(), "evicted hold leaves the record")
}

func TestApplyBookingConfirmed(t *testing.T) {
	tr := newFakeTransport()
	store := newFakeStore()
	c := newTestCoordinator(t, tr, store)
	require.NoError(t, c.Join(context.Background(), "show-1"))

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)

	c.ApplyBookingConfirmed("show-1", []string{"A1"}, "user-1")
	assert.Equal(t, model.SeatBooked, seatStatus(t, c, "A1"))
	assert.Equal(t, 0, store.count())
}

func TestConnFailedRoutesFallbackOnly(t *testing.T) {
	ch := newFakeChannel()
	tr := newFakeTransport()
	c := newEventCoordinator(t, ch, tr, newFakeStore())
	require.NoError(t, c.Join(context.Background(), "show-1"))

	ch.states <- model.ConnFailed
	require.Eventually(t, func() bool { return c.fallbackOnly.Load() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "fallback", c.Mode())

	_, err := c.SelectSeat(context.Background(), "A1")
	require.NoError(t, err)
	// The command went to the fallback transport, not the channel.
	assert.Equal(t, 1, tr.selectCount())
	assert.Equal(t, 0, ch.selectCount())
}

func TestReconnectRejoinsAndResyncs(t *testing.T) {
	ch := newFakeChannel()
	tr := newFakeTransport()
	store := newFakeStore()
	authoritative := model.Snapshot{
		Version: 1,
		Seats:   []model.Seat{{ID: "A1", Status: model.SeatHeldOther, HolderID: "user-1"}},
	}
	tr.snapshot = authoritative
	ch.fakeTransport.snapshot = authoritative
	require.NoError(t, store.Save(context.Background(), model.Hold{
		SeatID: "A1", ShowID: "show-1", UserID: "user-1",
		AcquiredAt: time.Now().UTC().Add(-time.Minute),
		ExpiresAt:  time.Now().UTC().Add(10 * time.Minute),
	}))
	c := newEventCoordinator(t, ch, tr, store)

	// Joined over the fallback while the channel was down.
	require.NoError(t, c.Join(context.Background(), "show-1"))
	require.Equal(t, 1, tr.selectCount())
	assert.Empty(t, ch.joined())

	// The channel comes back: the coordinator must rejoin the feed,
	// re-assert the persisted hold through the channel and merge a
	// fresh snapshot.  Reconnection without this resync is a bug.
	ch.states <- model.ConnConnected
	require.Eventually(t, func() bool {
		return len(ch.joined()) == 1 && ch.selectCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"show-1"}, ch.joined())
	assert.Equal(t, "channel", c.Mode())
	assert.Equal(t, model.SeatHeldSelf, seatStatus(t, c, "A1"))
	assert.Equal(t, 1, store.count())
}

func TestJoinSwitchLeavesPreviousShow(t *testing.T) {
	ch := newFakeChannel()
	c := newEventCoordinator(t, ch, newFakeTransport(), newFakeStore())

	ch.states <- model.ConnConnected
	require.Eventually(t, func() bool { return c.Mode() == "channel" }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Join(context.Background(), "show-1"))
	assert.Equal(t, 0, ch.leaveCount(), "first join has nothing to leave")

	require.NoError(t, c.Join(context.Background(), "show-2"))
	assert.Equal(t, 1, ch.leaveCount())
	assert.Equal(t, []string{"show-1", "show-2"}, ch.joined())
}

func TestClosedCoordinatorRejectsOperations(t *testing.T) {
	c := newTestCoordinator(t, newFakeTransport(), newFakeStore())
	c.Close()
	_, err := c.SelectSeat(context.Background(), "A1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOutcomeStrings(t *testing.T) {
	for outcome, want := range map[Outcome]string{
		OutcomeNone:      "none",
		OutcomeConfirmed: "confirmed",
		OutcomeHeldOther: "held-other",
		OutcomeLost:      "lost",
		OutcomeFreed:     "freed",
		OutcomeBooked:    "booked",
	} {
		assert.Equal(t, want, outcome.String())
	}
}

func TestSeatTransitions(t *testing.T) {
	next, outcome := nextOnSelected(model.SeatAvailable, true)
	assert.Equal(t, model.SeatHeldSelf, next)
	assert.Equal(t, OutcomeConfirmed, outcome)

	next, outcome = nextOnSelected(model.SeatHeldSelf, false)
	assert.Equal(t, model.SeatHeldOther, next)
	assert.Equal(t, OutcomeLost, outcome)

	next, outcome = nextOnFreed(model.SeatPendingSelf)
	assert.Equal(t, model.SeatPendingSelf, next, "in-flight selection is not clobbered by a free")
	assert.Equal(t, OutcomeNone, outcome)

	next, outcome = nextOnFreed(model.SeatHeldOther)
	assert.Equal(t, model.SeatAvailable, next)
	assert.Equal(t, OutcomeFreed, outcome)
}
