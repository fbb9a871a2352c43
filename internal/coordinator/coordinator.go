package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-sync/internal/model"
)

// Options configures a Coordinator.  Channel, Fallback and Tabs are
// optional; Store is required (use the in-memory session store at
// minimum).  At least one of Channel and Fallback must be present.
type Options struct {
	UserID    string        // user this viewing context acts for
	SessionID string        // context identifier; generated when empty
	HoldTTL   time.Duration // hold lifetime used for synthesized expiries
	// GraceWindow protects holds acquired within this duration from
	// being evicted by a stale authoritative snapshot after reconnect.
	GraceWindow time.Duration
	// RefreshInterval bounds staleness on the fallback path; zero
	// disables the periodic refresh.
	RefreshInterval time.Duration

	Channel  Channel
	Fallback Transport
	Store    Store
	Tabs     Announcer
}

// seatEntry is the coordinator's book-keeping for one seat.  Only the
// run loop touches it.
type seatEntry struct {
	seat         model.Seat
	hold         *model.Hold
	assertedAt   time.Time // when this session last (re)acquired the hold
	warningUntil time.Time // advisory expiration warning deadline
}

// task is a unit of work executed on the serialized apply path.
type task struct {
	fn   func()
	done chan struct{}
}

// Coordinator is the hold state machine.  All four local event sources
// (user intents, push events, cross-context messages and fallback
// refreshes) funnel through one run loop; the seat map is mutated
// nowhere else.  Public methods are safe for concurrent use.
type Coordinator struct {
	opts      Options
	userID    string
	sessionID string

	tasks chan task
	quit  chan struct{}

	connState    atomic.Value // model.ConnState
	fallbackOnly atomic.Bool  // set after terminal auth failure
	resyncing    atomic.Bool

	// Everything below is owned by the run loop.
	showID     string
	seats      map[string]*seatEntry
	version    uint64
	lastSynced time.Time
}

// New builds a Coordinator.  Run Start before using it.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("coordinator: nil session store")
	}
	if opts.Channel == nil && opts.Fallback == nil {
		return nil, errors.New("coordinator: need a channel or a fallback transport")
	}
	if !validID(opts.UserID) {
		return nil, fmt.Errorf("coordinator: %w: user id", ErrValidation)
	}
	sid := opts.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = 15 * time.Minute
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 10 * time.Second
	}
	c := &Coordinator{
		opts:      opts,
		userID:    opts.UserID,
		sessionID: sid,
		tasks:     make(chan task),
		quit:      make(chan struct{}),
		seats:     make(map[string]*seatEntry),
	}
	c.connState.Store(model.ConnDisconnected)
	return c, nil
}

// SessionID returns the identifier of this viewing context.  It doubles
// as the cross-context origin ID for echo suppression.
func (c *Coordinator) SessionID() string { return c.sessionID }

// UserID returns the user this context acts for.
func (c *Coordinator) UserID() string { return c.userID }

// SetAnnouncer installs the cross-context fan-out.  The synchronizer
// needs the coordinator as its sink, so the two are built in sequence;
// call this before Start.
func (c *Coordinator) SetAnnouncer(a Announcer) { c.opts.Tabs = a }

// Start launches the run loop.  It returns immediately; the loop stops
// when Close is called.
func (c *Coordinator) Start() {
	go c.run()
}

// Close shuts the run loop down.  Deliberately, it releases nothing:
// tearing down a viewing context must not cost the user their seats.
// Holds end only by explicit deselect, authoritative expiration or a
// completed booking.
func (c *Coordinator) Close() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

// run is the single serialized apply path.  Concurrent unserialized
// mutation of the seat map is the bug class this loop exists to
// prevent; nothing outside it may touch c.seats.
func (c *Coordinator) run() {
	var events <-chan model.Event
	var states <-chan model.ConnState
	if c.opts.Channel != nil {
		events = c.opts.Channel.Events()
		states = c.opts.Channel.States()
	}
	var refresh <-chan time.Time
	if c.opts.RefreshInterval > 0 {
		t := time.NewTicker(c.opts.RefreshInterval)
		defer t.Stop()
		refresh = t.C
	}
	for {
		select {
		case <-c.quit:
			return
		case t := <-c.tasks:
			t.fn()
			close(t.done)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ev)
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			c.handleConnState(st)
		case <-refresh:
			if c.showID != "" && !c.channelLive() {
				c.triggerResync("fallback refresh")
			}
		}
	}
}

// do executes fn on the run loop and waits for it to finish.
func (c *Coordinator) do(fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case c.tasks <- t:
	case <-c.quit:
		return ErrClosed
	}
	select {
	case <-t.done:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// validID rejects empty, oversized or whitespace/control identifiers.
// Operations on such identifiers fail before any network call.
func validID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}

// transport returns whichever path currently carries commands: the
// channel when connected, otherwise the fallback gateway.  After an
// authentication rejection the channel is never considered again.
func (c *Coordinator) transport() (Transport, error) {
	if c.channelLive() && !c.fallbackOnly.Load() {
		return c.opts.Channel, nil
	}
	if c.opts.Fallback != nil {
		return c.opts.Fallback, nil
	}
	return nil, ErrUnavailable
}

func (c *Coordinator) channelLive() bool {
	st, _ := c.connState.Load().(model.ConnState)
	return c.opts.Channel != nil && st.Live()
}

// Join subscribes this context to a showtime: it joins the push feed
// when the channel is live, restores the persisted session record,
// re-asserts restored holds against the authority and merges a full
// snapshot.  The coordinator, not the persistence layer, decides
// whether a restored hold is still valid.
func (c *Coordinator) Join(ctx context.Context, showID string) error {
	if !validID(showID) {
		return fmt.Errorf("%w: show id %q", ErrValidation, showID)
	}
	var prev string
	if err := c.do(func() {
		prev = c.showID
		c.showID = showID
		c.seats = make(map[string]*seatEntry)
		c.version = 0
	}); err != nil {
		return err
	}
	if c.channelLive() {
		if prev != "" && prev != showID {
			// Tell the store we left the old feed; a dangling
			// subscription keeps delivering events we would only discard.
			if err := c.opts.Channel.LeaveShow(ctx); err != nil {
				log.Printf("coordinator: leave %s: %v", prev, err)
			}
		}
		if err := c.opts.Channel.JoinShow(ctx, showID); err != nil {
			log.Printf("coordinator: join via channel failed: %v; continuing on fallback", err)
		}
	}
	tr, err := c.transport()
	if err != nil {
		return err
	}
	c.reassertHolds(ctx, tr, showID)
	snap, err := tr.Snapshot(ctx, showID)
	if err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	return c.do(func() { c.applySnapshot(snap) })
}

// reassertHolds replays the persisted session record against the
// authoritative path.  Expired entries are purged, conflicting ones
// dropped; surviving holds are marked as freshly asserted so the next
// snapshot cannot evict them.
func (c *Coordinator) reassertHolds(ctx context.Context, tr Transport, showID string) {
	holds, err := c.opts.Store.List(ctx, showID, c.userID)
	if err != nil {
		log.Printf("coordinator: restore session record: %v", err)
		return
	}
	now := time.Now().UTC()
	for _, h := range holds {
		if h.Expired(now) {
			_ = c.opts.Store.Remove(ctx, showID, h.SeatID)
			continue
		}
		granted, err := tr.SelectSeat(ctx, showID, h.SeatID, c.userID)
		if err != nil {
			if errors.Is(err, ErrSeatConflict) {
				// Someone else got it while we were away.
				_ = c.opts.Store.Remove(ctx, showID, h.SeatID)
			} else {
				log.Printf("coordinator: re-assert %s: %v", h.SeatID, err)
			}
			continue
		}
		hold := c.fillHold(granted, h.SeatID, showID)
		hold.RenewalCount = h.RenewalCount
		_ = c.do(func() {
			e := c.entry(h.SeatID)
			e.seat.Status = model.SeatHeldSelf
			e.seat.HolderID = c.userID
			e.hold = &hold
			e.assertedAt = time.Now().UTC()
		})
		c.saveHold(ctx, hold)
	}
}

// SelectSeat places an optimistic hold on a seat and confirms it with
// the authority through whichever transport is active.  On rejection
// the optimistic mark is reverted and ErrSeatConflict returned; the
// operation is never silently retried.
func (c *Coordinator) SelectSeat(ctx context.Context, seatID string) (model.Hold, error) {
	if !validID(seatID) {
		return model.Hold{}, fmt.Errorf("%w: seat id %q", ErrValidation, seatID)
	}
	var (
		showID   string
		existing model.Hold
		opErr    error
	)
	if err := c.do(func() {
		if c.showID == "" {
			opErr = ErrNotJoined
			return
		}
		showID = c.showID
		e := c.entry(seatID)
		switch e.seat.Status {
		case model.SeatHeldSelf:
			existing = *e.hold
			opErr = errAlreadyHeld
		case model.SeatPendingSelf:
			opErr = fmt.Errorf("%w: selection already in flight", ErrSeatConflict)
		case model.SeatHeldOther:
			opErr = fmt.Errorf("%w: seat %s", ErrSeatConflict, seatID)
		case model.SeatBooked:
			opErr = fmt.Errorf("%w: seat %s is booked", ErrSeatConflict, seatID)
		default:
			e.seat.Status = model.SeatPendingSelf
			e.seat.HolderID = c.userID
		}
	}); err != nil {
		return model.Hold{}, err
	}
	if opErr != nil {
		if errors.Is(opErr, errAlreadyHeld) {
			return existing, nil
		}
		return model.Hold{}, opErr
	}

	tr, err := c.transport()
	if err != nil {
		c.revertPending(seatID)
		return model.Hold{}, err
	}
	granted, err := tr.SelectSeat(ctx, showID, seatID, c.userID)
	if err != nil {
		c.revertPending(seatID)
		if errors.Is(err, ErrSeatConflict) {
			_ = c.do(func() {
				e := c.entry(seatID)
				if e.seat.Status == model.SeatAvailable {
					e.seat.Status = model.SeatHeldOther
					e.seat.HolderID = ""
				}
			})
		}
		return model.Hold{}, err
	}

	hold := c.fillHold(granted, seatID, showID)
	_ = c.do(func() {
		e := c.entry(seatID)
		e.seat.Status = model.SeatHeldSelf
		e.seat.HolderID = c.userID
		e.hold = &hold
		e.assertedAt = time.Now().UTC()
	})
	c.saveHold(ctx, hold)
	c.announce(ctx, model.TabSelect, showID, seatID)
	return hold, nil
}

// errAlreadyHeld is internal plumbing for the idempotent re-select.
var errAlreadyHeld = errors.New("already held")

// fillHold completes a transport-granted hold with whatever fields the
// authority did not supply.
func (c *Coordinator) fillHold(granted model.Hold, seatID, showID string) model.Hold {
	now := time.Now().UTC()
	h := granted
	h.SeatID = seatID
	h.ShowID = showID
	h.UserID = c.userID
	h.SessionID = c.sessionID
	if h.AcquiredAt.IsZero() {
		h.AcquiredAt = now
	}
	if h.ExpiresAt.IsZero() {
		h.ExpiresAt = h.AcquiredAt.Add(c.opts.HoldTTL)
	}
	return h
}

func (c *Coordinator) revertPending(seatID string) {
	_ = c.do(func() {
		e, ok := c.seats[seatID]
		if !ok || e.seat.Status != model.SeatPendingSelf {
			return
		}
		e.seat.Status = model.SeatAvailable
		e.seat.HolderID = ""
		e.hold = nil
	})
}

// DeselectSeat releases a hold.  It is idempotent: deselecting a seat
// this session does not hold is a no-op, not an error.
func (c *Coordinator) DeselectSeat(ctx context.Context, seatID string) error {
	if !validID(seatID) {
		return fmt.Errorf("%w: seat id %q", ErrValidation, seatID)
	}
	var (
		showID string
		held   bool
	)
	if err := c.do(func() {
		showID = c.showID
		e, ok := c.seats[seatID]
		if !ok || e.seat.Status != model.SeatHeldSelf {
			return
		}
		held = true
		e.seat.Status = model.SeatAvailable
		e.seat.HolderID = ""
		e.hold = nil
		e.warningUntil = time.Time{}
	}); err != nil {
		return err
	}
	if !held {
		return nil
	}
	tr, err := c.transport()
	if err != nil {
		return err
	}
	if err := tr.DeselectSeat(ctx, showID, seatID, c.userID); err != nil {
		// The local mark and the authority may now disagree; resolve by
		// resync rather than guessing.
		c.triggerResync("deselect failed")
		return fmt.Errorf("deselect %s: %w", seatID, err)
	}
	if err := c.opts.Store.Remove(ctx, showID, seatID); err != nil {
		log.Printf("coordinator: remove persisted hold %s: %v", seatID, err)
	}
	c.announce(ctx, model.TabDeselect, showID, seatID)
	return nil
}

// RenewHold advances the expiry of an owned hold.  It fails with
// ErrSeatConflict when the hold is not owned by this session or has
// already expired; success advances ExpiresAt only, AcquiredAt never
// changes.
func (c *Coordinator) RenewHold(ctx context.Context, seatID string) (time.Time, error) {
	if !validID(seatID) {
		return time.Time{}, fmt.Errorf("%w: seat id %q", ErrValidation, seatID)
	}
	var (
		showID string
		opErr  error
	)
	if err := c.do(func() {
		showID = c.showID
		e, ok := c.seats[seatID]
		if !ok || e.seat.Status != model.SeatHeldSelf || e.hold == nil {
			opErr = fmt.Errorf("%w: hold not owned", ErrSeatConflict)
			return
		}
		if e.hold.Expired(time.Now()) {
			opErr = fmt.Errorf("%w: hold already expired", ErrSeatConflict)
		}
	}); err != nil {
		return time.Time{}, err
	}
	if opErr != nil {
		return time.Time{}, opErr
	}
	tr, err := c.transport()
	if err != nil {
		return time.Time{}, err
	}
	newExp, err := tr.ExtendHold(ctx, showID, seatID)
	if err != nil {
		if errors.Is(err, ErrSeatConflict) {
			// Stale renewal: the authority already let the hold lapse.
			c.triggerResync("stale renewal")
		}
		return time.Time{}, err
	}
	var updated model.Hold
	_ = c.do(func() {
		e, ok := c.seats[seatID]
		if !ok || e.hold == nil {
			return
		}
		if newExp.IsZero() {
			newExp = e.hold.ExpiresAt.Add(c.opts.HoldTTL)
		}
		e.hold.ExpiresAt = newExp.UTC()
		e.hold.RenewalCount++
		e.warningUntil = time.Time{}
		updated = *e.hold
	})
	if updated.SeatID != "" {
		c.saveHold(ctx, updated)
	}
	return newExp, nil
}

// ConfirmBooking finalizes the given held seats through the booking
// service and clears the session record atomically.
func (c *Coordinator) ConfirmBooking(ctx context.Context, seatIDs []string, booking map[string]any) (string, error) {
	if len(seatIDs) == 0 {
		return "", fmt.Errorf("%w: no seats", ErrValidation)
	}
	for _, id := range seatIDs {
		if !validID(id) {
			return "", fmt.Errorf("%w: seat id %q", ErrValidation, id)
		}
	}
	var (
		showID string
		opErr  error
	)
	if err := c.do(func() {
		if c.showID == "" {
			opErr = ErrNotJoined
			return
		}
		showID = c.showID
		for _, id := range seatIDs {
			e, ok := c.seats[id]
			if !ok || e.seat.Status != model.SeatHeldSelf {
				opErr = fmt.Errorf("%w: seat %s not held", ErrSeatConflict, id)
				return
			}
		}
	}); err != nil {
		return "", err
	}
	if opErr != nil {
		return "", opErr
	}
	tr, err := c.transport()
	if err != nil {
		return "", err
	}
	bookingID, err := tr.ConfirmBooking(ctx, showID, seatIDs, booking)
	if err != nil {
		return "", err
	}
	_ = c.do(func() {
		for _, id := range seatIDs {
			e := c.entry(id)
			e.seat.Status = model.SeatBooked
			e.seat.HolderID = ""
			e.hold = nil
			e.warningUntil = time.Time{}
		}
	})
	if err := c.opts.Store.Clear(ctx, showID, c.userID); err != nil {
		log.Printf("coordinator: clear session record: %v", err)
	}
	return bookingID, nil
}

// Refresh fetches and merges a full authoritative snapshot.  On the
// fallback path this is the manual staleness bound, alongside the
// periodic refresh ticker.
func (c *Coordinator) Refresh(ctx context.Context) error {
	var showID string
	if err := c.do(func() { showID = c.showID }); err != nil {
		return err
	}
	if showID == "" {
		return ErrNotJoined
	}
	tr, err := c.transport()
	if err != nil {
		return err
	}
	snap, err := tr.Snapshot(ctx, showID)
	if err != nil {
		return err
	}
	return c.do(func() { c.applySnapshot(snap) })
}

// triggerResync requests a full snapshot in the background.  Used
// whenever event ordering is ambiguous; the engine resyncs instead of
// guessing.  Concurrent triggers collapse into one fetch.
func (c *Coordinator) triggerResync(reason string) {
	if !c.resyncing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.resyncing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrNotJoined) {
			log.Printf("coordinator: resync (%s): %v", reason, err)
		}
	}()
}

// ForceResync requests a full authoritative resync.  Invoked by the
// cross-context synchronizer on cancel-booking messages and by the
// booking lifecycle consumer: a cancellation can free many seats
// atomically, and point-wise patching would risk divergence.
func (c *Coordinator) ForceResync(reason string) {
	c.triggerResync(reason)
}

// ShowID returns the currently joined showtime, or "".
func (c *Coordinator) ShowID() string {
	var id string
	_ = c.do(func() { id = c.showID })
	return id
}

// entry returns the book-keeping for a seat, creating it on first
// sight.  Run-loop only.
func (c *Coordinator) entry(seatID string) *seatEntry {
	e, ok := c.seats[seatID]
	if !ok {
		e = &seatEntry{seat: model.Seat{ID: seatID, Status: model.SeatAvailable}}
		c.seats[seatID] = e
	}
	return e
}

// saveHold persists a hold, degrading silently: the resilient store
// already falls back to memory and warns once on storage failure.
func (c *Coordinator) saveHold(ctx context.Context, h model.Hold) {
	if err := c.opts.Store.Save(ctx, h); err != nil {
		log.Printf("coordinator: persist hold %s: %v", h.SeatID, err)
	}
}

func (c *Coordinator) announce(ctx context.Context, action model.TabAction, showID, seatID string) {
	if c.opts.Tabs == nil {
		return
	}
	if err := c.opts.Tabs.Announce(ctx, action, showID, seatID); err != nil {
		log.Printf("coordinator: cross-context announce: %v", err)
	}
}
