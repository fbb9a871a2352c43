package coordinator

import (
	"context"
	"time"

	"github.com/iliyamo/seat-sync/internal/model"
)

// This file holds the run-loop side of the coordinator: application of
// authoritative push events, connection-state transitions, snapshot
// reconciliation and sibling-context messages.  Every function here
// executes on the serialized apply path.

// storeCtx bounds store I/O performed from the run loop.
func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}

// handleEvent applies one normalized push event.  Events for other
// shows are ignored; an event version older than the last merged
// snapshot is superseded and dropped.
func (c *Coordinator) handleEvent(ev model.Event) {
	if c.showID == "" || (ev.ShowID != "" && ev.ShowID != c.showID) {
		return
	}
	if ev.Version != 0 && ev.Version < c.version {
		return
	}
	if ev.Version > c.version {
		c.version = ev.Version
	}
	switch ev.Kind {
	case model.EventSeatsState:
		if ev.Snapshot != nil {
			c.applySnapshot(*ev.Snapshot)
		}
	case model.EventSeatSelected:
		e := c.entry(ev.SeatID)
		same := ev.UserID != "" && ev.UserID == c.userID
		next, outcome := nextOnSelected(e.seat.Status, same)
		e.seat.Status = next
		if same {
			e.seat.HolderID = c.userID
			if e.hold == nil {
				// Acquired by a sibling context; adopt it into the
				// session record.
				h := c.fillHold(model.Hold{}, ev.SeatID, c.showID)
				e.hold = &h
				e.assertedAt = time.Now().UTC()
				ctx, cancel := storeCtx()
				c.saveHold(ctx, h)
				cancel()
			}
		} else {
			e.seat.HolderID = ev.UserID
			if outcome == OutcomeLost {
				c.dropHold(e)
			}
		}
	case model.EventSeatDeselected, model.EventSeatReleased:
		e := c.entry(ev.SeatID)
		next, outcome := nextOnFreed(e.seat.Status)
		e.seat.Status = next
		if next == model.SeatAvailable {
			e.seat.HolderID = ""
		}
		if outcome == OutcomeLost {
			c.dropHold(e)
		}
		e.warningUntil = time.Time{}
	case model.EventSeatBooked:
		e := c.entry(ev.SeatID)
		if e.seat.Status == model.SeatHeldSelf {
			c.dropHold(e)
		}
		e.seat.Status, _ = nextOnBooked(e.seat.Status)
		e.seat.HolderID = ""
		e.warningUntil = time.Time{}
	case model.EventExpirationWarning:
		// Advisory only.  The seat is released exclusively on the
		// authoritative released/expired event; clock drift makes any
		// local eviction premature by construction.
		e := c.entry(ev.SeatID)
		if e.seat.Status == model.SeatHeldSelf && ev.TimeRemaining > 0 {
			e.warningUntil = time.Now().UTC().Add(ev.TimeRemaining)
		}
	case model.EventHoldExtended:
		e, ok := c.seats[ev.SeatID]
		if !ok || e.seat.Status != model.SeatHeldSelf || e.hold == nil {
			return
		}
		if !ev.NewExpiresAt.IsZero() && ev.NewExpiresAt.After(e.hold.ExpiresAt) {
			e.hold.ExpiresAt = ev.NewExpiresAt.UTC()
			e.hold.RenewalCount++
			e.warningUntil = time.Time{}
			ctx, cancel := storeCtx()
			c.saveHold(ctx, *e.hold)
			cancel()
		}
	}
}

// dropHold removes a hold from the seat entry and the session record.
func (c *Coordinator) dropHold(e *seatEntry) {
	if e.hold == nil {
		return
	}
	ctx, cancel := storeCtx()
	if err := c.opts.Store.Remove(ctx, c.showID, e.hold.SeatID); err != nil {
		// Resilient store has already degraded; nothing else to do.
		_ = err
	}
	cancel()
	e.hold = nil
	e.assertedAt = time.Time{}
}

// handleConnState reacts to channel lifecycle transitions.  Every
// successful (re)connect is followed by a full resync and a re-assert
// of persisted holds; reconnection without resync is a correctness
// bug, not an optimization to skip.  A failed state is terminal for
// the push path and flips the coordinator to fallback-only routing.
func (c *Coordinator) handleConnState(st model.ConnState) {
	c.connState.Store(st)
	switch st {
	case model.ConnConnected:
		if c.showID == "" {
			return
		}
		showID := c.showID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := c.opts.Channel.JoinShow(ctx, showID); err != nil {
				return
			}
			c.reassertHolds(ctx, c.opts.Channel, showID)
			snap, err := c.opts.Channel.Snapshot(ctx, showID)
			if err != nil {
				return
			}
			_ = c.do(func() { c.applySnapshot(snap) })
		}()
	case model.ConnFailed:
		c.fallbackOnly.Store(true)
	}
}

// applySnapshot merges a full authoritative snapshot.  Authoritative
// status wins for every seat except holds this session acquired or
// re-asserted inside the grace window, which protects a freshly
// (re)established hold from a pre-reconnect snapshot that predates it.
// The session record ends up exactly equal to the surviving holds; if
// the snapshot evicted any, the persisted record is cleared and
// rebuilt atomically rather than patched.
func (c *Coordinator) applySnapshot(snap model.Snapshot) {
	if snap.ShowID != "" && snap.ShowID != c.showID {
		return
	}
	if snap.Version != 0 && snap.Version < c.version {
		return
	}
	now := time.Now().UTC()
	next := make(map[string]*seatEntry, len(snap.Seats))
	evicted := false
	for _, as := range snap.Seats {
		e, known := c.seats[as.ID]
		if !known {
			e = &seatEntry{seat: model.Seat{ID: as.ID, Status: model.SeatAvailable}}
		}
		protected := e.hold != nil && now.Sub(e.assertedAt) < c.opts.GraceWindow
		status, _ := reconcileStatus(e.seat.Status, as, c.userID, protected)
		e.seat.Row, e.seat.Column, e.seat.Type = as.Row, as.Column, as.Type
		wasOurs := e.hold != nil
		e.seat.Status = status
		switch status {
		case model.SeatHeldSelf:
			e.seat.HolderID = c.userID
			if e.hold == nil {
				// The authority knows a hold we forgot (other context,
				// pre-restart).  Adopt it.
				h := c.fillHold(model.Hold{}, as.ID, c.showID)
				e.hold = &h
				e.assertedAt = now
			}
		case model.SeatHeldOther:
			e.seat.HolderID = as.HolderID
			if wasOurs {
				e.hold = nil
				evicted = true
			}
		default:
			e.seat.HolderID = ""
			if wasOurs && status != model.SeatPendingSelf {
				e.hold = nil
				evicted = true
			}
		}
		if status != model.SeatHeldSelf {
			e.warningUntil = time.Time{}
		}
		next[as.ID] = e
	}
	// Seats absent from a full snapshot no longer exist authoritatively.
	for id, e := range c.seats {
		if _, ok := next[id]; ok {
			continue
		}
		if e.hold != nil {
			evicted = true
		}
	}
	c.seats = next
	if snap.Version > c.version {
		c.version = snap.Version
	}
	c.lastSynced = now
	if evicted {
		// Divergence: rebuild the persisted record from scratch so it
		// equals exactly what we still own.
		ctx, cancel := storeCtx()
		defer cancel()
		if err := c.opts.Store.Clear(ctx, c.showID, c.userID); err != nil {
			return
		}
		for _, e := range c.seats {
			if e.hold != nil {
				c.saveHold(ctx, *e.hold)
			}
		}
	}
}

// ApplySibling merges a select/deselect performed in a sibling context
// of the same client.  Messages from the same user merge into the
// session record as held-self; messages from a different user only
// flip the observed status and never touch the record.  Origin
// filtering and last-write-wins ordering happened upstream in the
// synchronizer.  Implements crosstab.Sink.
func (c *Coordinator) ApplySibling(msg model.TabMessage, sameUser bool) {
	_ = c.do(func() {
		if c.showID == "" || msg.ShowID != c.showID {
			return
		}
		e := c.entry(msg.SeatID)
		if e.seat.Status == model.SeatBooked {
			return
		}
		switch msg.Action {
		case model.TabSelect:
			if sameUser {
				e.seat.Status = model.SeatHeldSelf
				e.seat.HolderID = c.userID
				if e.hold == nil {
					h := c.fillHold(model.Hold{}, msg.SeatID, c.showID)
					h.AcquiredAt = msg.Time()
					h.ExpiresAt = h.AcquiredAt.Add(c.opts.HoldTTL)
					e.hold = &h
					e.assertedAt = time.Now().UTC()
					ctx, cancel := storeCtx()
					c.saveHold(ctx, h)
					cancel()
				}
			} else if e.seat.Status != model.SeatHeldSelf {
				e.seat.Status = model.SeatHeldOther
				e.seat.HolderID = msg.UserID
			}
		case model.TabDeselect:
			if sameUser {
				c.dropHold(e)
				e.seat.Status = model.SeatAvailable
				e.seat.HolderID = ""
			} else if e.seat.Status == model.SeatHeldOther {
				e.seat.Status = model.SeatAvailable
				e.seat.HolderID = ""
			}
			e.warningUntil = time.Time{}
		}
	})
}

// ApplyBookingConfirmed marks seats as sold on behalf of the booking
// lifecycle consumer.  Own seats leave the session record; a booking
// by this user clears the full record, matching the atomic-clear rule.
func (c *Coordinator) ApplyBookingConfirmed(showID string, seatIDs []string, userID string) {
	_ = c.do(func() {
		if c.showID == "" || showID != c.showID {
			return
		}
		for _, id := range seatIDs {
			e := c.entry(id)
			if e.hold != nil {
				c.dropHold(e)
			}
			e.seat.Status = model.SeatBooked
			e.seat.HolderID = ""
			e.warningUntil = time.Time{}
		}
		if userID == c.userID {
			ctx, cancel := storeCtx()
			_ = c.opts.Store.Clear(ctx, showID, c.userID)
			cancel()
		}
	})
}
