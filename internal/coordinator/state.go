package coordinator

import "github.com/iliyamo/seat-sync/internal/model"

// Outcome describes what a state transition meant for this session.
// Transitions are pure: they return the next status and an outcome,
// and the presentation layer decides what, if anything, to tell the
// user about it.  No notification or I/O happens in this file.
type Outcome int

const (
	// OutcomeNone: nothing user-visible changed.
	OutcomeNone Outcome = iota
	// OutcomeConfirmed: an optimistic selection was confirmed.
	OutcomeConfirmed
	// OutcomeHeldOther: another user took a seat that was available.
	OutcomeHeldOther
	// OutcomeLost: a seat this session held (or was acquiring) was
	// released, expired or taken by the authority.
	OutcomeLost
	// OutcomeFreed: a seat held by another user became available.
	OutcomeFreed
	// OutcomeBooked: the seat was sold.  Terminal.
	OutcomeBooked
)

// String returns a short diagnostic name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeHeldOther:
		return "held-other"
	case OutcomeLost:
		return "lost"
	case OutcomeFreed:
		return "freed"
	case OutcomeBooked:
		return "booked"
	default:
		return "none"
	}
}

// nextOnSelected computes the status after an authoritative
// seat-selected event.  sameUser is true when the event's holder is
// this session's user (the hold may have been acquired in a sibling
// context).  Booked is terminal and never downgraded.
func nextOnSelected(cur model.SeatStatus, sameUser bool) (model.SeatStatus, Outcome) {
	if cur == model.SeatBooked {
		return cur, OutcomeNone
	}
	if sameUser {
		if cur == model.SeatHeldSelf {
			return cur, OutcomeNone
		}
		return model.SeatHeldSelf, OutcomeConfirmed
	}
	switch cur {
	case model.SeatHeldSelf, model.SeatPendingSelf:
		// The authority granted the seat to someone else; whatever we
		// thought we had is gone.
		return model.SeatHeldOther, OutcomeLost
	case model.SeatHeldOther:
		return cur, OutcomeNone
	default:
		return model.SeatHeldOther, OutcomeHeldOther
	}
}

// nextOnFreed computes the status after a seat-deselected,
// seat-released or authoritative expiration event.  A pending
// selection is left alone: the free refers to the previous holder and
// our own in-flight select will be resolved by its reply.
func nextOnFreed(cur model.SeatStatus) (model.SeatStatus, Outcome) {
	switch cur {
	case model.SeatBooked, model.SeatPendingSelf:
		return cur, OutcomeNone
	case model.SeatHeldSelf:
		return model.SeatAvailable, OutcomeLost
	case model.SeatHeldOther:
		return model.SeatAvailable, OutcomeFreed
	default:
		return model.SeatAvailable, OutcomeNone
	}
}

// nextOnBooked computes the status after a seat-booked event.
func nextOnBooked(cur model.SeatStatus) (model.SeatStatus, Outcome) {
	if cur == model.SeatBooked {
		return cur, OutcomeNone
	}
	return model.SeatBooked, OutcomeBooked
}

// authoritativeStatus maps a snapshot seat to the status this session
// should observe for it, based on who holds it.
func authoritativeStatus(seat model.Seat, ownUser string) model.SeatStatus {
	switch seat.Status {
	case model.SeatBooked:
		return model.SeatBooked
	case model.SeatHeldSelf, model.SeatHeldOther:
		if seat.HolderID == ownUser && ownUser != "" {
			return model.SeatHeldSelf
		}
		return model.SeatHeldOther
	default:
		return model.SeatAvailable
	}
}

// reconcileStatus decides the post-snapshot status of one seat.  The
// authoritative status wins for every seat except:
//
//   - a held-self entry still inside the post-reconnect grace window
//     (protected), so a pre-reconnect snapshot cannot evict a hold the
//     session just re-established, and
//   - a pending-self entry, whose in-flight select will be resolved by
//     its own reply rather than by the snapshot.
func reconcileStatus(cur model.SeatStatus, auth model.Seat, ownUser string, protected bool) (model.SeatStatus, Outcome) {
	want := authoritativeStatus(auth, ownUser)
	if cur == want {
		return cur, OutcomeNone
	}
	if cur == model.SeatPendingSelf && want == model.SeatAvailable {
		return cur, OutcomeNone
	}
	if cur == model.SeatHeldSelf && protected && want != model.SeatBooked {
		return cur, OutcomeNone
	}
	switch want {
	case model.SeatBooked:
		return want, OutcomeBooked
	case model.SeatHeldSelf:
		return want, OutcomeConfirmed
	case model.SeatHeldOther:
		if cur == model.SeatHeldSelf || cur == model.SeatPendingSelf {
			return want, OutcomeLost
		}
		return want, OutcomeHeldOther
	default:
		if cur == model.SeatHeldSelf {
			return want, OutcomeLost
		}
		return want, OutcomeFreed
	}
}
