package model

import "time"

// Hold represents a temporary, time-bounded claim by one session on
// one seat.  A hold is created by a successful select and destroyed by
// deselect, expiration, booking confirmation or authoritative
// rejection.  The TTL is fixed at acquisition; a renewal advances
// ExpiresAt by one TTL from the previous deadline and never touches
// AcquiredAt.
//
// Fields:
//  SeatID       - seat being held.
//  ShowID       - showtime the seat belongs to.
//  SessionID    - viewing context that acquired the hold.
//  UserID       - user who owns the hold.
//  AcquiredAt   - when the hold was first granted.  Immutable.
//  ExpiresAt    - when the hold lapses unless renewed.
//  RenewalCount - how many times ExpiresAt has been advanced.
type Hold struct {
	SeatID       string    `json:"seat_id"`
	ShowID       string    `json:"show_id"`
	SessionID    string    `json:"session_id,omitempty"`
	UserID       string    `json:"user_id"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	RenewalCount uint32    `json:"renewal_count,omitempty"`
}

// Expired reports whether the hold has lapsed at the given instant.
// Comparisons are done in UTC to match the authority's clock handling.
func (h Hold) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now.UTC())
}
