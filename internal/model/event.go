package model

import "time"

// EventKind identifies an inbound push event from the authoritative
// store.  The wire names match the channel protocol.
type EventKind string

const (
	EventSeatsState        EventKind = "seats-state"
	EventSeatSelected      EventKind = "seat-selected"
	EventSeatDeselected    EventKind = "seat-deselected"
	EventSeatReleased      EventKind = "seat-released"
	EventSeatBooked        EventKind = "seat-booked"
	EventExpirationWarning EventKind = "seat-expiration-warning"
	EventHoldExtended      EventKind = "seat-hold-extended"
)

// Event is the canonical, normalized form of a push event.  Raw
// payloads reach the engine with several legacy spellings for the same
// concept (seat_id/seatId/seat and so on); the channel boundary
// normalizes all of them into this one schema and nothing past that
// boundary ever sees the variance.  Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind          EventKind
	ShowID        string
	SeatID        string
	UserID        string        // holder for seat-selected
	Status        SeatStatus    // observed status for seat-selected
	BookingID     string        // for seat-booked
	TimeRemaining time.Duration // for seat-expiration-warning
	NewExpiresAt  time.Time     // for seat-hold-extended
	Version       uint64        // authority logical clock, when provided
	Snapshot      *Snapshot     // for seats-state
}
