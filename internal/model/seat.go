package model

// SeatStatus describes the locally observed availability of a seat.
// The value is a derived view: the authoritative store owns the real
// seat state and this engine only tracks what it has been told, plus
// its own optimistic marks while a command is in flight.
type SeatStatus string

const (
	// SeatAvailable means the seat is free for anyone to select.
	SeatAvailable SeatStatus = "available"
	// SeatPendingSelf means a select command has been sent for this
	// seat and confirmation from the authority is still outstanding.
	SeatPendingSelf SeatStatus = "pending-self"
	// SeatHeldSelf means the seat is held by this user's session.
	SeatHeldSelf SeatStatus = "held-self"
	// SeatHeldOther means the seat is held by a different user.
	SeatHeldOther SeatStatus = "held-other"
	// SeatBooked means the seat has been sold. Terminal.
	SeatBooked SeatStatus = "booked"
)

// Seat describes a single seat of a showtime as observed by this
// engine.  Geometry fields come from the external layout catalog and
// never change; Status and HolderID follow the live hold state.
//
// Fields:
//  ID       - seat identifier, e.g. "C5".
//  Row      - row label, e.g. "C".
//  Column   - seat number within the row.
//  Type     - seat class (STANDARD, VIP, ACCESSIBLE).
//  Status   - observed availability, see SeatStatus.
//  HolderID - user currently holding the seat, empty when free.
type Seat struct {
	ID       string     `json:"id"`
	Row      string     `json:"row"`
	Column   uint32     `json:"column"`
	Type     string     `json:"type"`
	Status   SeatStatus `json:"status"`
	HolderID string     `json:"holder_id,omitempty"`
}
