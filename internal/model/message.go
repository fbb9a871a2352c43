package model

import "time"

// TabAction enumerates the actions a viewing context broadcasts to its
// sibling contexts (other tabs/windows of the same client).
type TabAction string

const (
	// TabSelect announces that the origin context acquired a hold.
	TabSelect TabAction = "select"
	// TabDeselect announces that the origin context released a hold.
	TabDeselect TabAction = "deselect"
	// TabCancelBooking announces that a booking was cancelled.  A
	// cancellation can free many seats atomically, so receivers must
	// resync from the authority instead of patching locally.
	TabCancelBooking TabAction = "cancel-booking"
)

// TabMessage is the transient payload exchanged between sibling
// viewing contexts.  It is never persisted.
//
// Fields:
//  SeatID    - seat the action concerns (empty for cancel-booking).
//  UserID    - user who performed the action.
//  ShowID    - showtime the action concerns.
//  Action    - what happened, see TabAction.
//  OriginID  - unique ID of the publishing context; a context must
//              drop messages carrying its own OriginID (echo
//              suppression).
//  Timestamp - Unix milliseconds when the action happened; used for
//              last-write-wins ordering per seat.
type TabMessage struct {
	SeatID    string    `json:"seat_id,omitempty"`
	UserID    string    `json:"user_id"`
	ShowID    string    `json:"show_id"`
	Action    TabAction `json:"action"`
	OriginID  string    `json:"origin_id"`
	Timestamp int64     `json:"timestamp"`
}

// Time returns the message timestamp as a time.Time.
func (m TabMessage) Time() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// SessionRecord is the durable union of all holds owned by one user
// for one showtime.  It is created lazily on the first hold, restored
// on process start so a reload does not lose seats, and cleared
// atomically on booking completion, explicit cancellation or a full
// resync that diverges from local state.
//
// Fields:
//  ShowID      - showtime the record belongs to.
//  UserID      - owning user; a record never contains another user's
//                holds.
//  HeldSeats   - the holds the client currently believes it owns.
//  LastUpdated - when the record last changed.
type SessionRecord struct {
	ShowID      string    `json:"show_id"`
	UserID      string    `json:"user_id"`
	HeldSeats   []Hold    `json:"selected_seats"`
	LastUpdated time.Time `json:"last_updated"`
}
