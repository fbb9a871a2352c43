// Package queue contains the background consumer that listens to the
// booking.lifecycle queue and feeds booking outcomes into the engine.
package queue

// Lifecycle event kinds carried on the booking.lifecycle queue.
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)

// BookingLifecycleEvent is published by the booking service whenever a
// reservation is finalized or torn down.  It contains enough for
// consumers to update seat state without querying the primary store.
type BookingLifecycleEvent struct {
	Event      string   `json:"event"`
	BookingID  string   `json:"booking_id"`
	UserID     string   `json:"user_id"`
	ShowID     string   `json:"show_id"`
	SeatIDs    []string `json:"seats"`
	OccurredAt string   `json:"occurred_at"`
}
