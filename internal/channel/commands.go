package channel

import (
	"time"
)

// Command actions understood by the authoritative store.  The wire
// names match the protocol the store exposes to all clients.
const (
	cmdAuthenticate = "authenticate"
	cmdJoin         = "join-subscription"
	cmdLeave        = "leave-subscription"
	cmdSelect       = "select-seat"
	cmdDeselect     = "deselect-seat"
	cmdExtend       = "extend-hold"
	cmdGetState     = "get-state"
	cmdConfirm      = "confirm-booking"
)

// command is the outbound wire format.  Every command carries a
// correlation ID and the session reply channel; the store answers on
// that channel with a reply bearing the same ID.
type command struct {
	ID      string         `json:"command_id"`
	Action  string         `json:"action"`
	ShowID  string         `json:"show_id,omitempty"`
	SeatID  string         `json:"seat_id,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
	SeatIDs []string       `json:"seat_ids,omitempty"`
	Booking map[string]any `json:"booking,omitempty"`
	Token   string         `json:"token,omitempty"`
	ReplyTo string         `json:"reply_to"`
}

// Reply error codes.
const (
	replyErrConflict     = "conflict"
	replyErrUnauthorized = "unauthorized"
	replyErrInvalid      = "invalid"
)

// wireHold is the hold shape the store returns on a successful select.
type wireHold struct {
	SeatID       string    `json:"seat_id"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	RenewalCount uint32    `json:"renewal_count"`
}

// reply is the inbound correlated response to a command.
type reply struct {
	CommandID    string       `json:"command_id"`
	OK           bool         `json:"ok"`
	Error        string       `json:"error,omitempty"`
	Hold         *wireHold    `json:"hold,omitempty"`
	Snapshot     *rawSnapshot `json:"snapshot,omitempty"`
	NewExpiresAt time.Time    `json:"new_expires_at,omitempty"`
	BookingID    string       `json:"booking_id,omitempty"`
}
