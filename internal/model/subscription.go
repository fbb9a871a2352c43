package model

import "time"

// ConnState describes the push channel lifecycle.  Transitions are
// disconnected -> connecting -> connected, with connected and
// reconnecting alternating across transient outages.  ConnFailed is
// terminal: it is entered only on an authentication rejection and the
// engine runs on the fallback gateway for the rest of the session.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnFailed       ConnState = "failed"
)

// Live reports whether commands can currently go through the push
// channel.
func (s ConnState) Live() bool { return s == ConnConnected }

// Subscription tracks the engine's view of one showtime feed.  There
// is one active subscription per viewing context.
//
// Fields:
//  ShowID       - showtime currently subscribed to.
//  State        - push channel state at last observation.
//  LastSyncedAt - when a full authoritative snapshot was last merged.
type Subscription struct {
	ShowID       string    `json:"show_id"`
	State        ConnState `json:"connection_state"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}
