package coordinator

import (
	"context"
	"time"

	"github.com/iliyamo/seat-sync/internal/model"
)

// Transport is the coordinator's contract with the authoritative
// store.  Both the push channel and the fallback REST gateway
// implement it; the coordinator picks whichever is live and treats
// them identically.  The two differ only in consistency and latency:
// the fallback path delivers no live notification of other users'
// actions, so staleness is bounded by periodic or manual refresh.
type Transport interface {
	// Snapshot fetches the full authoritative seat state of a show.
	Snapshot(ctx context.Context, showID string) (model.Snapshot, error)
	// SelectSeat asks the authority for a hold.  A seat already held
	// elsewhere yields ErrSeatConflict.
	SelectSeat(ctx context.Context, showID, seatID, userID string) (model.Hold, error)
	// DeselectSeat releases a hold.  Releasing a seat this session
	// does not hold is not an error on the authority side.
	DeselectSeat(ctx context.Context, showID, seatID, userID string) error
	// ExtendHold renews a hold and returns the new expiry.  A stale or
	// foreign hold yields ErrSeatConflict.
	ExtendHold(ctx context.Context, showID, seatID string) (time.Time, error)
	// ConfirmBooking finalizes the given seats and consumes their
	// holds.  Returns the booking ID issued by the booking service.
	ConfirmBooking(ctx context.Context, showID string, seatIDs []string, booking map[string]any) (string, error)
}

// Channel is the push-path surface the coordinator drives on top of
// Transport: subscription management, the normalized event feed and
// connection-state observation.  Implemented by channel.Manager.
type Channel interface {
	Transport
	// JoinShow subscribes the session to a show's event feed.
	JoinShow(ctx context.Context, showID string) error
	// LeaveShow drops the current subscription.
	LeaveShow(ctx context.Context) error
	// State reports the current connection state.
	State() model.ConnState
	// Events delivers normalized push events.
	Events() <-chan model.Event
	// States delivers connection-state transitions, including every
	// successful (re)connect that must be followed by a resync.
	States() <-chan model.ConnState
}

// Store is the session persistence contract the coordinator writes its
// hold record through.  Implemented by the session package.
type Store interface {
	Save(ctx context.Context, hold model.Hold) error
	Remove(ctx context.Context, showID, seatID string) error
	List(ctx context.Context, showID, userID string) ([]model.Hold, error)
	Clear(ctx context.Context, showID, userID string) error
}

// Announcer fans local hold changes out to sibling viewing contexts of
// the same client.  Implemented by crosstab.Synchronizer.  A nil
// Announcer is valid and turns fan-out into a no-op.
type Announcer interface {
	Announce(ctx context.Context, action model.TabAction, showID, seatID string) error
}
