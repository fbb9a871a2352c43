// Package crosstab propagates local hold changes to sibling viewing
// contexts of the same client (other tabs/windows) and classifies
// incoming messages by ownership.  The transport is a pluggable Bus:
// Redis pub/sub normally, a write-then-clear shared-storage queue when
// pub/sub cannot be established, and an in-process hub for contexts
// sharing one process.
package crosstab

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/seat-sync/internal/model"
)

// Bus is the fan-out primitive between viewing contexts.  Publish
// delivers a message to every context including, possibly, the sender;
// the synchronizer does its own echo suppression.
type Bus interface {
	Publish(ctx context.Context, msg model.TabMessage) error
	Messages() <-chan model.TabMessage
	Close() error
}

// Sink receives classified sibling activity.  Implemented by the hold
// coordinator.
type Sink interface {
	// ApplySibling merges one select/deselect from another context.
	// sameUser is true when the message's user matches this context's
	// user; only then may the session record be touched.
	ApplySibling(msg model.TabMessage, sameUser bool)
	// ForceResync requests a full authoritative resync.  Used for
	// cancel-booking, which can free many seats atomically; point-wise
	// patching would risk divergence.
	ForceResync(reason string)
}

// Synchronizer filters, orders and classifies bus traffic for one
// viewing context.
type Synchronizer struct {
	bus      Bus
	userID   string
	originID string
	sink     Sink

	mu          sync.Mutex
	lastApplied map[string]int64 // seat ID -> newest applied timestamp (ms)

	quit chan struct{}
	once sync.Once
}

// New builds a Synchronizer.  originID must be unique per context; the
// coordinator's session ID is the natural choice.
func New(bus Bus, userID, originID string, sink Sink) *Synchronizer {
	return &Synchronizer{
		bus:         bus,
		userID:      userID,
		originID:    originID,
		sink:        sink,
		lastApplied: make(map[string]int64),
		quit:        make(chan struct{}),
	}
}

// Start launches the receive loop.
func (s *Synchronizer) Start() {
	go s.loop()
}

// Close stops the receive loop and the underlying bus.
func (s *Synchronizer) Close() {
	s.once.Do(func() { close(s.quit) })
	_ = s.bus.Close()
}

// Announce broadcasts a local action to sibling contexts.  The message
// timestamp is recorded as applied so a slower sibling's older message
// for the same seat cannot roll the seat back.  Implements
// coordinator.Announcer.
func (s *Synchronizer) Announce(ctx context.Context, action model.TabAction, showID, seatID string) error {
	msg := model.TabMessage{
		SeatID:    seatID,
		UserID:    s.userID,
		ShowID:    showID,
		Action:    action,
		OriginID:  s.originID,
		Timestamp: time.Now().UnixMilli(),
	}
	if seatID != "" {
		s.mu.Lock()
		if msg.Timestamp > s.lastApplied[seatID] {
			s.lastApplied[seatID] = msg.Timestamp
		}
		s.mu.Unlock()
	}
	return s.bus.Publish(ctx, msg)
}

// AnnounceCancel broadcasts a booking cancellation for a show.  It is
// a convenience over Announce for callers without a context, like the
// queue consumer.  Implements queue.Notifier.
func (s *Synchronizer) AnnounceCancel(showID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.Announce(ctx, model.TabCancelBooking, showID, "")
}

func (s *Synchronizer) loop() {
	for {
		select {
		case <-s.quit:
			return
		case msg, ok := <-s.bus.Messages():
			if !ok {
				return
			}
			s.handle(msg)
		}
	}
}

// handle applies echo suppression, last-write-wins ordering and
// ownership classification to one incoming message.
func (s *Synchronizer) handle(msg model.TabMessage) {
	if msg.OriginID == s.originID {
		// A tab never re-applies a message it itself originated.
		return
	}
	if msg.Action == model.TabCancelBooking {
		s.sink.ForceResync("cancel-booking broadcast")
		return
	}
	if msg.SeatID == "" {
		return
	}
	s.mu.Lock()
	last := s.lastApplied[msg.SeatID]
	if msg.Timestamp <= last {
		// Older than (or tied with) what we already applied for this
		// seat; ties resolve by discarding the incoming duplicate.
		s.mu.Unlock()
		return
	}
	s.lastApplied[msg.SeatID] = msg.Timestamp
	s.mu.Unlock()

	s.sink.ApplySibling(msg, msg.UserID == s.userID)
}
