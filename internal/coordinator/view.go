package coordinator

import (
	"sort"
	"time"

	"github.com/iliyamo/seat-sync/internal/model"
)

// SeatView is the read-model handed to presentation code.  It extends
// the observed seat with the fields the UI needs for countdowns.  The
// warning countdown is advisory; the seat stays held until the
// authority says otherwise.
type SeatView struct {
	model.Seat
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	WarningRemaining time.Duration `json:"warning_remaining,omitempty"`
}

// Seats returns a stable-ordered copy of the observed seat map.  Reads
// go through the same serialized path as writes, so presentation code
// never sees a half-applied update.
func (c *Coordinator) Seats() []SeatView {
	var out []SeatView
	_ = c.do(func() {
		now := time.Now().UTC()
		out = make([]SeatView, 0, len(c.seats))
		for _, e := range c.seats {
			v := SeatView{Seat: e.seat}
			if e.hold != nil {
				exp := e.hold.ExpiresAt
				v.ExpiresAt = &exp
			}
			if e.seat.Status == model.SeatHeldSelf && e.warningUntil.After(now) {
				v.WarningRemaining = e.warningUntil.Sub(now)
			}
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Record returns the current session record: the set of holds this
// context believes it owns for the joined showtime.
func (c *Coordinator) Record() model.SessionRecord {
	var rec model.SessionRecord
	_ = c.do(func() {
		rec = model.SessionRecord{ShowID: c.showID, UserID: c.userID}
		for _, e := range c.seats {
			if e.hold != nil {
				rec.HeldSeats = append(rec.HeldSeats, *e.hold)
				if e.assertedAt.After(rec.LastUpdated) {
					rec.LastUpdated = e.assertedAt
				}
			}
		}
	})
	sort.Slice(rec.HeldSeats, func(i, j int) bool {
		return rec.HeldSeats[i].SeatID < rec.HeldSeats[j].SeatID
	})
	return rec
}

// Subscription reports the showtime feed status: joined show, channel
// state and the time of the last merged authoritative snapshot.
func (c *Coordinator) Subscription() model.Subscription {
	var sub model.Subscription
	_ = c.do(func() {
		sub = model.Subscription{
			ShowID:       c.showID,
			State:        c.state(),
			LastSyncedAt: c.lastSynced,
		}
	})
	return sub
}

// Mode names the path currently carrying commands.
func (c *Coordinator) Mode() string {
	if c.channelLive() && !c.fallbackOnly.Load() {
		return "channel"
	}
	return "fallback"
}

func (c *Coordinator) state() model.ConnState {
	st, ok := c.connState.Load().(model.ConnState)
	if !ok {
		return model.ConnDisconnected
	}
	return st
}
