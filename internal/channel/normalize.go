package channel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/seat-sync/internal/model"
)

// This file is the single adapter between the store's wire payloads
// and the engine's canonical schema.  Deployed stores still emit
// several spellings for the same concept (seat_id/seatId/seat,
// user_id/userId/holder, snake and camel case durations); every one of
// them is absorbed here and nothing past this file sees the variance.

// rawEvent is the permissive decode target for push events.
type rawEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`

	ShowID     string `json:"show_id"`
	ShowIDAlt  string `json:"showId"`
	ShowtimeID string `json:"showtime_id"`

	SeatID    string `json:"seat_id"`
	SeatIDAlt string `json:"seatId"`
	Seat      string `json:"seat"`

	UserID    string `json:"user_id"`
	UserIDAlt string `json:"userId"`
	Holder    string `json:"holder"`

	Status string `json:"status"`

	BookingID    string `json:"booking_id"`
	BookingIDAlt string `json:"bookingId"`

	TimeRemainingMS  int64 `json:"time_remaining_ms"`
	TimeRemainingSec int64 `json:"time_remaining"`

	NewExpiresAt    time.Time `json:"new_expires_at"`
	NewExpiresAtAlt time.Time `json:"newExpiresAt"`
	ExpiresAt       time.Time `json:"expires_at"`

	Version uint64 `json:"version"`

	Snapshot *rawSnapshot `json:"snapshot"`
	Seats    []rawSeat    `json:"seats"`
}

// rawSnapshot is the permissive decode target for full seat state.
type rawSnapshot struct {
	ShowID     string    `json:"show_id"`
	ShowIDAlt  string    `json:"showId"`
	ShowtimeID string    `json:"showtime_id"`
	Version    uint64    `json:"version"`
	Seats      []rawSeat `json:"seats"`
	TakenAt    time.Time `json:"taken_at"`
}

// rawSeat is the permissive decode target for one seat in an event or
// snapshot.
type rawSeat struct {
	ID        string `json:"id"`
	SeatID    string `json:"seat_id"`
	SeatIDAlt string `json:"seatId"`

	Row       string `json:"row"`
	RowLabel  string `json:"row_label"`
	Column    uint32 `json:"column"`
	SeatNum   uint32 `json:"seat_number"`
	Type      string `json:"type"`
	SeatType  string `json:"seat_type"`
	Status    string `json:"status"`
	Holder    string `json:"holder"`
	HolderID  string `json:"holder_id"`
	UserID    string `json:"user_id"`
	UserIDAlt string `json:"userId"`
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// normalizeStatus maps every wire spelling of a seat status onto the
// canonical set.  Ownership (held-self vs held-other) is resolved by
// the coordinator from the holder ID; this function only distinguishes
// free, held and booked.
func normalizeStatus(s string) model.SeatStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RESERVED", "BOOKED", "SOLD":
		return model.SeatBooked
	case "HELD", "HELD-SELF", "HELD-OTHER", "PENDING":
		return model.SeatHeldOther
	default:
		return model.SeatAvailable
	}
}

func normalizeSeat(rs rawSeat) model.Seat {
	return model.Seat{
		ID:       first(rs.ID, rs.SeatID, rs.SeatIDAlt),
		Row:      first(rs.Row, rs.RowLabel),
		Column:   maxU32(rs.Column, rs.SeatNum),
		Type:     first(rs.Type, rs.SeatType),
		Status:   normalizeStatus(rs.Status),
		HolderID: first(rs.HolderID, rs.Holder, rs.UserID, rs.UserIDAlt),
	}
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func normalizeSnapshot(raw rawSnapshot) model.Snapshot {
	snap := model.Snapshot{
		ShowID:  first(raw.ShowID, raw.ShowIDAlt, raw.ShowtimeID),
		Version: raw.Version,
		TakenAt: raw.TakenAt,
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	snap.Seats = make([]model.Seat, 0, len(raw.Seats))
	for _, rs := range raw.Seats {
		if s := normalizeSeat(rs); s.ID != "" {
			snap.Seats = append(snap.Seats, s)
		}
	}
	return snap
}

// normalizeEvent decodes one raw push payload into the canonical
// event.  Unknown event types yield an error and are dropped by the
// caller.
func normalizeEvent(payload []byte) (model.Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	kind := model.EventKind(first(raw.Type, raw.Event))
	ev := model.Event{
		Kind:    kind,
		ShowID:  first(raw.ShowID, raw.ShowIDAlt, raw.ShowtimeID),
		SeatID:  first(raw.SeatID, raw.SeatIDAlt, raw.Seat),
		UserID:  first(raw.UserID, raw.UserIDAlt, raw.Holder),
		Status:  normalizeStatus(raw.Status),
		Version: raw.Version,
	}
	switch kind {
	case model.EventSeatsState:
		rawSnap := raw.Snapshot
		if rawSnap == nil && raw.Seats != nil {
			rawSnap = &rawSnapshot{ShowID: ev.ShowID, Version: raw.Version, Seats: raw.Seats}
		}
		if rawSnap == nil {
			return model.Event{}, fmt.Errorf("seats-state event without snapshot")
		}
		snap := normalizeSnapshot(*rawSnap)
		if snap.ShowID == "" {
			snap.ShowID = ev.ShowID
		}
		ev.Snapshot = &snap
	case model.EventSeatSelected, model.EventSeatDeselected, model.EventSeatReleased:
		if ev.SeatID == "" {
			return model.Event{}, fmt.Errorf("%s event without seat id", kind)
		}
	case model.EventSeatBooked:
		if ev.SeatID == "" {
			return model.Event{}, fmt.Errorf("seat-booked event without seat id")
		}
		ev.BookingID = first(raw.BookingID, raw.BookingIDAlt)
	case model.EventExpirationWarning:
		if raw.TimeRemainingMS > 0 {
			ev.TimeRemaining = time.Duration(raw.TimeRemainingMS) * time.Millisecond
		} else if raw.TimeRemainingSec > 0 {
			ev.TimeRemaining = time.Duration(raw.TimeRemainingSec) * time.Second
		}
	case model.EventHoldExtended:
		ev.NewExpiresAt = raw.NewExpiresAt
		if ev.NewExpiresAt.IsZero() {
			ev.NewExpiresAt = raw.NewExpiresAtAlt
		}
		if ev.NewExpiresAt.IsZero() {
			ev.NewExpiresAt = raw.ExpiresAt
		}
	default:
		return model.Event{}, fmt.Errorf("unknown event type %q", first(raw.Type, raw.Event))
	}
	return ev, nil
}
