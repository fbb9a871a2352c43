package model

import "time"

// Snapshot is a full authoritative picture of one showtime's seats.
// The authority attaches a monotonically increasing Version to every
// snapshot; any event carrying an equal-or-later version supersedes
// local optimistic state for the seats it mentions.
//
// Fields:
//  ShowID  - showtime the snapshot describes.
//  Version - the authority's logical clock at capture time.
//  Seats   - every seat of the showtime with its current status.
//  TakenAt - server wall-clock time of the capture.
type Snapshot struct {
	ShowID  string    `json:"show_id"`
	Version uint64    `json:"version"`
	Seats   []Seat    `json:"seats"`
	TakenAt time.Time `json:"taken_at"`
}

// Seat returns the snapshot entry for the given seat ID, if present.
func (s Snapshot) Seat(seatID string) (Seat, bool) {
	for _, st := range s.Seats {
		if st.ID == seatID {
			return st, true
		}
	}
	return Seat{}, false
}
