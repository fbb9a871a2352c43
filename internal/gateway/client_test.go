package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-sync/internal/coordinator"
	"github.com/iliyamo/seat-sync/internal/model"
)

func TestSnapshotDecodesSeats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/shows/show-1/seats", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"show_id": "show-1",
			"version": 4,
			"seats": [
				{"seat_id": "A1", "row": "A", "column": 1, "status": "FREE"},
				{"seat_id": "A2", "row": "A", "column": 2, "status": "HELD", "holder_id": "user-2"},
				{"seat_id": "A3", "row": "A", "column": 3, "status": "RESERVED"}
			]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	snap, err := c.Snapshot(context.Background(), "show-1")
	require.NoError(t, err)
	assert.Equal(t, "show-1", snap.ShowID)
	assert.Equal(t, uint64(4), snap.Version)
	require.Len(t, snap.Seats, 3)
	assert.Equal(t, model.SeatAvailable, snap.Seats[0].Status)
	assert.Equal(t, model.SeatHeldOther, snap.Seats[1].Status)
	assert.Equal(t, "user-2", snap.Seats[1].HolderID)
	assert.Equal(t, model.SeatBooked, snap.Seats[2].Status)
	assert.False(t, snap.TakenAt.IsZero())
}

func TestSelectSeatReturnsHold(t *testing.T) {
	exp := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/shows/show-1/holds", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"holds": [{"seat_id": "A1", "expires_at": "` + exp.Format(time.RFC3339) + `"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	hold, err := c.SelectSeat(context.Background(), "show-1", "A1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "A1", hold.SeatID)
	assert.Equal(t, "show-1", hold.ShowID)
	assert.Equal(t, "user-1", hold.UserID)
	assert.True(t, hold.ExpiresAt.Equal(exp))
}

func TestStatusCodeMapping(t *testing.T) {
	for code, want := range map[int]error{
		http.StatusConflict:            coordinator.ErrSeatConflict,
		http.StatusUnauthorized:        coordinator.ErrAuthFailed,
		http.StatusForbidden:           coordinator.ErrAuthFailed,
		http.StatusUnprocessableEntity: coordinator.ErrValidation,
		http.StatusBadRequest:          coordinator.ErrValidation,
		http.StatusBadGateway:          coordinator.ErrUnavailable,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte(`{"error": "nope"}`))
		}))
		c := New(srv.URL, "tok")
		_, err := c.SelectSeat(context.Background(), "show-1", "A1", "user-1")
		assert.ErrorIs(t, err, want, "status %d", code)
		srv.Close()
	}
}

func TestUnreachableGateway(t *testing.T) {
	c := New("http://127.0.0.1:1", "tok")
	_, err := c.Snapshot(context.Background(), "show-1")
	assert.ErrorIs(t, err, coordinator.ErrUnavailable)
}

func TestExtendHold(t *testing.T) {
	exp := time.Now().UTC().Add(20 * time.Minute).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/shows/show-1/holds/A1/extend", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"expires_at": "` + exp.Format(time.RFC3339) + `"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	got, err := c.ExtendHold(context.Background(), "show-1", "A1")
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))
}

func TestConfirmBooking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/bookings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"booking_id": "bk-42"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	id, err := c.ConfirmBooking(context.Background(), "show-1", []string{"A1", "A2"}, map[string]any{"tier": "standard"})
	require.NoError(t, err)
	assert.Equal(t, "bk-42", id)
}

func TestDeselectSeat(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	require.NoError(t, c.DeselectSeat(context.Background(), "show-1", "A1", "user-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
}
