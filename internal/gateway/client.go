// Package gateway is the REST fallback path to the authoritative seat
// store.  It implements the same Transport contract as the push
// channel, so the coordinator can swap between the two without caring
// which one is live.  The gateway delivers no push events; while it is
// the active transport, staleness is bounded by snapshot refresh.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/seat-sync/internal/coordinator"
	"github.com/iliyamo/seat-sync/internal/model"
)

// Client talks to the seat-reservation REST API with bearer auth.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New returns a Client for the given base URL (no trailing slash
// required) and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

type wireSeat struct {
	SeatID   string `json:"seat_id"`
	Row      string `json:"row"`
	Column   uint32 `json:"column"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	HolderID string `json:"holder_id,omitempty"`
}

type wireSnapshot struct {
	ShowID  string     `json:"show_id"`
	Version uint64     `json:"version"`
	Seats   []wireSeat `json:"seats"`
}

type wireHold struct {
	SeatID     string    `json:"seat_id"`
	ShowID     string    `json:"show_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func seatStatus(s string) model.SeatStatus {
	switch strings.ToUpper(s) {
	case "FREE", "AVAILABLE":
		return model.SeatAvailable
	case "HELD", "PENDING":
		return model.SeatHeldOther
	case "RESERVED", "BOOKED":
		return model.SeatBooked
	default:
		return model.SeatAvailable
	}
}

// do issues one request and decodes the body into out when non-nil.
// Status codes are mapped onto the coordinator's sentinel errors so
// callers see the same failures regardless of transport.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", coordinator.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var ae apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ae)
	detail := ae.Message
	if detail == "" {
		detail = ae.Error
	}
	if detail == "" {
		detail = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", coordinator.ErrSeatConflict, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", coordinator.ErrAuthFailed, detail)
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return fmt.Errorf("%w: %s", coordinator.ErrValidation, detail)
	default:
		return fmt.Errorf("%w: %s", coordinator.ErrUnavailable, detail)
	}
}

// Snapshot implements coordinator.Transport.
func (c *Client) Snapshot(ctx context.Context, showID string) (model.Snapshot, error) {
	var ws wireSnapshot
	path := fmt.Sprintf("/v1/shows/%s/seats", url.PathEscape(showID))
	if err := c.do(ctx, http.MethodGet, path, nil, &ws); err != nil {
		return model.Snapshot{}, err
	}
	snap := model.Snapshot{
		ShowID:  ws.ShowID,
		Version: ws.Version,
		Seats:   make([]model.Seat, 0, len(ws.Seats)),
		TakenAt: time.Now().UTC(),
	}
	if snap.ShowID == "" {
		snap.ShowID = showID
	}
	for _, s := range ws.Seats {
		snap.Seats = append(snap.Seats, model.Seat{
			ID:       s.SeatID,
			Row:      s.Row,
			Column:   s.Column,
			Type:     s.Type,
			Status:   seatStatus(s.Status),
			HolderID: s.HolderID,
		})
	}
	return snap, nil
}

// SelectSeat implements coordinator.Transport.
func (c *Client) SelectSeat(ctx context.Context, showID, seatID, userID string) (model.Hold, error) {
	var out struct {
		Holds []wireHold `json:"holds"`
	}
	path := fmt.Sprintf("/v1/shows/%s/holds", url.PathEscape(showID))
	body := map[string]any{"seat_ids": []string{seatID}}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return model.Hold{}, err
	}
	hold := model.Hold{
		SeatID:     seatID,
		ShowID:     showID,
		UserID:     userID,
		AcquiredAt: time.Now().UTC(),
	}
	for _, h := range out.Holds {
		if h.SeatID == seatID {
			if !h.AcquiredAt.IsZero() {
				hold.AcquiredAt = h.AcquiredAt
			}
			hold.ExpiresAt = h.ExpiresAt
		}
	}
	if hold.ExpiresAt.IsZero() {
		return model.Hold{}, fmt.Errorf("%w: hold for seat %s missing from response", coordinator.ErrUnavailable, seatID)
	}
	return hold, nil
}

// DeselectSeat implements coordinator.Transport.
func (c *Client) DeselectSeat(ctx context.Context, showID, seatID, userID string) error {
	path := fmt.Sprintf("/v1/shows/%s/holds", url.PathEscape(showID))
	body := map[string]any{"seat_ids": []string{seatID}}
	return c.do(ctx, http.MethodDelete, path, body, nil)
}

// ExtendHold implements coordinator.Transport.
func (c *Client) ExtendHold(ctx context.Context, showID, seatID string) (time.Time, error) {
	var out struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	path := fmt.Sprintf("/v1/shows/%s/holds/%s/extend",
		url.PathEscape(showID), url.PathEscape(seatID))
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return time.Time{}, err
	}
	if out.ExpiresAt.IsZero() {
		return time.Time{}, fmt.Errorf("%w: extend response missing expiry", coordinator.ErrUnavailable)
	}
	return out.ExpiresAt, nil
}

// ConfirmBooking implements coordinator.Transport.
func (c *Client) ConfirmBooking(ctx context.Context, showID string, seatIDs []string, booking map[string]any) (string, error) {
	var out struct {
		BookingID string `json:"booking_id"`
	}
	body := map[string]any{"show_id": showID, "seat_ids": seatIDs}
	for k, v := range booking {
		body[k] = v
	}
	if err := c.do(ctx, http.MethodPost, "/v1/bookings", body, &out); err != nil {
		return "", err
	}
	return out.BookingID, nil
}
