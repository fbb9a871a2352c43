package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-sync/internal/coordinator"
)

// SeatHandler exposes the engine's operations over HTTP.  All mapping
// from coordinator errors to status codes lives here; the engine
// itself never sees HTTP.
type SeatHandler struct {
	coord *coordinator.Coordinator
}

// NewSeatHandler builds a SeatHandler around the given coordinator.
func NewSeatHandler(coord *coordinator.Coordinator) *SeatHandler {
	return &SeatHandler{coord: coord}
}

// httpError translates a coordinator error into an Echo JSON response.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, coordinator.ErrSeatConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, coordinator.ErrValidation):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, coordinator.ErrNotJoined):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, coordinator.ErrAuthFailed):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	case errors.Is(err, coordinator.ErrUnavailable), errors.Is(err, coordinator.ErrClosed):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
}

// Join subscribes the engine to a showtime.
// POST /v1/shows/:id/join
func (h *SeatHandler) Join(c echo.Context) error {
	showID := c.Param("id")
	if err := h.coord.Join(c.Request().Context(), showID); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"show_id": showID,
		"mode":    h.coord.Mode(),
		"seats":   h.coord.Seats(),
	})
}

// Select requests a hold on one seat.
// POST /v1/shows/:id/seats/:seat/select
func (h *SeatHandler) Select(c echo.Context) error {
	hold, err := h.coord.SelectSeat(c.Request().Context(), c.Param("seat"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"seat_id":    hold.SeatID,
		"expires_at": hold.ExpiresAt,
	})
}

// Deselect releases a hold.  Releasing a seat that is not held
// succeeds with no effect.
// DELETE /v1/shows/:id/seats/:seat/select
func (h *SeatHandler) Deselect(c echo.Context) error {
	if err := h.coord.DeselectSeat(c.Request().Context(), c.Param("seat")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Renew extends a hold's deadline.
// POST /v1/shows/:id/seats/:seat/renew
func (h *SeatHandler) Renew(c echo.Context) error {
	expires, err := h.coord.RenewHold(c.Request().Context(), c.Param("seat"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expires_at": expires})
}

// Seats returns the engine's current view of the seat map.
// GET /v1/shows/:id/seats
func (h *SeatHandler) Seats(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"seats": h.coord.Seats()})
}

// Refresh forces an immediate authoritative snapshot merge.
// POST /v1/shows/:id/refresh
func (h *SeatHandler) Refresh(c echo.Context) error {
	if err := h.coord.Refresh(c.Request().Context()); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": h.coord.Seats()})
}

// bookRequest is the body of POST /v1/bookings.
type bookRequest struct {
	SeatIDs []string       `json:"seat_ids"`
	Details map[string]any `json:"details"`
}

// Book confirms the booking of the currently held seats.
// POST /v1/bookings
func (h *SeatHandler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request body"})
	}
	bookingID, err := h.coord.ConfirmBooking(c.Request().Context(), req.SeatIDs, req.Details)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"booking_id": bookingID})
}

// Status reports the subscription, session record and transport mode.
// GET /v1/status
func (h *SeatHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"subscription": h.coord.Subscription(),
		"record":       h.coord.Record(),
		"mode":         h.coord.Mode(),
		"session_id":   h.coord.SessionID(),
	})
}
