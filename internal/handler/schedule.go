package handler

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/harborline/ferry-booking/internal/repository"
    "github.com/harborline/ferry-booking/internal/service"
)

// ScheduleHandler exposes the public schedule reads.  These endpoints
// carry no authentication and sit behind the redis response cache, so
// the availability they report is eventually consistent.  The booking
// flow never trusts these numbers; reservation decisions happen on the
// locked read inside the booking transaction.
type ScheduleHandler struct {
    Bookings *service.BookingService
}

// NewScheduleHandler constructs a ScheduleHandler.
func NewScheduleHandler(bookings *service.BookingService) *ScheduleHandler {
    if bookings == nil {
        panic("nil booking service passed to NewScheduleHandler")
    }
    return &ScheduleHandler{Bookings: bookings}
}

// Seats handles GET /v1/schedules/:id/seats.
func (h *ScheduleHandler) Seats(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
    }
    avail, err := h.Bookings.Availability(c.Request().Context(), id)
    if err != nil {
        if errors.Is(err, repository.ErrScheduleNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
    }
    return c.JSON(http.StatusOK, echo.Map{
        "schedule_id":     id,
        "available_seats": avail,
    })
}
