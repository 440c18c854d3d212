package handler

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/harborline/ferry-booking/internal/gateway"
    "github.com/harborline/ferry-booking/internal/model"
    "github.com/harborline/ferry-booking/internal/repository"
    "github.com/harborline/ferry-booking/internal/service"
)

// BookingHandler exposes the customer-facing booking endpoints.  All
// methods assume JWT authentication and role validation have already
// been performed by middleware; the customer id comes from the token's
// subject claim.
type BookingHandler struct {
    Bookings  *service.BookingService
    Reconcile *service.ReconcileService
}

// NewBookingHandler constructs a BookingHandler.  Both services must be
// non-nil.
func NewBookingHandler(bookings *service.BookingService, reconcile *service.ReconcileService) *BookingHandler {
    if bookings == nil || reconcile == nil {
        panic("nil service passed to NewBookingHandler")
    }
    return &BookingHandler{Bookings: bookings, Reconcile: reconcile}
}

// CreateBooking handles POST /v1/bookings.  The response is 201 even
// when the payment gateway was unreachable: the booking is then
// returned without a payment and the client recovers through the
// payment endpoint.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
    customerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }

    var body struct {
        ScheduleID    uint64                     `json:"schedule_id"`
        CustomerClass string                     `json:"customer_class"`
        PromoCode     string                     `json:"promo_code"`
        Method        string                     `json:"payment_method"`
        Passengers    []service.PassengerInput   `json:"passengers"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }

    res, err := h.Bookings.CreateBooking(c.Request().Context(), service.CreateBookingInput{
        CustomerID:    customerID,
        ScheduleID:    body.ScheduleID,
        CustomerClass: body.CustomerClass,
        PromoCode:     body.PromoCode,
        Method:        body.Method,
        Passengers:    body.Passengers,
    })
    if err != nil {
        return bookingError(c, err)
    }
    return c.JSON(http.StatusCreated, bookingPayload(res))
}

// GetBooking handles GET /v1/bookings/:code.
func (h *BookingHandler) GetBooking(c echo.Context) error {
    customerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    res, err := h.Bookings.GetBooking(c.Request().Context(), customerID, c.Param("code"))
    if err != nil {
        return bookingError(c, err)
    }
    return c.JSON(http.StatusOK, bookingPayload(res))
}

// SelectPaymentMethod handles POST /v1/bookings/:code/payment.  It
// re-issues the payment for a PENDING booking, superseding the active
// attempt.  Unlike creation, a gateway failure here surfaces as 502:
// there is nothing new to persist, the client simply retries.
func (h *BookingHandler) SelectPaymentMethod(c echo.Context) error {
    customerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var body struct {
        Method string `json:"payment_method"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    payment, err := h.Bookings.SelectPaymentMethod(c.Request().Context(), customerID, c.Param("code"), body.Method)
    if err != nil {
        return bookingError(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{"payment": paymentPayload(payment)})
}

// SyncPaymentStatus handles POST /v1/bookings/:code/sync.  It pulls the
// latest payment state from the gateway for when a webhook was lost.
func (h *BookingHandler) SyncPaymentStatus(c echo.Context) error {
    customerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    payment, err := h.Reconcile.SyncPaymentStatus(c.Request().Context(), customerID, c.Param("code"))
    if err != nil {
        return bookingError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"payment": paymentPayload(payment)})
}

// bookingError translates the service error taxonomy into HTTP
// responses.  Unrecognized errors become 500 without leaking internals.
func bookingError(c echo.Context, err error) error {
    switch {
    case errors.Is(err, service.ErrInvalidInput):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
    case errors.Is(err, service.ErrForbidden):
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    case errors.Is(err, repository.ErrBookingNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
    case errors.Is(err, repository.ErrScheduleNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
    case errors.Is(err, repository.ErrPaymentNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "no payment for booking"})
    case errors.Is(err, repository.ErrInsufficientSeats):
        return c.JSON(http.StatusConflict, echo.Map{"error": "not enough seats available"})
    case errors.Is(err, service.ErrBookingNotPayable):
        return c.JSON(http.StatusConflict, echo.Map{"error": "booking is not payable"})
    case errors.Is(err, service.ErrScheduleClosed):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "schedule is not open for booking"})
    case errors.Is(err, service.ErrPricingUnavailable):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "no price available for this route and class"})
    case errors.Is(err, service.ErrPromotionInvalid):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "promotion code invalid"})
    case errors.Is(err, service.ErrBusy):
        c.Response().Header().Set("Retry-After", "1")
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "schedule busy, try again"})
    case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, gateway.ErrTimeout), errors.Is(err, gateway.ErrMalformed):
        return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway unavailable, try again"})
    default:
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
    }
}

// bookingPayload shapes a booking response.  Payment is null when no
// intent exists yet.
func bookingPayload(res *service.CreateBookingResult) echo.Map {
    b := res.Booking
    passengers := make([]echo.Map, 0, len(res.Passengers))
    for _, p := range res.Passengers {
        passengers = append(passengers, echo.Map{
            "full_name":       p.FullName,
            "identity_number": p.IdentityNumber,
            "gender":          p.Gender,
            "price_cents":     p.PriceCents,
            "free_ticket":     p.FreeTicket,
        })
    }
    payload := echo.Map{
        "code":            b.Code,
        "schedule_id":     b.ScheduleID,
        "status":          b.PaymentStatus,
        "customer_class":  b.CustomerClass,
        "subtotal_cents":  b.SubtotalCents,
        "discount_cents":  b.DiscountCents,
        "total_cents":     b.TotalCents,
        "passenger_count": b.PassengerCount,
        "passengers":      passengers,
        "expires_at":      b.ExpiresAt,
        "paid_at":         b.PaidAt,
    }
    if res.Payment != nil {
        payload["payment"] = paymentPayload(res.Payment)
    } else {
        payload["payment"] = nil
    }
    return payload
}

func paymentPayload(p *model.Payment) echo.Map {
    return echo.Map{
        "external_id":  p.ExternalID,
        "method":       p.Method,
        "status":       p.Status,
        "amount_cents": p.AmountCents,
        "checkout_url": p.CheckoutURL,
        "expires_at":   p.ExpiresAt,
        "paid_at":      p.PaidAt,
    }
}

// getUserID extracts the authenticated customer's id from the request
// context, tolerating the numeric types a JWT claim may decode into.
func getUserID(c echo.Context) (uint64, error) {
    switch t := c.Get("user_id").(type) {
    case uint64:
        return t, nil
    case int64:
        return uint64(t), nil
    case int:
        return uint64(t), nil
    case float64:
        return uint64(t), nil
    case string:
        if n, err := strconv.ParseUint(t, 10, 64); err == nil {
            return n, nil
        }
    }
    return 0, errors.New("invalid user_id in context")
}
