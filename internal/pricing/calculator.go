// Package pricing computes price breakdowns for bookings.  The
// calculator is a pure dependency of the booking orchestrator: it
// reads tariff data but never mutates anything and never participates
// in the schedule lock.
package pricing

import (
    "context"
    "errors"

    "github.com/harborline/ferry-booking/internal/model"
)

// ErrNoActivePricelist is returned when no active pricelist covers the
// requested route and customer class.  The booking attempt fails with
// no partial state.
var ErrNoActivePricelist = errors.New("no active pricelist for route and class")

// ErrPromotionInvalid is returned when a promo code is unknown,
// inactive or outside its validity window.
var ErrPromotionInvalid = errors.New("promotion code invalid or inactive")

// Quote is the price breakdown for one booking.  All amounts are
// integer cents.  TotalCents is SubtotalCents minus DiscountCents and
// is never negative.
type Quote struct {
    PricePerPaxCents int64
    SubtotalCents    int64
    DiscountCents    int64
    TotalCents       int64
    PromotionID      *uint64
}

// Calculator is the contract the booking orchestrator depends on.
// paxCount is the number of passengers, freeCount how many of them
// travel on a free ticket (priced zero, e.g. infants).  promoCode may
// be empty.
type Calculator interface {
    Calculate(ctx context.Context, schedule *model.Schedule, customerClass string, paxCount, freeCount int, promoCode string) (*Quote, error)
}
