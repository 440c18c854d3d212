// Package service implements the booking orchestrator, the payment
// reconciliation engine and the expiry sweeper.  These sentinel values
// are the error taxonomy surfaced to handlers; infrastructure errors
// from the gateway adapter keep their own sentinels
// (gateway.ErrUnavailable, gateway.ErrTimeout) and seat exhaustion
// keeps repository.ErrInsufficientSeats.
package service

import "errors"

// ErrInvalidInput is returned when a request fails validation before
// touching any state.  Handlers translate it into HTTP 400.
var ErrInvalidInput = errors.New("invalid input")

// ErrBusy is returned when the schedule lock could not be acquired
// within the bounded wait.  Transient: the caller may retry the whole
// attempt with backoff.
var ErrBusy = errors.New("schedule busy, try again")

// ErrScheduleClosed is returned when the schedule exists but no longer
// accepts bookings (departed, cancelled, completed or past departure).
var ErrScheduleClosed = errors.New("schedule not open for booking")

// ErrPricingUnavailable is returned when no active pricelist matches
// the route and customer class.  Business rejection, no retry.
var ErrPricingUnavailable = errors.New("no matching active price")

// ErrPromotionInvalid is returned when the promo code is unknown,
// inactive or outside its validity window.
var ErrPromotionInvalid = errors.New("promotion invalid")

// ErrBookingNotPayable is returned when a payment is requested for a
// booking that is not PENDING or whose payment deadline has passed.
var ErrBookingNotPayable = errors.New("booking not payable")

// ErrForbidden is returned when a customer addresses a booking that
// belongs to someone else.
var ErrForbidden = errors.New("forbidden")
