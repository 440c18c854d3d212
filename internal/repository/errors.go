// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios without inspecting error strings. For example,
// ErrInsufficientSeats signals a business rejection that is surfaced
// to the end user, while the not-found errors usually translate into
// HTTP 404 responses.
package repository

import "errors"

// ErrScheduleNotFound is returned when a schedule id does not exist.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrBookingNotFound is returned when a booking cannot be located by
// its id or code, or when it has been soft-deleted.
var ErrBookingNotFound = errors.New("booking not found")

// ErrPaymentNotFound is returned when no payment row matches the
// requested external id, or when a booking has no active payment.
var ErrPaymentNotFound = errors.New("payment not found")

// ErrInsufficientSeats is returned when a reservation would drive the
// schedule's seat ledger below zero. The check runs under the
// schedule row lock, so no mutation happens when it fires.
var ErrInsufficientSeats = errors.New("insufficient seats")
