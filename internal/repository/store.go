package repository

import (
    "context"
    "time"

    "github.com/harborline/ferry-booking/internal/model"
)

// ScheduleStore exposes read access to schedules.  AvailableSeats is
// the lock-free display read: it must never be used to decide a
// reservation, only to render availability to customers.
type ScheduleStore interface {
    ScheduleByID(ctx context.Context, id uint64) (*model.Schedule, error)
    AvailableSeats(ctx context.Context, id uint64) (int, error)
}

// BookingStore groups the atomic booking mutations.  Every method that
// moves seats or money-facing state runs its read-check-write sequence
// inside a single database transaction with the schedule row locked
// FOR UPDATE, so implementations are safe to call from concurrent
// writers as long as callers also hold the schedule-scoped lock.
type BookingStore interface {
    // CreatePendingBooking inserts the booking and its passengers and
    // decrements the schedule's seat ledger in one transaction.  It
    // returns ErrInsufficientSeats without side effects when the
    // ledger cannot cover the passenger count.
    CreatePendingBooking(ctx context.Context, b *model.Booking, passengers []model.Passenger) error

    BookingByCode(ctx context.Context, code string) (*model.Booking, error)
    BookingByID(ctx context.Context, id uint64) (*model.Booking, error)
    PassengersByBooking(ctx context.Context, bookingID uint64) ([]model.Passenger, error)

    // FindExpiredBookings lists PENDING bookings whose payment deadline
    // passed at or before cutoff, oldest first.
    FindExpiredBookings(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error)

    // ExpireBooking transitions a booking to EXPIRED and returns its
    // seats to the ledger.  It acts only when the booking is still
    // PENDING and reports whether anything changed, which makes it
    // safe to run from the sweeper and the reconciler concurrently.
    ExpireBooking(ctx context.Context, bookingID uint64) (bool, error)

    // SettlePaid applies a SUCCEEDED gateway signal to the payment
    // identified by externalID.  The whole check-and-act sequence,
    // including the overselling guard for bookings whose seats were
    // already released, commits as one transaction.
    SettlePaid(ctx context.Context, externalID string, paidAt time.Time, raw []byte) (SettleOutcome, error)

    // SettleClosed applies an EXPIRED or FAILED gateway signal.  The
    // payment moves to closedStatus; a still-PENDING booking follows it
    // and its seats are released.
    SettleClosed(ctx context.Context, externalID string, closedStatus string, raw []byte) (SettleOutcome, error)
}

// PaymentStore manages payment attempt rows.  Creation and supersede
// are called by the orchestrator; status transitions happen only
// through BookingStore's settle methods.
type PaymentStore interface {
    CreatePayment(ctx context.Context, p *model.Payment) error
    ActivePaymentByBooking(ctx context.Context, bookingID uint64) (*model.Payment, error)
    PaymentByExternalID(ctx context.Context, externalID string) (*model.Payment, error)
    // LatestPaymentByBooking returns the most recent attempt regardless
    // of status, for status display and gateway pulls.
    LatestPaymentByBooking(ctx context.Context, bookingID uint64) (*model.Payment, error)
    PaymentAttempts(ctx context.Context, bookingID uint64) (int, error)
    // SupersedeActivePayments closes every non-terminal payment of the
    // booking so that a re-issued payment becomes the single active one.
    SupersedeActivePayments(ctx context.Context, bookingID uint64) error
}

// SettleOutcome reports what a settle call changed.  It carries enough
// booking context for the reconciler to log and publish events without
// another read.
type SettleOutcome struct {
    Applied       bool   // a state change was committed
    PaymentStatus string // payment status after the call
    BookingStatus string // booking status after the call
    BookingID     uint64
    BookingCode   string
    ScheduleID    uint64
    Recovered     bool // late payment re-acquired its seats
    RefundNeeded  bool // money received but no seats left
    SeatsReleased int  // seats returned to the ledger, if any
}
