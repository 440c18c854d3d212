package model

import "time"

// Booking payment statuses.  PENDING bookings hold seats until
// ExpiresAt; all other states are terminal for the hold.  REFUND_NEEDED
// marks a booking whose payment arrived after its seats were resold;
// money was received but no seat exists, and financial follow-up is
// required.
const (
    BookingStatusPending      = "PENDING"
    BookingStatusPaid         = "PAID"
    BookingStatusExpired      = "EXPIRED"
    BookingStatusCancelled    = "CANCELLED"
    BookingStatusFailed       = "FAILED"
    BookingStatusRefundNeeded = "REFUND_NEEDED"
)

// Booking records a customer's purchase of one or more seats on a
// schedule.  It is created together with its passengers and the seat
// decrement in a single transaction, so a booking row always accounts
// for exactly PassengerCount held (or settled) seats.
//
// Fields:
//  ID             – primary key identifier.
//  Code           – unique human-facing booking code, also the base of
//                   the payment reference sent to the gateway.
//  CustomerID     – customer who made the booking.
//  ScheduleID     – sailing being booked.
//  PromotionID    – applied promotion, if any.
//  CustomerClass  – tariff class used for pricing.
//  SubtotalCents  – sum of passenger prices before discount.
//  DiscountCents  – discount applied by the promotion.
//  TotalCents     – SubtotalCents - DiscountCents, never negative.
//  PassengerCount – number of passenger records (and held seats).
//  PaymentStatus  – state of the booking, see constants above.
//  ExpiresAt      – payment deadline while PENDING.
//  PaidAt         – settlement time once PAID.
//  DeletedAt      – soft-delete marker set by admin tooling only.
type Booking struct {
    ID             uint64     // bookings.id
    Code           string     // bookings.code
    CustomerID     uint64     // bookings.customer_id
    ScheduleID     uint64     // bookings.schedule_id
    PromotionID    *uint64    // bookings.promotion_id (nullable)
    CustomerClass  string     // bookings.customer_class
    SubtotalCents  int64      // bookings.subtotal_cents
    DiscountCents  int64      // bookings.discount_cents
    TotalCents     int64      // bookings.total_cents
    PassengerCount int        // bookings.passenger_count
    PaymentStatus  string     // bookings.payment_status
    ExpiresAt      *time.Time // bookings.expires_at (nullable)
    PaidAt         *time.Time // bookings.paid_at (nullable)
    DeletedAt      *time.Time // bookings.deleted_at (nullable)
    CreatedAt      time.Time  // bookings.created_at
    UpdatedAt      time.Time  // bookings.updated_at
}

// SeatsHeld reports whether the booking currently accounts for seats in
// the schedule ledger.  PENDING and PAID bookings hold seats; expired,
// cancelled and failed bookings have had their seats released.
func (b *Booking) SeatsHeld() bool {
    return b.PaymentStatus == BookingStatusPending || b.PaymentStatus == BookingStatusPaid
}

// Passenger is a traveller on a booking.  The price is snapshotted at
// booking time and never recalculated afterwards.
type Passenger struct {
    ID             uint64    // passengers.id
    BookingID      uint64    // passengers.booking_id
    FullName       string    // passengers.full_name
    IdentityNumber string    // passengers.identity_number
    Gender         string    // passengers.gender
    PriceCents     int64     // passengers.price_cents (snapshot)
    FreeTicket     bool      // passengers.free_ticket
    CreatedAt      time.Time // passengers.created_at
}
