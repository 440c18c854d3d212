// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  booking.events carries lifecycle events for downstream
// consumers (notifications, analytics); payment.refund_needed is the
// alert channel for payments that arrived after their seats were
// resold and require financial follow-up.
const (
    BookingEventsQueue = "booking.events"
    RefundAlertQueue   = "payment.refund_needed"
)

// BookingEvent is published on every booking lifecycle transition.  It
// carries enough information for downstream consumers to log, notify
// or trigger analytics without querying the primary database.
type BookingEvent struct {
    Type           string `json:"type"` // booking_created, booking_paid, booking_expired, booking_failed, booking_recovered
    BookingID      uint64 `json:"booking_id"`
    BookingCode    string `json:"booking_code"`
    CustomerID     uint64 `json:"customer_id,omitempty"`
    ScheduleID     uint64 `json:"schedule_id"`
    PassengerCount int    `json:"passenger_count"`
    TotalCents     int64  `json:"total_cents"`
    Status         string `json:"status"`
    OccurredAt     string `json:"occurred_at"`
}

// RefundAlert is published when the overselling guard finds no seats
// left for a settled payment.  Consumers must treat it as
// alert-severity: money was received and no seat exists, and the state
// is never auto-resolved.
type RefundAlert struct {
    BookingID   uint64 `json:"booking_id"`
    BookingCode string `json:"booking_code"`
    ScheduleID  uint64 `json:"schedule_id"`
    ExternalID  string `json:"external_id"`
    AmountCents int64  `json:"amount_cents"`
    OccurredAt  string `json:"occurred_at"`
}
