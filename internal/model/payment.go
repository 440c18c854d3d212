package model

import "time"

// Payment statuses.  PENDING is the only non-terminal state; at most
// one non-terminal payment row governs a booking at a time.  A
// superseded payment (customer re-selected the method before paying)
// is moved to FAILED so the replacement becomes the active one.
const (
    PaymentStatusPending = "PENDING"
    PaymentStatusPaid    = "PAID"
    PaymentStatusExpired = "EXPIRED"
    PaymentStatusFailed  = "FAILED"
)

// Payment is one gateway-tracked payment attempt for a booking.
//
// Fields:
//  ID          – primary key identifier.
//  BookingID   – booking this attempt pays for.
//  ExternalID  – reference sent to the gateway, derived from the
//                booking code plus an attempt counter.  Unique, and the
//                idempotency key for intent creation.
//  GatewayRef  – the gateway's own id for the invoice/charge.
//  CheckoutURL – checkout artifact returned by the gateway (invoice
//                URL, VA number or QR string depending on the method).
//  Method      – payment method chosen by the customer.
//  Status      – state of this attempt, see constants above.
//  AmountCents – amount charged, equals the booking total.
//  ExpiresAt   – gateway-side expiry of the checkout artifact.
//  PaidAt      – settlement time reported by the gateway.
//  RawResponse – opaque gateway payload kept for audit only; never
//                parsed outside the gateway adapter.
type Payment struct {
    ID          uint64     // payments.id
    BookingID   uint64     // payments.booking_id
    ExternalID  string     // payments.external_id
    GatewayRef  string     // payments.gateway_ref
    CheckoutURL string     // payments.checkout_url
    Method      string     // payments.method
    Status      string     // payments.status
    AmountCents int64      // payments.amount_cents
    ExpiresAt   *time.Time // payments.expires_at (nullable)
    PaidAt      *time.Time // payments.paid_at (nullable)
    RawResponse []byte     // payments.raw_response
    CreatedAt   time.Time  // payments.created_at
    UpdatedAt   time.Time  // payments.updated_at
}

// Terminal reports whether the payment can no longer change state.
func (p *Payment) Terminal() bool {
    return p.Status != PaymentStatusPending
}
