// Package gateway wraps the external payment provider behind a narrow
// typed contract.  Everything provider-specific (endpoint shapes,
// status vocabularies, webhook payloads, callback tokens) stays in
// this package; the rest of the system only ever sees IntentRequest,
// PaymentIntent and Signal.
package gateway

import (
    "context"
    "errors"
    "time"
)

// Normalized payment states.  Push (webhook) and pull (status fetch)
// both collapse onto these four values before the reconciler sees them.
const (
    StatePending   = "PENDING"
    StateSucceeded = "SUCCEEDED"
    StateExpired   = "EXPIRED"
    StateFailed    = "FAILED"
)

// ErrUnavailable is returned when the provider cannot be reached or
// answers with a server error after retries.  Transient: the caller
// may retry the idempotent operation later.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ErrTimeout is returned when the provider does not answer within the
// configured timeout.  Transient like ErrUnavailable, kept separate so
// callers can report it distinctly.
var ErrTimeout = errors.New("payment gateway timeout")

// ErrMalformed is returned when the provider answers with a payload
// this adapter cannot interpret.  Treated as retryable: no partial
// state must be persisted from it.
var ErrMalformed = errors.New("malformed gateway response")

// ErrBadToken is returned by ParseWebhook when the callback token does
// not match the configured one.
var ErrBadToken = errors.New("invalid callback token")

// IntentRequest describes the payment intent to create.  ExternalID is
// the idempotency key: the provider deduplicates creation requests on
// it, so a retried request can never produce a second charge.
type IntentRequest struct {
    ExternalID  string
    AmountCents int64
    Method      string
    Description string
    Duration    time.Duration // how long the checkout artifact stays payable
}

// PaymentIntent is the provider's answer to a creation request.
type PaymentIntent struct {
    ExternalID  string
    GatewayRef  string // the provider's own id for the invoice
    CheckoutURL string
    State       string
    ExpiresAt   time.Time
    Raw         []byte // verbatim provider payload, audit only
}

// Signal is a normalized payment-status report, regardless of whether
// it arrived by webhook push or status pull.  PaidAt is zero unless
// State is SUCCEEDED.
type Signal struct {
    ExternalID  string
    GatewayRef  string
    State       string
    AmountCents int64
    PaidAt      time.Time
    Raw         []byte
}

// PaymentGateway is the outbound contract consumed by the booking
// orchestrator and the sync pull path.
type PaymentGateway interface {
    CreateIntent(ctx context.Context, req IntentRequest) (*PaymentIntent, error)
    FetchStatus(ctx context.Context, gatewayRef string) (*Signal, error)
}
