package gateway

import (
    "crypto/subtle"
    "encoding/json"
    "fmt"
    "time"
)

// webhookPayload is the provider's push notification shape.  Only id,
// external_id, status and amount are load-bearing; the rest of the
// payload travels as the opaque Raw blob.
type webhookPayload struct {
    ID         string `json:"id"`
    ExternalID string `json:"external_id"`
    Status     string `json:"status"`
    Amount     int64  `json:"amount"`
    PaidAt     string `json:"paid_at"`
}

// ParseWebhook validates the callback token and normalizes the payload
// into a Signal.  Token comparison is constant-time.  A payload this
// adapter cannot interpret yields ErrMalformed; the webhook handler
// still answers 2xx for token-valid malformed payloads it chooses to
// drop, which is its call, not this package's.
func ParseWebhook(body []byte, gotToken, wantToken string) (*Signal, error) {
    if wantToken == "" || subtle.ConstantTimeCompare([]byte(gotToken), []byte(wantToken)) != 1 {
        return nil, ErrBadToken
    }
    var p webhookPayload
    if err := json.Unmarshal(body, &p); err != nil {
        return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
    }
    if p.ExternalID == "" || p.Status == "" {
        return nil, fmt.Errorf("%w: missing external_id or status", ErrMalformed)
    }
    sig := &Signal{
        ExternalID:  p.ExternalID,
        GatewayRef:  p.ID,
        State:       mapProviderStatus(p.Status),
        AmountCents: p.Amount,
        Raw:         append([]byte(nil), body...),
    }
    if p.PaidAt != "" {
        if t, err := time.Parse(time.RFC3339, p.PaidAt); err == nil {
            sig.PaidAt = t.UTC()
        }
    }
    if sig.State == StateSucceeded && sig.PaidAt.IsZero() {
        sig.PaidAt = time.Now().UTC()
    }
    return sig, nil
}
