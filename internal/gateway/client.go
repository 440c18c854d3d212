package gateway

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log"
    "net"
    "net/http"
    "time"
)

// Client talks to an invoice-style payment provider over HTTP.  The
// provider deduplicates invoice creation on external_id, which makes
// CreateIntent safe to retry; both calls carry an explicit timeout and
// never block indefinitely.
type Client struct {
    baseURL    string
    apiKey     string
    httpClient *http.Client
    retries    int
}

// NewClient builds a Client.  timeout bounds every single HTTP attempt.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
    return &Client{
        baseURL:    baseURL,
        apiKey:     apiKey,
        httpClient: &http.Client{Timeout: timeout},
        retries:    2,
    }
}

// invoicePayload mirrors the provider's invoice resource.  Amounts are
// integer cents; expiry_date is RFC3339.
type invoicePayload struct {
    ID          string `json:"id"`
    ExternalID  string `json:"external_id"`
    Status      string `json:"status"`
    Amount      int64  `json:"amount"`
    InvoiceURL  string `json:"invoice_url"`
    ExpiryDate  string `json:"expiry_date"`
    PaidAt      string `json:"paid_at"`
    PaymentType string `json:"payment_type"`
}

// CreateIntent creates an invoice for the booking reference.  Server
// errors and timeouts are retried a bounded number of times; the
// external_id idempotency key guarantees retries cannot double-charge.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (*PaymentIntent, error) {
    body := map[string]any{
        "external_id":      req.ExternalID,
        "amount":           req.AmountCents,
        "description":      req.Description,
        "payment_method":   req.Method,
        "invoice_duration": int(req.Duration / time.Second),
    }
    raw, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/invoices", body)
    if err != nil {
        return nil, err
    }
    if status != http.StatusOK && status != http.StatusCreated {
        return nil, fmt.Errorf("%w: create invoice returned %d", ErrUnavailable, status)
    }
    var inv invoicePayload
    if err := json.Unmarshal(raw, &inv); err != nil {
        return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
    }
    if inv.ID == "" || inv.InvoiceURL == "" {
        return nil, fmt.Errorf("%w: missing invoice id or url", ErrMalformed)
    }
    intent := &PaymentIntent{
        ExternalID:  inv.ExternalID,
        GatewayRef:  inv.ID,
        CheckoutURL: inv.InvoiceURL,
        State:       mapProviderStatus(inv.Status),
        Raw:         raw,
    }
    if inv.ExpiryDate != "" {
        if t, err := time.Parse(time.RFC3339, inv.ExpiryDate); err == nil {
            intent.ExpiresAt = t.UTC()
        }
    }
    return intent, nil
}

// FetchStatus pulls the current invoice state and normalizes it into a
// Signal.  Used by the manual sync path and by recovery tooling.
func (c *Client) FetchStatus(ctx context.Context, gatewayRef string) (*Signal, error) {
    raw, status, err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/invoices/"+gatewayRef, nil)
    if err != nil {
        return nil, err
    }
    if status == http.StatusNotFound {
        return nil, fmt.Errorf("%w: invoice %s not found", ErrMalformed, gatewayRef)
    }
    if status != http.StatusOK {
        return nil, fmt.Errorf("%w: fetch invoice returned %d", ErrUnavailable, status)
    }
    var inv invoicePayload
    if err := json.Unmarshal(raw, &inv); err != nil {
        return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
    }
    if inv.ID == "" || inv.ExternalID == "" {
        return nil, fmt.Errorf("%w: missing invoice identifiers", ErrMalformed)
    }
    sig := &Signal{
        ExternalID:  inv.ExternalID,
        GatewayRef:  inv.ID,
        State:       mapProviderStatus(inv.Status),
        AmountCents: inv.Amount,
        Raw:         raw,
    }
    if inv.PaidAt != "" {
        if t, err := time.Parse(time.RFC3339, inv.PaidAt); err == nil {
            sig.PaidAt = t.UTC()
        }
    }
    if sig.State == StateSucceeded && sig.PaidAt.IsZero() {
        sig.PaidAt = time.Now().UTC()
    }
    return sig, nil
}

// do runs one HTTP call with bounded retries on network errors,
// timeouts and 5xx answers.  4xx answers are returned to the caller
// unretried since retrying cannot change them.
func (c *Client) do(ctx context.Context, method, url string, body any) ([]byte, int, error) {
    var payload []byte
    if body != nil {
        var err error
        payload, err = json.Marshal(body)
        if err != nil {
            return nil, 0, err
        }
    }

    var lastErr error
    for attempt := 0; attempt <= c.retries; attempt++ {
        if attempt > 0 {
            log.Printf("gateway: retrying %s %s (attempt %d): %v", method, url, attempt+1, lastErr)
            select {
            case <-ctx.Done():
                return nil, 0, classifyNetErr(ctx.Err())
            case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
            }
        }

        var reader io.Reader
        if payload != nil {
            reader = bytes.NewReader(payload)
        }
        req, err := http.NewRequestWithContext(ctx, method, url, reader)
        if err != nil {
            return nil, 0, err
        }
        req.SetBasicAuth(c.apiKey, "")
        if payload != nil {
            req.Header.Set("Content-Type", "application/json")
        }

        resp, err := c.httpClient.Do(req)
        if err != nil {
            lastErr = classifyNetErr(err)
            continue
        }
        raw, err := io.ReadAll(resp.Body)
        resp.Body.Close()
        if err != nil {
            lastErr = fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
            continue
        }
        if resp.StatusCode >= http.StatusInternalServerError {
            lastErr = fmt.Errorf("%w: server returned %d", ErrUnavailable, resp.StatusCode)
            continue
        }
        return raw, resp.StatusCode, nil
    }
    return nil, 0, lastErr
}

// classifyNetErr maps transport failures onto the adapter's sentinel
// errors so callers can distinguish timeouts from other outages.
func classifyNetErr(err error) error {
    if errors.Is(err, context.DeadlineExceeded) {
        return fmt.Errorf("%w: %v", ErrTimeout, err)
    }
    var netErr net.Error
    if errors.As(err, &netErr) && netErr.Timeout() {
        return fmt.Errorf("%w: %v", ErrTimeout, err)
    }
    return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// mapProviderStatus collapses the provider's status vocabulary onto
// the normalized states.  Unknown values are treated as PENDING so a
// new provider status can never flip settled state.
func mapProviderStatus(s string) string {
    switch s {
    case "PAID", "SETTLED":
        return StateSucceeded
    case "EXPIRED":
        return StateExpired
    case "FAILED", "VOIDED":
        return StateFailed
    default:
        return StatePending
    }
}

var _ PaymentGateway = (*Client)(nil)
