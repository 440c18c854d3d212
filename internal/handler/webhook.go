package handler

import (
    "errors"
    "io"
    "log"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/harborline/ferry-booking/internal/gateway"
    "github.com/harborline/ferry-booking/internal/service"
)

// WebhookHandler receives payment-status callbacks from the gateway.
type WebhookHandler struct {
    Reconcile     *service.ReconcileService
    CallbackToken string
}

// NewWebhookHandler constructs a WebhookHandler.  callbackToken is the
// shared secret the gateway sends in the X-Callback-Token header.
func NewWebhookHandler(reconcile *service.ReconcileService, callbackToken string) *WebhookHandler {
    if reconcile == nil {
        panic("nil reconcile service passed to NewWebhookHandler")
    }
    return &WebhookHandler{Reconcile: reconcile, CallbackToken: callbackToken}
}

// Notify handles POST /v1/payments/notify.  The contract with the
// provider: 2xx means "delivered, stop retrying", anything else means
// "retry later".  Signals that change nothing (duplicates, unknown
// references, stale states) are therefore acknowledged with 200, and
// only infrastructure failures answer 5xx.  A bad token gets 401 so a
// misconfigured or hostile caller is never acknowledged.
func (h *WebhookHandler) Notify(c echo.Context) error {
    body, err := io.ReadAll(c.Request().Body)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
    }

    sig, err := gateway.ParseWebhook(body, c.Request().Header.Get("X-Callback-Token"), h.CallbackToken)
    if err != nil {
        if errors.Is(err, gateway.ErrBadToken) {
            return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid callback token"})
        }
        // A token-valid but unparseable payload will never become
        // parseable on redelivery, so acknowledge and drop it instead
        // of inviting an infinite retry loop.
        log.Printf("webhook: dropping malformed payload: %v", err)
        return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
    }

    if err := h.Reconcile.Apply(c.Request().Context(), sig); err != nil {
        // Lock contention or database trouble: ask the provider to
        // redeliver.
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily unavailable"})
    }
    return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
