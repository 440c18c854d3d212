package middleware

import (
    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
)

// RequestID attaches a request id to every request, honoring an
// incoming X-Request-ID so ids survive proxies.  The id is stored in
// the context and echoed back in the response header for log
// correlation across services.
func RequestID() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            id := c.Request().Header.Get("X-Request-ID")
            if id == "" {
                id = uuid.NewString()
            }
            c.Set("request_id", id)
            c.Response().Header().Set("X-Request-ID", id)
            return next(c)
        }
    }
}
