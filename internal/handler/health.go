package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// Health answers liveness probes from load balancers and monitoring.
// It reports only that the process is serving; dependency health shows
// up in the endpoints that use each dependency.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}
