package router // package router defines how HTTP routes are registered for the API

import (
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/harborline/ferry-booking/internal/config"
    "github.com/harborline/ferry-booking/internal/handler"
    "github.com/harborline/ferry-booking/internal/middleware"
)

// RegisterRoutes wires every endpoint of the booking API onto the Echo
// instance.  Three surfaces with different protection:
//
//   - customer endpoints under /v1 behind JWT + role check,
//   - public schedule reads behind the redis response cache,
//   - the gateway webhook, protected only by its callback token since
//     the provider cannot carry a JWT.
//
// The rate limiter applies to everything except the webhook and the
// health probe: a retried provider callback must never be rate-limited
// into a redelivery loop.  Customer routes install it after JWT auth
// so the bucket keys on the authenticated user rather than the IP.
func RegisterRoutes(
    e *echo.Echo,
    bookings *handler.BookingHandler,
    schedules *handler.ScheduleHandler,
    webhook *handler.WebhookHandler,
    rdb *redis.Client,
    jwtSecret string,
) {
    e.Use(middleware.RequestID())

    e.GET("/healthz", handler.Health)
    e.POST("/v1/payments/notify", webhook.Notify)

    limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

    // Public reads, IP-bucketed, cached and lock-free.
    public := e.Group("/v1", limiter)
    public.GET("/schedules/:id/seats", schedules.Seats,
        middleware.NewRedisCache(config.LoadCacheConfig(), rdb))

    // Customer endpoints.
    auth := e.Group("/v1")
    auth.Use(middleware.JWTAuth(jwtSecret))
    auth.Use(middleware.RequireRole("CUSTOMER"))
    auth.Use(limiter)
    auth.POST("/bookings", bookings.CreateBooking)
    auth.GET("/bookings/:code", bookings.GetBooking)
    auth.POST("/bookings/:code/payment", bookings.SelectPaymentMethod)
    auth.POST("/bookings/:code/sync", bookings.SyncPaymentStatus)
}
