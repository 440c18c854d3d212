package main // Entry point package

import (
    "context"
    "log"
    "os"
    "os/signal"
    "syscall"

    "github.com/joho/godotenv"
    "github.com/labstack/echo/v4"

    "github.com/harborline/ferry-booking/internal/config"
    "github.com/harborline/ferry-booking/internal/database"
    "github.com/harborline/ferry-booking/internal/gateway"
    "github.com/harborline/ferry-booking/internal/handler"
    "github.com/harborline/ferry-booking/internal/lock"
    "github.com/harborline/ferry-booking/internal/pricing"
    "github.com/harborline/ferry-booking/internal/queue"
    "github.com/harborline/ferry-booking/internal/repository"
    "github.com/harborline/ferry-booking/internal/router"
    "github.com/harborline/ferry-booking/internal/service"
)

func main() {
    // .env is a development convenience; real deployments set the
    // environment directly.
    _ = godotenv.Load()
    cfg := config.Load()

    db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
    if err != nil {
        log.Fatalf("database: %v", err)
    }
    defer db.Close()

    rdb := config.NewRedisClient()
    if rdb == nil {
        // The schedule lock serializes every seat-moving operation
        // across instances; without it concurrent writers could
        // oversell.
        log.Fatal("redis: unreachable, refusing to start without the schedule lock")
    }
    defer rdb.Close()

    scheduleRepo := repository.NewScheduleRepo(db)
    bookingRepo := repository.NewBookingRepo(db)
    paymentRepo := repository.NewPaymentRepo(db)

    locker := lock.NewScheduleLock(rdb, cfg.LockWait, cfg.LockHold)
    pricer := pricing.NewTariffCalculator(db)
    gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

    var events service.EventPublisher
    if cfg.BrokerURL != "" {
        events = queue.NewPublisher(cfg.BrokerURL)
    } else {
        log.Println("queue: RABBITMQ_URL not set, event publishing disabled")
    }

    bookingSvc := service.NewBookingService(scheduleRepo, bookingRepo, paymentRepo, pricer, gw, locker, events, cfg.HoldWindow)
    reconcileSvc := service.NewReconcileService(bookingRepo, paymentRepo, gw, locker, events)
    sweeper := service.NewExpirySweeper(bookingRepo, locker, events, cfg.SweepInterval, cfg.SweepBatch)

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    go sweeper.Run(ctx)
    if cfg.BrokerURL != "" {
        go func() {
            if err := queue.StartRefundAlertConsumer(); err != nil {
                log.Printf("refund-consumer: %v", err)
            }
        }()
    }

    e := echo.New()
    e.HideBanner = true
    router.RegisterRoutes(e,
        handler.NewBookingHandler(bookingSvc, reconcileSvc),
        handler.NewScheduleHandler(bookingSvc),
        handler.NewWebhookHandler(reconcileSvc, cfg.GatewayCallbackToken),
        rdb,
        cfg.JWTSecret,
    )

    go func() {
        <-ctx.Done()
        log.Println("shutting down")
        _ = e.Shutdown(context.Background())
    }()

    addr := ":" + cfg.Port
    log.Printf("listening on %s (env=%s)", addr, cfg.Env)
    if err := e.Start(addr); err != nil {
        log.Println(err)
    }
}
