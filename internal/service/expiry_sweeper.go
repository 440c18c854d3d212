package service

import (
    "context"
    "log"
    "time"

    "github.com/harborline/ferry-booking/internal/model"
    "github.com/harborline/ferry-booking/internal/queue"
    "github.com/harborline/ferry-booking/internal/repository"
)

// ExpirySweeper is the safety net behind gateway expiry callbacks: it
// periodically expires PENDING bookings whose payment deadline passed,
// returning their seats to the ledger.  ExpireBooking only acts on
// still-PENDING rows, so a sweep racing a webhook resolves to exactly
// one effect.
type ExpirySweeper struct {
    bookings  repository.BookingStore
    locker    Locker
    events    EventPublisher
    interval  time.Duration
    batchSize int
    now       func() time.Time
}

// NewExpirySweeper constructs a sweeper.  events may be nil.
func NewExpirySweeper(bookings repository.BookingStore, locker Locker, events EventPublisher, interval time.Duration, batchSize int) *ExpirySweeper {
    if interval <= 0 {
        interval = time.Minute
    }
    if batchSize <= 0 {
        batchSize = 100
    }
    return &ExpirySweeper{
        bookings:  bookings,
        locker:    locker,
        events:    events,
        interval:  interval,
        batchSize: batchSize,
        now:       time.Now,
    }
}

// Run sweeps on a fixed interval until ctx is cancelled.  Meant to be
// launched as a goroutine from main.
func (s *ExpirySweeper) Run(ctx context.Context) {
    log.Printf("sweeper: started, interval=%s batch=%d", s.interval, s.batchSize)
    ticker := time.NewTicker(s.interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            log.Println("sweeper: stopped")
            return
        case <-ticker.C:
            if n, err := s.SweepOnce(ctx); err != nil {
                log.Printf("sweeper: sweep failed: %v", err)
            } else if n > 0 {
                log.Printf("sweeper: expired %d bookings", n)
            }
        }
    }
}

// SweepOnce expires one batch of overdue bookings and reports how many
// it transitioned.  Bookings whose schedule lock is busy are skipped
// and picked up on the next pass.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
    cutoff := s.now().UTC()
    due, err := s.bookings.FindExpiredBookings(ctx, cutoff, s.batchSize)
    if err != nil {
        return 0, err
    }

    expired := 0
    for _, b := range due {
        if ctx.Err() != nil {
            return expired, ctx.Err()
        }
        changed, err := s.expireOne(ctx, b)
        if err != nil {
            log.Printf("sweeper: expire booking %s failed: %v", b.Code, err)
            continue
        }
        if changed {
            expired++
        }
    }
    return expired, nil
}

func (s *ExpirySweeper) expireOne(ctx context.Context, b model.Booking) (bool, error) {
    release, ok, err := s.locker.Acquire(ctx, b.ScheduleID)
    if err != nil {
        return false, err
    }
    if !ok {
        log.Printf("sweeper: schedule %d busy, booking %s deferred", b.ScheduleID, b.Code)
        return false, nil
    }
    defer release()

    changed, err := s.bookings.ExpireBooking(ctx, b.ID)
    if err != nil {
        return false, err
    }
    if !changed {
        // Settled by a webhook between the scan and the lock.
        return false, nil
    }
    log.Printf("sweeper: booking %s expired, %d seats released", b.Code, b.PassengerCount)
    s.publishExpired(ctx, b)
    return true, nil
}

func (s *ExpirySweeper) publishExpired(ctx context.Context, b model.Booking) {
    if s.events == nil {
        return
    }
    ev := queue.BookingEvent{
        Type:           "booking_expired",
        BookingID:      b.ID,
        BookingCode:    b.Code,
        CustomerID:     b.CustomerID,
        ScheduleID:     b.ScheduleID,
        PassengerCount: b.PassengerCount,
        TotalCents:     b.TotalCents,
        Status:         model.BookingStatusExpired,
        OccurredAt:     s.now().UTC().Format(time.RFC3339),
    }
    if err := s.events.PublishBookingEvent(ctx, ev); err != nil {
        log.Printf("sweeper: publish booking_expired event for %s failed: %v", b.Code, err)
    }
}
