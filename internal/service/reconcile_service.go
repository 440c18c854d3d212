package service

import (
    "context"
    "errors"
    "log"
    "time"

    "github.com/harborline/ferry-booking/internal/gateway"
    "github.com/harborline/ferry-booking/internal/model"
    "github.com/harborline/ferry-booking/internal/queue"
    "github.com/harborline/ferry-booking/internal/repository"
)

// ReconcileService converges local payment and booking state with what
// the gateway reports.  Every signal, whether pushed by webhook or
// pulled by SyncPaymentStatus, funnels through Apply, so push and pull
// share one state machine and one set of logs.
type ReconcileService struct {
    bookings repository.BookingStore
    payments repository.PaymentStore
    gw       gateway.PaymentGateway
    locker   Locker
    events   EventPublisher
    now      func() time.Time
}

// NewReconcileService constructs a ReconcileService.  events may be nil.
func NewReconcileService(
    bookings repository.BookingStore,
    payments repository.PaymentStore,
    gw gateway.PaymentGateway,
    locker Locker,
    events EventPublisher,
) *ReconcileService {
    return &ReconcileService{
        bookings: bookings,
        payments: payments,
        gw:       gw,
        locker:   locker,
        events:   events,
        now:      time.Now,
    }
}

// Apply reconciles one gateway signal.  Signals for unknown payments
// and signals that change nothing are absorbed silently so that a
// retried webhook can always be acknowledged.  Only infrastructure
// failures (lock, database) return an error, which callers translate
// into "retry later".
func (s *ReconcileService) Apply(ctx context.Context, sig *gateway.Signal) error {
    payment, err := s.payments.PaymentByExternalID(ctx, sig.ExternalID)
    if err != nil {
        if errors.Is(err, repository.ErrPaymentNotFound) {
            log.Printf("reconcile: signal for unknown payment %s ignored", sig.ExternalID)
            return nil
        }
        return err
    }

    switch sig.State {
    case gateway.StateSucceeded, gateway.StateExpired, gateway.StateFailed:
    default:
        // PENDING and anything unrecognized carries no transition.
        log.Printf("reconcile: signal %s for payment %s carries no transition, ignored", sig.State, sig.ExternalID)
        return nil
    }

    if sig.AmountCents != 0 && sig.AmountCents != payment.AmountCents {
        log.Printf("reconcile: amount mismatch on payment %s (signal %d, expected %d), ignored",
            sig.ExternalID, sig.AmountCents, payment.AmountCents)
        return nil
    }

    booking, err := s.bookings.BookingByID(ctx, payment.BookingID)
    if err != nil {
        return err
    }

    release, ok, err := s.locker.Acquire(ctx, booking.ScheduleID)
    if err != nil {
        return err
    }
    if !ok {
        return ErrBusy
    }
    defer release()

    switch sig.State {
    case gateway.StateSucceeded:
        return s.applySucceeded(ctx, payment, sig)
    default:
        return s.applyClosed(ctx, payment, sig)
    }
}

func (s *ReconcileService) applySucceeded(ctx context.Context, payment *model.Payment, sig *gateway.Signal) error {
    paidAt := sig.PaidAt
    if paidAt.IsZero() {
        paidAt = s.now().UTC()
    }
    out, err := s.bookings.SettlePaid(ctx, payment.ExternalID, paidAt, sig.Raw)
    if err != nil {
        return err
    }
    if !out.Applied {
        log.Printf("reconcile: duplicate SUCCEEDED signal for payment %s, no-op", payment.ExternalID)
        return nil
    }

    switch {
    case out.RefundNeeded:
        // Money arrived but the seats are gone.  This is the one path
        // that demands human follow-up, so it gets the loudest channel
        // we have.
        log.Printf("reconcile: ALERT refund needed for booking %s (payment %s, amount %d): paid after expiry with no seats left",
            out.BookingCode, payment.ExternalID, payment.AmountCents)
        s.publishRefundAlert(ctx, out, payment)
        s.publishEvent(ctx, "booking_refund_needed", out)
    case out.Recovered:
        log.Printf("reconcile: booking %s recovered by late payment %s, seats re-acquired",
            out.BookingCode, payment.ExternalID)
        s.publishEvent(ctx, "booking_recovered", out)
    default:
        log.Printf("reconcile: booking %s paid via payment %s", out.BookingCode, payment.ExternalID)
        s.publishEvent(ctx, "booking_paid", out)
    }
    return nil
}

func (s *ReconcileService) applyClosed(ctx context.Context, payment *model.Payment, sig *gateway.Signal) error {
    closedStatus := model.PaymentStatusExpired
    eventType := "booking_expired"
    if sig.State == gateway.StateFailed {
        closedStatus = model.PaymentStatusFailed
        eventType = "booking_failed"
    }
    out, err := s.bookings.SettleClosed(ctx, payment.ExternalID, closedStatus, sig.Raw)
    if err != nil {
        return err
    }
    if !out.Applied {
        log.Printf("reconcile: %s signal for already-closed payment %s, no-op", sig.State, payment.ExternalID)
        return nil
    }
    if out.SeatsReleased > 0 {
        log.Printf("reconcile: booking %s closed as %s via payment %s, %d seats released",
            out.BookingCode, out.BookingStatus, payment.ExternalID, out.SeatsReleased)
        s.publishEvent(ctx, eventType, out)
    } else {
        log.Printf("reconcile: payment %s closed as %s, booking %s untouched",
            payment.ExternalID, closedStatus, out.BookingCode)
    }
    return nil
}

// SyncPaymentStatus pulls the latest state of a booking's most recent
// payment from the gateway and reconciles it.  It is the manual
// counterpart to the webhook, for when callbacks were lost.
func (s *ReconcileService) SyncPaymentStatus(ctx context.Context, customerID uint64, bookingCode string) (*model.Payment, error) {
    booking, err := s.bookings.BookingByCode(ctx, bookingCode)
    if err != nil {
        return nil, err
    }
    if customerID != 0 && booking.CustomerID != customerID {
        return nil, ErrForbidden
    }
    payment, err := s.payments.LatestPaymentByBooking(ctx, booking.ID)
    if err != nil {
        return nil, err
    }

    sig, err := s.gw.FetchStatus(ctx, payment.GatewayRef)
    if err != nil {
        return nil, err
    }
    if err := s.Apply(ctx, sig); err != nil {
        return nil, err
    }
    return s.payments.PaymentByExternalID(ctx, payment.ExternalID)
}

func (s *ReconcileService) publishEvent(ctx context.Context, typ string, out repository.SettleOutcome) {
    if s.events == nil {
        return
    }
    ev := queue.BookingEvent{
        Type:        typ,
        BookingID:   out.BookingID,
        BookingCode: out.BookingCode,
        ScheduleID:  out.ScheduleID,
        Status:      out.BookingStatus,
        OccurredAt:  s.now().UTC().Format(time.RFC3339),
    }
    if err := s.events.PublishBookingEvent(ctx, ev); err != nil {
        log.Printf("reconcile: publish %s event for %s failed: %v", typ, out.BookingCode, err)
    }
}

func (s *ReconcileService) publishRefundAlert(ctx context.Context, out repository.SettleOutcome, payment *model.Payment) {
    if s.events == nil {
        return
    }
    alert := queue.RefundAlert{
        BookingID:   out.BookingID,
        BookingCode: out.BookingCode,
        ScheduleID:  out.ScheduleID,
        ExternalID:  payment.ExternalID,
        AmountCents: payment.AmountCents,
        OccurredAt:  s.now().UTC().Format(time.RFC3339),
    }
    if err := s.events.PublishRefundAlert(ctx, alert); err != nil {
        log.Printf("reconcile: publish refund alert for %s failed: %v", out.BookingCode, err)
    }
}
