package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/harborline/ferry-booking/internal/model"
)

// Settlement transactions.  Both entry points lock the payment row
// first, then the booking row, then (when seats move) the schedule
// row.  Re-checking the payment status on the locked read is what
// absorbs duplicate webhooks and webhook-vs-sync races: a signal that
// was already applied finds the payment out of PENDING and becomes a
// no-op.

// SettlePaid applies a SUCCEEDED gateway signal.  Money was received,
// so the payment always ends PAID.  What happens to the booking
// depends on its current state:
//
//   - PENDING: booking becomes PAID, the deadline is cleared, the
//     seats stay held (they were reserved at creation time).
//   - PAID: nothing to do, the signal is a duplicate.
//   - EXPIRED/CANCELLED/FAILED: the hold was already released.  The
//     seat ledger is re-checked under the schedule row lock; when it
//     still covers the booking, the seats are re-reserved and the
//     booking recovered to PAID.  When it does not, the booking is
//     marked REFUND_NEEDED, never a silent drop and never a negative
//     ledger.
func (r *BookingRepo) SettlePaid(ctx context.Context, externalID string, paidAt time.Time, raw []byte) (SettleOutcome, error) {
    var out SettleOutcome
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return out, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    paymentID, bookingID, payStatus, err := lockPaymentTx(ctx, tx, externalID)
    if err != nil {
        return out, err
    }
    out.BookingID = bookingID
    out.PaymentStatus = payStatus

    if payStatus == model.PaymentStatusPaid {
        // Duplicate delivery for an already settled payment.
        if err := fillBookingContextTx(ctx, tx, bookingID, &out); err != nil {
            return out, err
        }
        out.RefundNeeded = out.BookingStatus == model.BookingStatusRefundNeeded
        if err := tx.Commit(); err != nil {
            return out, err
        }
        committed = true
        return out, nil
    }

    // PENDING, or a terminal non-PAID payment reactivated by a late
    // settlement: the gateway says the money arrived, so the payment
    // row follows it.
    if _, err := tx.ExecContext(ctx,
        `UPDATE payments SET status = ?, paid_at = ?, raw_response = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
        model.PaymentStatusPaid, paidAt, raw, paymentID,
    ); err != nil {
        return out, err
    }
    out.PaymentStatus = model.PaymentStatusPaid
    out.Applied = true

    const selBooking = `SELECT code, schedule_id, passenger_count, payment_status FROM bookings WHERE id = ? FOR UPDATE`
    var code string
    var scheduleID uint64
    var count int
    var bookStatus string
    if err := tx.QueryRowContext(ctx, selBooking, bookingID).Scan(&code, &scheduleID, &count, &bookStatus); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return out, ErrBookingNotFound
        }
        return out, err
    }
    out.BookingCode = code
    out.ScheduleID = scheduleID
    out.BookingStatus = bookStatus

    switch bookStatus {
    case model.BookingStatusPending:
        // Common path: seats are still held, just settle the booking.
        if _, err := tx.ExecContext(ctx,
            `UPDATE bookings SET payment_status = ?, paid_at = ?, expires_at = NULL, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
            model.BookingStatusPaid, paidAt, bookingID,
        ); err != nil {
            return out, err
        }
        out.BookingStatus = model.BookingStatusPaid

    case model.BookingStatusPaid:
        // Booking settled earlier (e.g. by a racing sync pull).

    case model.BookingStatusRefundNeeded:
        out.RefundNeeded = true

    default:
        // EXPIRED, CANCELLED or FAILED: the hold was released.  This
        // is the overselling guard: re-check the ledger under the
        // schedule row lock before taking seats back.
        avail, _, _, err := lockScheduleTx(ctx, tx, scheduleID)
        if err != nil {
            return out, err
        }
        if avail >= count {
            if _, err := tx.ExecContext(ctx,
                `UPDATE schedules SET available_seats = available_seats - ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND available_seats >= ?`,
                count, scheduleID, count,
            ); err != nil {
                return out, err
            }
            if _, err := tx.ExecContext(ctx,
                `UPDATE bookings SET payment_status = ?, paid_at = ?, expires_at = NULL, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
                model.BookingStatusPaid, paidAt, bookingID,
            ); err != nil {
                return out, err
            }
            out.BookingStatus = model.BookingStatusPaid
            out.Recovered = true
        } else {
            if _, err := tx.ExecContext(ctx,
                `UPDATE bookings SET payment_status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
                model.BookingStatusRefundNeeded, bookingID,
            ); err != nil {
                return out, err
            }
            out.BookingStatus = model.BookingStatusRefundNeeded
            out.RefundNeeded = true
        }
    }

    if err := tx.Commit(); err != nil {
        return out, err
    }
    committed = true
    return out, nil
}

// SettleClosed applies an EXPIRED or FAILED gateway signal.  Only a
// PENDING payment is moved; terminal payments make the call a no-op so
// that out-of-order signals cannot resurrect or flip settled state.  A
// booking that is still PENDING follows the payment and its seats are
// released immediately rather than waiting for the sweeper.
func (r *BookingRepo) SettleClosed(ctx context.Context, externalID string, closedStatus string, raw []byte) (SettleOutcome, error) {
    var out SettleOutcome
    if closedStatus != model.PaymentStatusExpired && closedStatus != model.PaymentStatusFailed {
        return out, errors.New("settle closed: status must be EXPIRED or FAILED")
    }
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return out, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    paymentID, bookingID, payStatus, err := lockPaymentTx(ctx, tx, externalID)
    if err != nil {
        return out, err
    }
    out.BookingID = bookingID
    out.PaymentStatus = payStatus

    if payStatus != model.PaymentStatusPending {
        // Terminal already; log-and-ignore is the caller's job.
        if err := fillBookingContextTx(ctx, tx, bookingID, &out); err != nil {
            return out, err
        }
        if err := tx.Commit(); err != nil {
            return out, err
        }
        committed = true
        return out, nil
    }

    if _, err := tx.ExecContext(ctx,
        `UPDATE payments SET status = ?, raw_response = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
        closedStatus, raw, paymentID,
    ); err != nil {
        return out, err
    }
    out.PaymentStatus = closedStatus
    out.Applied = true

    const selBooking = `SELECT code, schedule_id, passenger_count, payment_status FROM bookings WHERE id = ? FOR UPDATE`
    var code string
    var scheduleID uint64
    var count int
    var bookStatus string
    if err := tx.QueryRowContext(ctx, selBooking, bookingID).Scan(&code, &scheduleID, &count, &bookStatus); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return out, ErrBookingNotFound
        }
        return out, err
    }
    out.BookingCode = code
    out.ScheduleID = scheduleID
    out.BookingStatus = bookStatus

    if bookStatus == model.BookingStatusPending {
        bookingStatus := model.BookingStatusExpired
        if closedStatus == model.PaymentStatusFailed {
            bookingStatus = model.BookingStatusFailed
        }
        if _, err := tx.ExecContext(ctx,
            `UPDATE bookings SET payment_status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
            bookingStatus, bookingID,
        ); err != nil {
            return out, err
        }
        released, err := releaseSeatsTx(ctx, tx, scheduleID, count)
        if err != nil {
            return out, err
        }
        out.BookingStatus = bookingStatus
        out.SeatsReleased = released
    }

    if err := tx.Commit(); err != nil {
        return out, err
    }
    committed = true
    return out, nil
}

// lockPaymentTx reads a payment row by external id under an exclusive
// lock.  The returned status is the authoritative value for the
// idempotency decision.
func lockPaymentTx(ctx context.Context, tx *sql.Tx, externalID string) (paymentID, bookingID uint64, status string, err error) {
    const q = `SELECT id, booking_id, status FROM payments WHERE external_id = ? FOR UPDATE`
    err = tx.QueryRowContext(ctx, q, externalID).Scan(&paymentID, &bookingID, &status)
    if errors.Is(err, sql.ErrNoRows) {
        err = ErrPaymentNotFound
    }
    return paymentID, bookingID, status, err
}

// fillBookingContextTx populates the booking fields of a no-op outcome
// so that callers can still log which booking the signal referred to.
func fillBookingContextTx(ctx context.Context, tx *sql.Tx, bookingID uint64, out *SettleOutcome) error {
    const q = `SELECT code, schedule_id, payment_status FROM bookings WHERE id = ?`
    err := tx.QueryRowContext(ctx, q, bookingID).Scan(&out.BookingCode, &out.ScheduleID, &out.BookingStatus)
    if errors.Is(err, sql.ErrNoRows) {
        return ErrBookingNotFound
    }
    return err
}
