package repository

import (
    "context"
    "database/sql"
    "errors"
    "log"
    "time"

    "github.com/harborline/ferry-booking/internal/model"
)

// BookingRepo owns the booking lifecycle transactions: creation with
// seat reservation, expiry with seat release, and settlement of
// gateway signals.  Operations that span bookings, payments and the
// schedule ledger live here so that each of them commits or rolls back
// as a single unit.  Callers serialize per-schedule access with the
// distributed schedule lock; the FOR UPDATE row locks inside these
// transactions are the second line of defence.
type BookingRepo struct {
    db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, code, customer_id, schedule_id, promotion_id, customer_class,
        subtotal_cents, discount_cents, total_cents, passenger_count, payment_status,
        expires_at, paid_at, deleted_at, created_at, updated_at`

func scanBooking(row interface{ Scan(dest ...any) error }) (*model.Booking, error) {
    var b model.Booking
    var promotionID sql.NullInt64
    var expiresAt, paidAt, deletedAt sql.NullTime
    err := row.Scan(
        &b.ID, &b.Code, &b.CustomerID, &b.ScheduleID, &promotionID, &b.CustomerClass,
        &b.SubtotalCents, &b.DiscountCents, &b.TotalCents, &b.PassengerCount, &b.PaymentStatus,
        &expiresAt, &paidAt, &deletedAt, &b.CreatedAt, &b.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    if promotionID.Valid {
        id := uint64(promotionID.Int64)
        b.PromotionID = &id
    }
    if expiresAt.Valid {
        t := expiresAt.Time
        b.ExpiresAt = &t
    }
    if paidAt.Valid {
        t := paidAt.Time
        b.PaidAt = &t
    }
    if deletedAt.Valid {
        t := deletedAt.Time
        b.DeletedAt = &t
    }
    return &b, nil
}

// CreatePendingBooking reserves seats and persists the booking with its
// passengers in one transaction.  The sequence is: lock the schedule
// row, re-check availability on that locked read, insert the booking
// and passenger rows, decrement the ledger.  When availability fails
// the transaction rolls back with ErrInsufficientSeats and nothing is
// written.  The booking's generated ID and timestamps are populated on
// the provided record.
func (r *BookingRepo) CreatePendingBooking(ctx context.Context, b *model.Booking, passengers []model.Passenger) error {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    avail, _, status, err := lockScheduleTx(ctx, tx, b.ScheduleID)
    if err != nil {
        return err
    }
    if status != model.ScheduleStatusScheduled {
        return ErrScheduleNotFound
    }
    if avail < b.PassengerCount {
        return ErrInsufficientSeats
    }

    const ins = `INSERT INTO bookings (code, customer_id, schedule_id, promotion_id, customer_class,
                    subtotal_cents, discount_cents, total_cents, passenger_count, payment_status, expires_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
    var promotionID any
    if b.PromotionID != nil {
        promotionID = *b.PromotionID
    }
    res, err := tx.ExecContext(ctx, ins,
        b.Code, b.CustomerID, b.ScheduleID, promotionID, b.CustomerClass,
        b.SubtotalCents, b.DiscountCents, b.TotalCents, b.PassengerCount,
        model.BookingStatusPending, b.ExpiresAt,
    )
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    b.ID = uint64(id)
    b.PaymentStatus = model.BookingStatusPending

    if err := createPassengersBulkTx(ctx, tx, b.ID, passengers); err != nil {
        return err
    }

    // Guarded decrement: the WHERE clause re-asserts the availability
    // check so the ledger can never go negative even if the locked
    // read above were bypassed.
    const dec = `UPDATE schedules SET available_seats = available_seats - ?, updated_at = UTC_TIMESTAMP()
                 WHERE id = ? AND available_seats >= ?`
    cmd, err := tx.ExecContext(ctx, dec, b.PassengerCount, b.ScheduleID, b.PassengerCount)
    if err != nil {
        return err
    }
    if n, err := cmd.RowsAffected(); err != nil {
        return err
    } else if n == 0 {
        return ErrInsufficientSeats
    }

    // Query back timestamps and defaults.
    const sel = `SELECT created_at, updated_at FROM bookings WHERE id = ?`
    if err := tx.QueryRowContext(ctx, sel, b.ID).Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
        return err
    }

    if err := tx.Commit(); err != nil {
        return err
    }
    committed = true
    return nil
}

// createPassengersBulkTx inserts all passenger rows of a booking in a
// single statement.  Passing an empty slice has no effect.
func createPassengersBulkTx(ctx context.Context, tx *sql.Tx, bookingID uint64, passengers []model.Passenger) error {
    if len(passengers) == 0 {
        return nil
    }
    query := `INSERT INTO passengers (booking_id, full_name, identity_number, gender, price_cents, free_ticket) VALUES `
    args := make([]interface{}, 0, len(passengers)*6)
    for i, p := range passengers {
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?, ?, ?, ?)"
        args = append(args, bookingID, p.FullName, p.IdentityNumber, p.Gender, p.PriceCents, p.FreeTicket)
    }
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

// BookingByCode loads a booking by its unique code.  Soft-deleted
// bookings are treated as absent.
func (r *BookingRepo) BookingByCode(ctx context.Context, code string) (*model.Booking, error) {
    const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE code = ? AND deleted_at IS NULL`
    b, err := scanBooking(r.db.QueryRowContext(ctx, q, code))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrBookingNotFound
        }
        return nil, err
    }
    return b, nil
}

// BookingByID loads a booking by primary key.
func (r *BookingRepo) BookingByID(ctx context.Context, id uint64) (*model.Booking, error) {
    const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ? AND deleted_at IS NULL`
    b, err := scanBooking(r.db.QueryRowContext(ctx, q, id))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrBookingNotFound
        }
        return nil, err
    }
    return b, nil
}

// PassengersByBooking returns all passengers of a booking in insertion
// order.
func (r *BookingRepo) PassengersByBooking(ctx context.Context, bookingID uint64) ([]model.Passenger, error) {
    const q = `SELECT id, booking_id, full_name, identity_number, gender, price_cents, free_ticket, created_at
               FROM passengers WHERE booking_id = ? ORDER BY id`
    rows, err := r.db.QueryContext(ctx, q, bookingID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Passenger
    for rows.Next() {
        var p model.Passenger
        if err := rows.Scan(&p.ID, &p.BookingID, &p.FullName, &p.IdentityNumber, &p.Gender, &p.PriceCents, &p.FreeTicket, &p.CreatedAt); err != nil {
            return nil, err
        }
        out = append(out, p)
    }
    return out, rows.Err()
}

// FindExpiredBookings lists PENDING bookings whose payment deadline has
// passed, oldest deadline first.  The sweeper processes the result one
// booking at a time under the schedule lock, so the list itself is
// read without locking.
func (r *BookingRepo) FindExpiredBookings(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
    const q = `SELECT ` + bookingColumns + ` FROM bookings
               WHERE payment_status = ? AND expires_at <= ? AND deleted_at IS NULL
               ORDER BY expires_at ASC
               LIMIT ?`
    rows, err := r.db.QueryContext(ctx, q, model.BookingStatusPending, cutoff, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Booking
    for rows.Next() {
        b, err := scanBooking(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *b)
    }
    return out, rows.Err()
}

// ExpireBooking moves a still-PENDING booking to EXPIRED, expires its
// pending payment if one exists and returns the held seats to the
// schedule ledger.  The status guard makes the call idempotent: when
// the booking already left PENDING (paid, swept earlier, cancelled)
// the method reports false and changes nothing.
func (r *BookingRepo) ExpireBooking(ctx context.Context, bookingID uint64) (bool, error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return false, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    const sel = `SELECT schedule_id, passenger_count, payment_status FROM bookings WHERE id = ? FOR UPDATE`
    var scheduleID uint64
    var count int
    var status string
    if err := tx.QueryRowContext(ctx, sel, bookingID).Scan(&scheduleID, &count, &status); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return false, ErrBookingNotFound
        }
        return false, err
    }
    if status != model.BookingStatusPending {
        return false, nil
    }

    if _, err := tx.ExecContext(ctx,
        `UPDATE bookings SET payment_status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
        model.BookingStatusExpired, bookingID,
    ); err != nil {
        return false, err
    }
    if _, err := tx.ExecContext(ctx,
        `UPDATE payments SET status = ?, updated_at = UTC_TIMESTAMP() WHERE booking_id = ? AND status = ?`,
        model.PaymentStatusExpired, bookingID, model.PaymentStatusPending,
    ); err != nil {
        return false, err
    }
    if _, err := releaseSeatsTx(ctx, tx, scheduleID, count); err != nil {
        return false, err
    }

    if err := tx.Commit(); err != nil {
        return false, err
    }
    committed = true
    return true, nil
}

// releaseSeatsTx returns count seats to the schedule ledger under the
// row lock and reports how many were actually written back.  The
// increment saturates at ship capacity: releasing more seats than the
// ledger can take indicates a double release somewhere, so the excess
// is logged and clamped rather than written.
func releaseSeatsTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, count int) (int, error) {
    avail, capacity, _, err := lockScheduleTx(ctx, tx, scheduleID)
    if err != nil {
        return 0, err
    }
    release := count
    if avail+release > capacity {
        release = capacity - avail
        log.Printf("inventory: release clamped for schedule %d: want=%d have=%d capacity=%d", scheduleID, count, avail, capacity)
    }
    if release <= 0 {
        return 0, nil
    }
    if _, err := tx.ExecContext(ctx,
        `UPDATE schedules SET available_seats = available_seats + ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
        release, scheduleID,
    ); err != nil {
        return 0, err
    }
    return release, nil
}

var _ BookingStore = (*BookingRepo)(nil)
