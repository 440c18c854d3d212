package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/harborline/ferry-booking/internal/model"
)

// PaymentRepo provides access to payment attempt rows.  Status
// transitions driven by gateway signals go through BookingRepo's
// settle transactions; this repository only creates attempts and
// closes superseded ones.
type PaymentRepo struct {
    db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, booking_id, external_id, gateway_ref, checkout_url, method, status,
        amount_cents, expires_at, paid_at, raw_response, created_at, updated_at`

func scanPayment(row interface{ Scan(dest ...any) error }) (*model.Payment, error) {
    var p model.Payment
    var expiresAt, paidAt sql.NullTime
    err := row.Scan(
        &p.ID, &p.BookingID, &p.ExternalID, &p.GatewayRef, &p.CheckoutURL, &p.Method, &p.Status,
        &p.AmountCents, &expiresAt, &paidAt, &p.RawResponse, &p.CreatedAt, &p.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    if expiresAt.Valid {
        t := expiresAt.Time
        p.ExpiresAt = &t
    }
    if paidAt.Valid {
        t := paidAt.Time
        p.PaidAt = &t
    }
    return &p, nil
}

// CreatePayment inserts a new payment attempt and populates the
// generated ID and timestamps on the provided record.
func (r *PaymentRepo) CreatePayment(ctx context.Context, p *model.Payment) error {
    const ins = `INSERT INTO payments (booking_id, external_id, gateway_ref, checkout_url, method, status,
                    amount_cents, expires_at, raw_response)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
    res, err := r.db.ExecContext(ctx, ins,
        p.BookingID, p.ExternalID, p.GatewayRef, p.CheckoutURL, p.Method, p.Status,
        p.AmountCents, p.ExpiresAt, p.RawResponse,
    )
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    p.ID = uint64(id)
    const sel = `SELECT created_at, updated_at FROM payments WHERE id = ?`
    return r.db.QueryRowContext(ctx, sel, p.ID).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// ActivePaymentByBooking returns the single non-terminal payment of a
// booking, or ErrPaymentNotFound when every attempt is closed.
func (r *PaymentRepo) ActivePaymentByBooking(ctx context.Context, bookingID uint64) (*model.Payment, error) {
    const q = `SELECT ` + paymentColumns + ` FROM payments
               WHERE booking_id = ? AND status = ?
               ORDER BY id DESC LIMIT 1`
    p, err := scanPayment(r.db.QueryRowContext(ctx, q, bookingID, model.PaymentStatusPending))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrPaymentNotFound
        }
        return nil, err
    }
    return p, nil
}

// PaymentByExternalID returns the payment carrying the given gateway
// reference.
func (r *PaymentRepo) PaymentByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
    const q = `SELECT ` + paymentColumns + ` FROM payments WHERE external_id = ?`
    p, err := scanPayment(r.db.QueryRowContext(ctx, q, externalID))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrPaymentNotFound
        }
        return nil, err
    }
    return p, nil
}

// LatestPaymentByBooking returns a booking's most recent payment
// attempt regardless of its status.
func (r *PaymentRepo) LatestPaymentByBooking(ctx context.Context, bookingID uint64) (*model.Payment, error) {
    const q = `SELECT ` + paymentColumns + ` FROM payments
               WHERE booking_id = ?
               ORDER BY id DESC LIMIT 1`
    p, err := scanPayment(r.db.QueryRowContext(ctx, q, bookingID))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrPaymentNotFound
        }
        return nil, err
    }
    return p, nil
}

// PaymentAttempts counts how many payment attempts were ever created
// for a booking.  The count feeds the external id suffix so that a
// re-issued payment never reuses a reference the gateway has seen.
func (r *PaymentRepo) PaymentAttempts(ctx context.Context, bookingID uint64) (int, error) {
    var n int
    err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE booking_id = ?`, bookingID).Scan(&n)
    return n, err
}

// SupersedeActivePayments closes every still-PENDING payment of the
// booking.  Called before issuing a replacement intent so that at most
// one active payment governs a booking at a time.
func (r *PaymentRepo) SupersedeActivePayments(ctx context.Context, bookingID uint64) error {
    _, err := r.db.ExecContext(ctx,
        `UPDATE payments SET status = ?, updated_at = UTC_TIMESTAMP() WHERE booking_id = ? AND status = ?`,
        model.PaymentStatusFailed, bookingID, model.PaymentStatusPending,
    )
    return err
}

var _ PaymentStore = (*PaymentRepo)(nil)
