package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/harborline/ferry-booking/internal/model"
)

// ScheduleRepo provides read access to schedules and the row-lock
// helper used by the booking and settle transactions.  The seat ledger
// itself is mutated only inside BookingRepo transactions.
type ScheduleRepo struct {
    db *sql.DB
}

// NewScheduleRepo returns a new ScheduleRepo bound to the given database.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

// ScheduleByID loads a schedule together with the capacity of its
// assigned ship.  It returns ErrScheduleNotFound when no row matches.
func (r *ScheduleRepo) ScheduleByID(ctx context.Context, id uint64) (*model.Schedule, error) {
    const q = `SELECT s.id, s.route_id, s.ship_id, s.departure_at, s.available_seats,
                      sh.capacity, s.status, s.created_at, s.updated_at
               FROM schedules s
               JOIN ships sh ON sh.id = s.ship_id
               WHERE s.id = ?`
    var sc model.Schedule
    err := r.db.QueryRowContext(ctx, q, id).Scan(
        &sc.ID, &sc.RouteID, &sc.ShipID, &sc.DepartureAt, &sc.AvailableSeats,
        &sc.Capacity, &sc.Status, &sc.CreatedAt, &sc.UpdatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrScheduleNotFound
        }
        return nil, err
    }
    return &sc, nil
}

// AvailableSeats returns the current seat ledger value without any
// locking.  The value may be stale by the time the caller sees it;
// reservation decisions must go through the locked paths instead.
func (r *ScheduleRepo) AvailableSeats(ctx context.Context, id uint64) (int, error) {
    var avail int
    err := r.db.QueryRowContext(ctx, `SELECT available_seats FROM schedules WHERE id = ?`, id).Scan(&avail)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return 0, ErrScheduleNotFound
        }
        return 0, err
    }
    return avail, nil
}

// lockScheduleTx reads the seat ledger and ship capacity under an
// exclusive row lock.  The lock is held until the surrounding
// transaction commits or rolls back; this read is the only one that
// may feed a seat mutation decision.
func lockScheduleTx(ctx context.Context, tx *sql.Tx, scheduleID uint64) (avail, capacity int, status string, err error) {
    const q = `SELECT s.available_seats, sh.capacity, s.status
               FROM schedules s
               JOIN ships sh ON sh.id = s.ship_id
               WHERE s.id = ?
               FOR UPDATE`
    err = tx.QueryRowContext(ctx, q, scheduleID).Scan(&avail, &capacity, &status)
    if errors.Is(err, sql.ErrNoRows) {
        err = ErrScheduleNotFound
    }
    return avail, capacity, status, err
}

var _ ScheduleStore = (*ScheduleRepo)(nil)
