package pricing

import (
    "context"
    "database/sql"
    "errors"

    "github.com/harborline/ferry-booking/internal/model"
)

// TariffCalculator resolves prices from the pricelists and promotions
// tables.  Reads are plain unlocked selects: tariff data changes
// through back-office tooling, not through the booking flow.
type TariffCalculator struct {
    db *sql.DB
}

// NewTariffCalculator returns a TariffCalculator bound to the given
// database.
func NewTariffCalculator(db *sql.DB) *TariffCalculator { return &TariffCalculator{db: db} }

// Calculate resolves the active pricelist for the schedule's route and
// the customer class, prices the paying passengers, and applies the
// promotion when a code is given.  The discount is clamped to the
// subtotal so the total can never go negative.
func (t *TariffCalculator) Calculate(ctx context.Context, schedule *model.Schedule, customerClass string, paxCount, freeCount int, promoCode string) (*Quote, error) {
    const priceQ = `SELECT price_cents FROM pricelists
                    WHERE route_id = ? AND customer_class = ? AND active = 1
                      AND valid_from <= UTC_TIMESTAMP() AND valid_until >= UTC_TIMESTAMP()
                    ORDER BY valid_from DESC
                    LIMIT 1`
    var perPax int64
    err := t.db.QueryRowContext(ctx, priceQ, schedule.RouteID, customerClass).Scan(&perPax)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrNoActivePricelist
        }
        return nil, err
    }

    paying := paxCount - freeCount
    if paying < 0 {
        paying = 0
    }
    q := &Quote{
        PricePerPaxCents: perPax,
        SubtotalCents:    perPax * int64(paying),
    }

    if promoCode != "" {
        const promoQ = `SELECT id, percent_off, flat_off_cents FROM promotions
                        WHERE code = ? AND active = 1
                          AND starts_at <= UTC_TIMESTAMP() AND ends_at >= UTC_TIMESTAMP()`
        var promoID uint64
        var percentOff int
        var flatOff int64
        err := t.db.QueryRowContext(ctx, promoQ, promoCode).Scan(&promoID, &percentOff, &flatOff)
        if err != nil {
            if errors.Is(err, sql.ErrNoRows) {
                return nil, ErrPromotionInvalid
            }
            return nil, err
        }
        q.PromotionID = &promoID
        q.DiscountCents = q.SubtotalCents*int64(percentOff)/100 + flatOff
        if q.DiscountCents > q.SubtotalCents {
            q.DiscountCents = q.SubtotalCents
        }
    }

    q.TotalCents = q.SubtotalCents - q.DiscountCents
    return q, nil
}

var _ Calculator = (*TariffCalculator)(nil)
