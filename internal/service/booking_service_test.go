package service

import (
    "context"
    "fmt"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/harborline/ferry-booking/internal/model"
    "github.com/harborline/ferry-booking/internal/pricing"
    "github.com/harborline/ferry-booking/internal/repository"
)

type bookingFixture struct {
    store  *memStore
    gw     *fakeGateway
    pub    *memPublisher
    locker *memLocker
    svc    *BookingService
}

func newBookingFixture(t *testing.T, seats int) *bookingFixture {
    t.Helper()
    store := newMemStore()
    store.addSchedule(model.Schedule{
        ID:             1,
        RouteID:        1,
        ShipID:         1,
        DepartureAt:    time.Now().UTC().Add(48 * time.Hour),
        AvailableSeats: seats,
        Capacity:       seats,
        Status:         model.ScheduleStatusScheduled,
    })
    gw := &fakeGateway{}
    pub := &memPublisher{}
    locker := newMemLocker()
    svc := NewBookingService(store, store, store, flatPricer{priceCents: 150_00}, gw, locker, pub, time.Hour)
    return &bookingFixture{store: store, gw: gw, pub: pub, locker: locker, svc: svc}
}

func validInput(pax int) CreateBookingInput {
    return CreateBookingInput{
        CustomerID:    7,
        ScheduleID:    1,
        CustomerClass: "ECONOMY",
        Method:        "INVOICE",
        Passengers:    passengersInput(pax),
    }
}

func TestCreateBooking(t *testing.T) {
    fx := newBookingFixture(t, 10)

    res, err := fx.svc.CreateBooking(context.Background(), validInput(3))
    require.NoError(t, err)
    require.NotNil(t, res.Booking)
    require.NotNil(t, res.Payment)

    assert.Equal(t, model.BookingStatusPending, res.Booking.PaymentStatus)
    assert.Equal(t, 3, res.Booking.PassengerCount)
    assert.Equal(t, int64(450_00), res.Booking.TotalCents)
    assert.NotEmpty(t, res.Booking.Code)
    require.NotNil(t, res.Booking.ExpiresAt)
    assert.Len(t, res.Passengers, 3)

    assert.Equal(t, res.Booking.Code+"-1", res.Payment.ExternalID)
    assert.Equal(t, model.PaymentStatusPending, res.Payment.Status)
    assert.Equal(t, res.Booking.TotalCents, res.Payment.AmountCents)
    assert.NotEmpty(t, res.Payment.CheckoutURL)

    avail, err := fx.store.AvailableSeats(context.Background(), 1)
    require.NoError(t, err)
    assert.Equal(t, 7, avail, "seats must be held at creation time")

    assert.Equal(t, []string{"booking_created"}, fx.pub.eventTypes())
}

func TestCreateBookingFreeTickets(t *testing.T) {
    fx := newBookingFixture(t, 10)

    input := validInput(3)
    input.Passengers[2].FreeTicket = true
    res, err := fx.svc.CreateBooking(context.Background(), input)
    require.NoError(t, err)

    // A free passenger still occupies a seat but contributes nothing
    // to the total.
    assert.Equal(t, int64(300_00), res.Booking.TotalCents)
    assert.Equal(t, int64(0), res.Passengers[2].PriceCents)
    avail, _ := fx.store.AvailableSeats(context.Background(), 1)
    assert.Equal(t, 7, avail)
}

func TestCreateBookingInsufficientSeats(t *testing.T) {
    fx := newBookingFixture(t, 2)

    _, err := fx.svc.CreateBooking(context.Background(), validInput(3))
    require.ErrorIs(t, err, repository.ErrInsufficientSeats)

    avail, _ := fx.store.AvailableSeats(context.Background(), 1)
    assert.Equal(t, 2, avail, "a rejected booking must not touch the ledger")
    assert.Empty(t, fx.pub.eventTypes())
}

func TestCreateBookingScheduleClosed(t *testing.T) {
    for _, status := range []string{
        model.ScheduleStatusDeparted,
        model.ScheduleStatusCancelled,
        model.ScheduleStatusCompleted,
    } {
        t.Run(status, func(t *testing.T) {
            fx := newBookingFixture(t, 10)
            fx.store.addSchedule(model.Schedule{
                ID:             2,
                DepartureAt:    time.Now().UTC().Add(48 * time.Hour),
                AvailableSeats: 10,
                Capacity:       10,
                Status:         status,
            })
            input := validInput(1)
            input.ScheduleID = 2
            _, err := fx.svc.CreateBooking(context.Background(), input)
            assert.ErrorIs(t, err, ErrScheduleClosed)
        })
    }

    t.Run("past departure", func(t *testing.T) {
        fx := newBookingFixture(t, 10)
        fx.store.addSchedule(model.Schedule{
            ID:             2,
            DepartureAt:    time.Now().UTC().Add(-time.Hour),
            AvailableSeats: 10,
            Capacity:       10,
            Status:         model.ScheduleStatusScheduled,
        })
        input := validInput(1)
        input.ScheduleID = 2
        _, err := fx.svc.CreateBooking(context.Background(), input)
        assert.ErrorIs(t, err, ErrScheduleClosed)
    })
}

func TestCreateBookingValidation(t *testing.T) {
    fx := newBookingFixture(t, 10)

    cases := []struct {
        name   string
        mutate func(*CreateBookingInput)
    }{
        {"no passengers", func(in *CreateBookingInput) { in.Passengers = nil }},
        {"no schedule", func(in *CreateBookingInput) { in.ScheduleID = 0 }},
        {"no customer", func(in *CreateBookingInput) { in.CustomerID = 0 }},
        {"no class", func(in *CreateBookingInput) { in.CustomerClass = "" }},
        {"blank name", func(in *CreateBookingInput) { in.Passengers[0].FullName = "  " }},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            input := validInput(2)
            tc.mutate(&input)
            _, err := fx.svc.CreateBooking(context.Background(), input)
            assert.ErrorIs(t, err, ErrInvalidInput)
        })
    }
}

func TestCreateBookingPricingErrors(t *testing.T) {
    fx := newBookingFixture(t, 10)

    fx.svc.pricer = flatPricer{err: pricing.ErrNoActivePricelist}
    _, err := fx.svc.CreateBooking(context.Background(), validInput(1))
    assert.ErrorIs(t, err, ErrPricingUnavailable)

    fx.svc.pricer = flatPricer{err: pricing.ErrPromotionInvalid}
    _, err = fx.svc.CreateBooking(context.Background(), validInput(1))
    assert.ErrorIs(t, err, ErrPromotionInvalid)

    avail, _ := fx.store.AvailableSeats(context.Background(), 1)
    assert.Equal(t, 10, avail, "pricing rejections must not touch the ledger")
}

func TestCreateBookingBusySchedule(t *testing.T) {
    fx := newBookingFixture(t, 10)
    fx.svc.locker = busyLocker{}

    _, err := fx.svc.CreateBooking(context.Background(), validInput(1))
    assert.ErrorIs(t, err, ErrBusy)
}

func TestCreateBookingGatewayDown(t *testing.T) {
    fx := newBookingFixture(t, 10)
    fx.gw.createErr = errGatewayDown

    res, err := fx.svc.CreateBooking(context.Background(), validInput(2))
    require.NoError(t, err, "a gateway outage must not fail the booking")
    require.NotNil(t, res.Booking)
    assert.Nil(t, res.Payment, "no payment when the intent could not be created")

    // The booking survived with seats held and is recoverable through
    // SelectPaymentMethod once the gateway is back.
    avail, _ := fx.store.AvailableSeats(context.Background(), 1)
    assert.Equal(t, 8, avail)

    fx.gw.createErr = nil
    payment, err := fx.svc.SelectPaymentMethod(context.Background(), 7, res.Booking.Code, "VA")
    require.NoError(t, err)
    assert.Equal(t, res.Booking.Code+"-1", payment.ExternalID)
}

func TestCreateBookingNoOversell(t *testing.T) {
    const seats = 5
    const attempts = 20
    fx := newBookingFixture(t, seats)

    var wg sync.WaitGroup
    errs := make([]error, attempts)
    for i := 0; i < attempts; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            input := validInput(1)
            input.CustomerID = uint64(i + 1)
            _, errs[i] = fx.svc.CreateBooking(context.Background(), input)
        }(i)
    }
    wg.Wait()

    succeeded := 0
    for _, err := range errs {
        switch {
        case err == nil:
            succeeded++
        default:
            require.ErrorIs(t, err, repository.ErrInsufficientSeats)
        }
    }
    assert.Equal(t, seats, succeeded, "exactly the available seats may be sold")

    avail, err := fx.store.AvailableSeats(context.Background(), 1)
    require.NoError(t, err)
    assert.Equal(t, 0, avail, "the ledger must end at zero, never below")
}

func TestSelectPaymentMethod(t *testing.T) {
    fx := newBookingFixture(t, 10)
    res, err := fx.svc.CreateBooking(context.Background(), validInput(1))
    require.NoError(t, err)
    code := res.Booking.Code

    t.Run("supersedes active payment", func(t *testing.T) {
        payment, err := fx.svc.SelectPaymentMethod(context.Background(), 7, code, "QRIS")
        require.NoError(t, err)
        assert.Equal(t, code+"-2", payment.ExternalID, "re-issue must get a fresh reference")
        assert.Equal(t, "QRIS", payment.Method)

        first, err := fx.store.PaymentByExternalID(context.Background(), code+"-1")
        require.NoError(t, err)
        assert.Equal(t, model.PaymentStatusFailed, first.Status, "old attempt must be closed")

        active, err := fx.store.ActivePaymentByBooking(context.Background(), res.Booking.ID)
        require.NoError(t, err)
        assert.Equal(t, payment.ExternalID, active.ExternalID)
    })

    t.Run("wrong customer", func(t *testing.T) {
        _, err := fx.svc.SelectPaymentMethod(context.Background(), 99, code, "VA")
        assert.ErrorIs(t, err, ErrForbidden)
    })

    t.Run("missing method", func(t *testing.T) {
        _, err := fx.svc.SelectPaymentMethod(context.Background(), 7, code, "")
        assert.ErrorIs(t, err, ErrInvalidInput)
    })

    t.Run("unknown booking", func(t *testing.T) {
        _, err := fx.svc.SelectPaymentMethod(context.Background(), 7, "FB-NOPE", "VA")
        assert.ErrorIs(t, err, repository.ErrBookingNotFound)
    })
}

func TestSelectPaymentMethodNotPayable(t *testing.T) {
    fx := newBookingFixture(t, 10)
    res, err := fx.svc.CreateBooking(context.Background(), validInput(1))
    require.NoError(t, err)

    _, err = fx.store.ExpireBooking(context.Background(), res.Booking.ID)
    require.NoError(t, err)

    _, err = fx.svc.SelectPaymentMethod(context.Background(), 7, res.Booking.Code, "VA")
    assert.ErrorIs(t, err, ErrBookingNotPayable)
}

func TestSelectPaymentMethodBusySchedule(t *testing.T) {
    fx := newBookingFixture(t, 10)
    res, err := fx.svc.CreateBooking(context.Background(), validInput(1))
    require.NoError(t, err)

    fx.svc.locker = busyLocker{}
    _, err = fx.svc.SelectPaymentMethod(context.Background(), 7, res.Booking.Code, "VA")
    assert.ErrorIs(t, err, ErrBusy)
}

// Concurrent re-issues for the same booking must serialize on the
// schedule lock; without it two callers can both supersede before
// either inserts, ending with two active payments for one booking.
func TestSelectPaymentMethodConcurrentReissues(t *testing.T) {
    fx := newBookingFixture(t, 10)
    res, err := fx.svc.CreateBooking(context.Background(), validInput(1))
    require.NoError(t, err)

    const workers = 8
    errs := make(chan error, workers)
    var wg sync.WaitGroup
    for i := 0; i < workers; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            _, err := fx.svc.SelectPaymentMethod(context.Background(), 7, res.Booking.Code, "QRIS")
            errs <- err
        }()
    }
    wg.Wait()
    close(errs)
    for err := range errs {
        require.NoError(t, err)
    }

    fx.store.mu.Lock()
    active := 0
    attempts := 0
    for _, p := range fx.store.payments {
        if p.BookingID != res.Booking.ID {
            continue
        }
        attempts++
        if p.Status == model.PaymentStatusPending {
            active++
        }
    }
    fx.store.mu.Unlock()

    assert.Equal(t, 1, active, "at most one non-terminal payment per booking")
    assert.Equal(t, workers+1, attempts, "every re-issue must record its own attempt")
}

func TestGetBooking(t *testing.T) {
    fx := newBookingFixture(t, 10)
    res, err := fx.svc.CreateBooking(context.Background(), validInput(2))
    require.NoError(t, err)

    got, err := fx.svc.GetBooking(context.Background(), 7, res.Booking.Code)
    require.NoError(t, err)
    assert.Equal(t, res.Booking.ID, got.Booking.ID)
    assert.Len(t, got.Passengers, 2)
    require.NotNil(t, got.Payment)
    assert.Equal(t, res.Payment.ExternalID, got.Payment.ExternalID)

    _, err = fx.svc.GetBooking(context.Background(), 99, res.Booking.Code)
    assert.ErrorIs(t, err, ErrForbidden)
}

func TestBookingCodesUnique(t *testing.T) {
    seen := make(map[string]bool)
    for i := 0; i < 200; i++ {
        code, err := newBookingCode()
        require.NoError(t, err)
        require.False(t, seen[code], fmt.Sprintf("duplicate code %s", code))
        seen[code] = true
    }
}
