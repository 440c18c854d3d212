package service

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/harborline/ferry-booking/internal/gateway"
    "github.com/harborline/ferry-booking/internal/model"
    "github.com/harborline/ferry-booking/internal/pricing"
    "github.com/harborline/ferry-booking/internal/queue"
    "github.com/harborline/ferry-booking/internal/repository"
)

// memStore is an in-memory implementation of the three store
// interfaces with the same atomicity and idempotency semantics as the
// SQL repositories.  A single mutex stands in for the database
// transaction: every method that reads-checks-writes does so under it.
type memStore struct {
    mu         sync.Mutex
    schedules  map[uint64]*model.Schedule
    bookings   map[uint64]*model.Booking
    passengers map[uint64][]model.Passenger
    payments   []*model.Payment
    nextID     uint64
}

func newMemStore() *memStore {
    return &memStore{
        schedules:  make(map[uint64]*model.Schedule),
        bookings:   make(map[uint64]*model.Booking),
        passengers: make(map[uint64][]model.Passenger),
    }
}

func (m *memStore) addSchedule(s model.Schedule) {
    m.mu.Lock()
    defer m.mu.Unlock()
    cp := s
    m.schedules[s.ID] = &cp
}

func (m *memStore) next() uint64 {
    m.nextID++
    return m.nextID
}

func (m *memStore) ScheduleByID(ctx context.Context, id uint64) (*model.Schedule, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s, ok := m.schedules[id]
    if !ok {
        return nil, repository.ErrScheduleNotFound
    }
    cp := *s
    return &cp, nil
}

func (m *memStore) AvailableSeats(ctx context.Context, id uint64) (int, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s, ok := m.schedules[id]
    if !ok {
        return 0, repository.ErrScheduleNotFound
    }
    return s.AvailableSeats, nil
}

func (m *memStore) CreatePendingBooking(ctx context.Context, b *model.Booking, passengers []model.Passenger) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    s, ok := m.schedules[b.ScheduleID]
    if !ok {
        return repository.ErrScheduleNotFound
    }
    if s.AvailableSeats < len(passengers) {
        return repository.ErrInsufficientSeats
    }
    s.AvailableSeats -= len(passengers)
    b.ID = m.next()
    b.CreatedAt = time.Now().UTC()
    b.UpdatedAt = b.CreatedAt
    cp := *b
    m.bookings[b.ID] = &cp
    for i := range passengers {
        passengers[i].ID = m.next()
        passengers[i].BookingID = b.ID
    }
    m.passengers[b.ID] = append([]model.Passenger(nil), passengers...)
    return nil
}

func (m *memStore) BookingByCode(ctx context.Context, code string) (*model.Booking, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for _, b := range m.bookings {
        if b.Code == code {
            cp := *b
            return &cp, nil
        }
    }
    return nil, repository.ErrBookingNotFound
}

func (m *memStore) BookingByID(ctx context.Context, id uint64) (*model.Booking, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    b, ok := m.bookings[id]
    if !ok {
        return nil, repository.ErrBookingNotFound
    }
    cp := *b
    return &cp, nil
}

func (m *memStore) PassengersByBooking(ctx context.Context, bookingID uint64) ([]model.Passenger, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    return append([]model.Passenger(nil), m.passengers[bookingID]...), nil
}

func (m *memStore) FindExpiredBookings(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    var due []model.Booking
    for _, b := range m.bookings {
        if b.PaymentStatus == model.BookingStatusPending && b.ExpiresAt != nil && !b.ExpiresAt.After(cutoff) {
            due = append(due, *b)
            if len(due) == limit {
                break
            }
        }
    }
    return due, nil
}

func (m *memStore) ExpireBooking(ctx context.Context, bookingID uint64) (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    b, ok := m.bookings[bookingID]
    if !ok {
        return false, repository.ErrBookingNotFound
    }
    if b.PaymentStatus != model.BookingStatusPending {
        return false, nil
    }
    b.PaymentStatus = model.BookingStatusExpired
    for _, p := range m.payments {
        if p.BookingID == bookingID && p.Status == model.PaymentStatusPending {
            p.Status = model.PaymentStatusExpired
        }
    }
    m.releaseSeatsLocked(b.ScheduleID, b.PassengerCount)
    return true, nil
}

func (m *memStore) releaseSeatsLocked(scheduleID uint64, count int) int {
    s, ok := m.schedules[scheduleID]
    if !ok {
        return 0
    }
    released := count
    if s.AvailableSeats+released > s.Capacity {
        released = s.Capacity - s.AvailableSeats
    }
    if released <= 0 {
        return 0
    }
    s.AvailableSeats += released
    return released
}

func (m *memStore) SettlePaid(ctx context.Context, externalID string, paidAt time.Time, raw []byte) (repository.SettleOutcome, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    var out repository.SettleOutcome
    p := m.paymentByExternalLocked(externalID)
    if p == nil {
        return out, repository.ErrPaymentNotFound
    }
    b := m.bookings[p.BookingID]
    out.BookingID = b.ID
    out.BookingCode = b.Code
    out.ScheduleID = b.ScheduleID
    out.PaymentStatus = p.Status
    out.BookingStatus = b.PaymentStatus

    if p.Status == model.PaymentStatusPaid {
        out.RefundNeeded = b.PaymentStatus == model.BookingStatusRefundNeeded
        return out, nil
    }

    p.Status = model.PaymentStatusPaid
    t := paidAt
    p.PaidAt = &t
    out.PaymentStatus = model.PaymentStatusPaid
    out.Applied = true

    switch b.PaymentStatus {
    case model.BookingStatusPending:
        b.PaymentStatus = model.BookingStatusPaid
        b.PaidAt = &t
        b.ExpiresAt = nil
        out.BookingStatus = model.BookingStatusPaid
    case model.BookingStatusPaid:
    case model.BookingStatusRefundNeeded:
        out.RefundNeeded = true
    default:
        s := m.schedules[b.ScheduleID]
        if s.AvailableSeats >= b.PassengerCount {
            s.AvailableSeats -= b.PassengerCount
            b.PaymentStatus = model.BookingStatusPaid
            b.PaidAt = &t
            b.ExpiresAt = nil
            out.BookingStatus = model.BookingStatusPaid
            out.Recovered = true
        } else {
            b.PaymentStatus = model.BookingStatusRefundNeeded
            out.BookingStatus = model.BookingStatusRefundNeeded
            out.RefundNeeded = true
        }
    }
    return out, nil
}

func (m *memStore) SettleClosed(ctx context.Context, externalID string, closedStatus string, raw []byte) (repository.SettleOutcome, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    var out repository.SettleOutcome
    p := m.paymentByExternalLocked(externalID)
    if p == nil {
        return out, repository.ErrPaymentNotFound
    }
    b := m.bookings[p.BookingID]
    out.BookingID = b.ID
    out.BookingCode = b.Code
    out.ScheduleID = b.ScheduleID
    out.PaymentStatus = p.Status
    out.BookingStatus = b.PaymentStatus

    if p.Status != model.PaymentStatusPending {
        return out, nil
    }
    p.Status = closedStatus
    out.PaymentStatus = closedStatus
    out.Applied = true

    if b.PaymentStatus == model.BookingStatusPending {
        status := model.BookingStatusExpired
        if closedStatus == model.PaymentStatusFailed {
            status = model.BookingStatusFailed
        }
        b.PaymentStatus = status
        out.BookingStatus = status
        out.SeatsReleased = m.releaseSeatsLocked(b.ScheduleID, b.PassengerCount)
    }
    return out, nil
}

func (m *memStore) paymentByExternalLocked(externalID string) *model.Payment {
    for _, p := range m.payments {
        if p.ExternalID == externalID {
            return p
        }
    }
    return nil
}

func (m *memStore) CreatePayment(ctx context.Context, p *model.Payment) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    p.ID = m.next()
    p.CreatedAt = time.Now().UTC()
    p.UpdatedAt = p.CreatedAt
    cp := *p
    m.payments = append(m.payments, &cp)
    return nil
}

func (m *memStore) ActivePaymentByBooking(ctx context.Context, bookingID uint64) (*model.Payment, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i := len(m.payments) - 1; i >= 0; i-- {
        p := m.payments[i]
        if p.BookingID == bookingID && p.Status == model.PaymentStatusPending {
            cp := *p
            return &cp, nil
        }
    }
    return nil, repository.ErrPaymentNotFound
}

func (m *memStore) PaymentByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    p := m.paymentByExternalLocked(externalID)
    if p == nil {
        return nil, repository.ErrPaymentNotFound
    }
    cp := *p
    return &cp, nil
}

func (m *memStore) LatestPaymentByBooking(ctx context.Context, bookingID uint64) (*model.Payment, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i := len(m.payments) - 1; i >= 0; i-- {
        if m.payments[i].BookingID == bookingID {
            cp := *m.payments[i]
            return &cp, nil
        }
    }
    return nil, repository.ErrPaymentNotFound
}

func (m *memStore) PaymentAttempts(ctx context.Context, bookingID uint64) (int, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    n := 0
    for _, p := range m.payments {
        if p.BookingID == bookingID {
            n++
        }
    }
    return n, nil
}

func (m *memStore) SupersedeActivePayments(ctx context.Context, bookingID uint64) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    for _, p := range m.payments {
        if p.BookingID == bookingID && p.Status == model.PaymentStatusPending {
            p.Status = model.PaymentStatusFailed
        }
    }
    return nil
}

var (
    _ repository.ScheduleStore = (*memStore)(nil)
    _ repository.BookingStore  = (*memStore)(nil)
    _ repository.PaymentStore  = (*memStore)(nil)
)

// memLocker serializes per-schedule work with a real mutex per
// schedule and a bounded wait, mirroring the distributed lock's
// contract closely enough to exercise the concurrency paths.
type memLocker struct {
    mu    sync.Mutex
    locks map[uint64]*sync.Mutex
    wait  time.Duration
}

func newMemLocker() *memLocker {
    return &memLocker{locks: make(map[uint64]*sync.Mutex), wait: 2 * time.Second}
}

func (l *memLocker) Acquire(ctx context.Context, scheduleID uint64) (func(), bool, error) {
    l.mu.Lock()
    m, ok := l.locks[scheduleID]
    if !ok {
        m = &sync.Mutex{}
        l.locks[scheduleID] = m
    }
    l.mu.Unlock()

    deadline := time.Now().Add(l.wait)
    for {
        if m.TryLock() {
            return m.Unlock, true, nil
        }
        if time.Now().After(deadline) {
            return nil, false, nil
        }
        select {
        case <-ctx.Done():
            return nil, false, ctx.Err()
        case <-time.After(time.Millisecond):
        }
    }
}

// busyLocker never grants the lock.
type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, scheduleID uint64) (func(), bool, error) {
    return nil, false, nil
}

// fakeGateway is a scriptable PaymentGateway.  Zero value answers
// every CreateIntent with a pending invoice.
type fakeGateway struct {
    mu          sync.Mutex
    createErr   error
    fetchSignal *gateway.Signal
    fetchErr    error
    created     []gateway.IntentRequest
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.PaymentIntent, error) {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.createErr != nil {
        return nil, g.createErr
    }
    g.created = append(g.created, req)
    return &gateway.PaymentIntent{
        ExternalID:  req.ExternalID,
        GatewayRef:  "inv_" + req.ExternalID,
        CheckoutURL: "https://pay.example/" + req.ExternalID,
        State:       gateway.StatePending,
        ExpiresAt:   time.Now().UTC().Add(req.Duration),
        Raw:         []byte(`{}`),
    }, nil
}

func (g *fakeGateway) FetchStatus(ctx context.Context, gatewayRef string) (*gateway.Signal, error) {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.fetchErr != nil {
        return nil, g.fetchErr
    }
    if g.fetchSignal != nil {
        cp := *g.fetchSignal
        return &cp, nil
    }
    return &gateway.Signal{GatewayRef: gatewayRef, State: gateway.StatePending}, nil
}

func (g *fakeGateway) createdCount() int {
    g.mu.Lock()
    defer g.mu.Unlock()
    return len(g.created)
}

// flatPricer prices every paying passenger at a fixed amount.
type flatPricer struct {
    priceCents int64
    err        error
}

func (p flatPricer) Calculate(ctx context.Context, schedule *model.Schedule, customerClass string, paxCount, freeCount int, promoCode string) (*pricing.Quote, error) {
    if p.err != nil {
        return nil, p.err
    }
    subtotal := p.priceCents * int64(paxCount-freeCount)
    return &pricing.Quote{
        PricePerPaxCents: p.priceCents,
        SubtotalCents:    subtotal,
        TotalCents:       subtotal,
    }, nil
}

// memPublisher records published events for assertions.
type memPublisher struct {
    mu     sync.Mutex
    events []queue.BookingEvent
    alerts []queue.RefundAlert
    err    error
}

func (p *memPublisher) PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.err != nil {
        return p.err
    }
    p.events = append(p.events, ev)
    return nil
}

func (p *memPublisher) PublishRefundAlert(ctx context.Context, ev queue.RefundAlert) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.err != nil {
        return p.err
    }
    p.alerts = append(p.alerts, ev)
    return nil
}

func (p *memPublisher) eventTypes() []string {
    p.mu.Lock()
    defer p.mu.Unlock()
    var types []string
    for _, ev := range p.events {
        types = append(types, ev.Type)
    }
    return types
}

func passengersInput(n int) []PassengerInput {
    out := make([]PassengerInput, n)
    for i := range out {
        out[i] = PassengerInput{
            FullName:       fmt.Sprintf("Passenger %d", i+1),
            IdentityNumber: fmt.Sprintf("ID-%04d", i+1),
            Gender:         "F",
        }
    }
    return out
}

var errGatewayDown = errors.New("gateway down")
