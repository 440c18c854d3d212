package service

import (
    "context"
    "crypto/rand"
    "encoding/hex"
    "errors"
    "fmt"
    "log"
    "strings"
    "time"

    "github.com/harborline/ferry-booking/internal/gateway"
    "github.com/harborline/ferry-booking/internal/model"
    "github.com/harborline/ferry-booking/internal/pricing"
    "github.com/harborline/ferry-booking/internal/queue"
    "github.com/harborline/ferry-booking/internal/repository"
)

// Locker serializes all seat-moving work on one schedule across
// service instances.  Acquire waits a bounded time; ok=false means the
// lock stayed busy and the caller should surface ErrBusy.  The
// returned release func must be called exactly once.
type Locker interface {
    Acquire(ctx context.Context, scheduleID uint64) (release func(), ok bool, err error)
}

// EventPublisher publishes domain events.  A nil publisher disables
// publishing; event delivery failures never fail the business
// operation that produced them.
type EventPublisher interface {
    PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error
    PublishRefundAlert(ctx context.Context, ev queue.RefundAlert) error
}

// PassengerInput describes one traveller on a booking request.
type PassengerInput struct {
    FullName       string `json:"full_name"`
    IdentityNumber string `json:"identity_number"`
    Gender         string `json:"gender"`
    FreeTicket     bool   `json:"free_ticket"`
}

// CreateBookingInput is the request for CreateBooking.
type CreateBookingInput struct {
    CustomerID    uint64
    ScheduleID    uint64
    CustomerClass string
    PromoCode     string
    Method        string // payment method for the initial intent
    Passengers    []PassengerInput
}

// CreateBookingResult carries the persisted booking and, when the
// gateway answered in time, its initial payment.  Payment is nil when
// intent creation failed: the booking then exists as PENDING without a
// payment and SelectPaymentMethod is the recovery path.
type CreateBookingResult struct {
    Booking    *model.Booking
    Passengers []model.Passenger
    Payment    *model.Payment
}

// BookingService coordinates booking creation and payment issuing.
// The schedule-scoped lock is the critical section: availability is
// only ever decided on the locked read inside the store transaction,
// and the lock is held from before that read until the payment row is
// persisted (or the attempt abandoned).
type BookingService struct {
    schedules  repository.ScheduleStore
    bookings   repository.BookingStore
    payments   repository.PaymentStore
    pricer     pricing.Calculator
    gw         gateway.PaymentGateway
    locker     Locker
    events     EventPublisher
    holdWindow time.Duration
    now        func() time.Time
}

// NewBookingService constructs a BookingService.  events may be nil.
// holdWindow is how long a PENDING booking keeps its seats.
func NewBookingService(
    schedules repository.ScheduleStore,
    bookings repository.BookingStore,
    payments repository.PaymentStore,
    pricer pricing.Calculator,
    gw gateway.PaymentGateway,
    locker Locker,
    events EventPublisher,
    holdWindow time.Duration,
) *BookingService {
    return &BookingService{
        schedules:  schedules,
        bookings:   bookings,
        payments:   payments,
        pricer:     pricer,
        gw:         gw,
        locker:     locker,
        events:     events,
        holdWindow: holdWindow,
        now:        time.Now,
    }
}

// CreateBooking runs the whole reservation transaction for one
// customer request: lock the schedule, price the trip, persist booking
// plus passengers with the seat decrement as one atomic unit, then
// request a payment intent and persist the payment row.  Business
// rejections (ErrInsufficientSeats, ErrPricingUnavailable) leave no
// state behind; a gateway failure after the booking committed is
// recoverable and reported through a nil Payment in the result.
func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*CreateBookingResult, error) {
    if err := validateCreateInput(input); err != nil {
        return nil, err
    }

    release, ok, err := s.locker.Acquire(ctx, input.ScheduleID)
    if err != nil {
        return nil, fmt.Errorf("acquire schedule lock: %w", err)
    }
    if !ok {
        return nil, ErrBusy
    }
    defer release()

    sched, err := s.schedules.ScheduleByID(ctx, input.ScheduleID)
    if err != nil {
        return nil, err
    }
    now := s.now().UTC()
    if !sched.Bookable(now) {
        return nil, ErrScheduleClosed
    }

    freeCount := 0
    for _, p := range input.Passengers {
        if p.FreeTicket {
            freeCount++
        }
    }
    quote, err := s.pricer.Calculate(ctx, sched, input.CustomerClass, len(input.Passengers), freeCount, input.PromoCode)
    if err != nil {
        switch {
        case errors.Is(err, pricing.ErrNoActivePricelist):
            return nil, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
        case errors.Is(err, pricing.ErrPromotionInvalid):
            return nil, fmt.Errorf("%w: %v", ErrPromotionInvalid, err)
        default:
            return nil, fmt.Errorf("pricing: %w", err)
        }
    }

    code, err := newBookingCode()
    if err != nil {
        return nil, err
    }
    expiresAt := now.Add(s.holdWindow)
    booking := &model.Booking{
        Code:           code,
        CustomerID:     input.CustomerID,
        ScheduleID:     input.ScheduleID,
        PromotionID:    quote.PromotionID,
        CustomerClass:  input.CustomerClass,
        SubtotalCents:  quote.SubtotalCents,
        DiscountCents:  quote.DiscountCents,
        TotalCents:     quote.TotalCents,
        PassengerCount: len(input.Passengers),
        PaymentStatus:  model.BookingStatusPending,
        ExpiresAt:      &expiresAt,
    }
    passengers := make([]model.Passenger, 0, len(input.Passengers))
    for _, in := range input.Passengers {
        price := quote.PricePerPaxCents
        if in.FreeTicket {
            price = 0
        }
        passengers = append(passengers, model.Passenger{
            FullName:       strings.TrimSpace(in.FullName),
            IdentityNumber: strings.TrimSpace(in.IdentityNumber),
            Gender:         in.Gender,
            PriceCents:     price,
            FreeTicket:     in.FreeTicket,
        })
    }

    if err := s.bookings.CreatePendingBooking(ctx, booking, passengers); err != nil {
        return nil, err
    }
    s.publishBookingEvent(ctx, "booking_created", booking)

    result := &CreateBookingResult{Booking: booking, Passengers: passengers}

    // Still inside the schedule lock: issue the initial payment
    // intent.  A failure here is recoverable: the booking stays
    // PENDING without a payment and SelectPaymentMethod re-attempts.
    payment, err := s.issuePayment(ctx, booking, input.Method)
    if err != nil {
        log.Printf("booking: intent creation failed for %s, booking stays pending without payment: %v", booking.Code, err)
        return result, nil
    }
    result.Payment = payment
    return result, nil
}

// SelectPaymentMethod re-issues the payment for a PENDING booking,
// superseding any active attempt.  Used both when the customer
// switches payment method before paying and as the recovery path after
// a gateway outage during CreateBooking.  Seats are never touched.
func (s *BookingService) SelectPaymentMethod(ctx context.Context, customerID uint64, bookingCode, method string) (*model.Payment, error) {
    if method == "" {
        return nil, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
    }
    booking, err := s.bookings.BookingByCode(ctx, bookingCode)
    if err != nil {
        return nil, err
    }
    if booking.CustomerID != customerID {
        return nil, ErrForbidden
    }

    // Supersede and re-issue under the schedule lock so concurrent
    // re-issues serialize and a webhook settling the booking in
    // between is observed by the re-read.  Without it two racing
    // calls could both supersede first and then both insert, leaving
    // two active payments for one booking.
    release, ok, err := s.locker.Acquire(ctx, booking.ScheduleID)
    if err != nil {
        return nil, fmt.Errorf("acquire schedule lock: %w", err)
    }
    if !ok {
        return nil, ErrBusy
    }
    defer release()

    booking, err = s.bookings.BookingByCode(ctx, bookingCode)
    if err != nil {
        return nil, err
    }
    if booking.PaymentStatus != model.BookingStatusPending {
        return nil, ErrBookingNotPayable
    }
    if booking.ExpiresAt != nil && !booking.ExpiresAt.After(s.now().UTC()) {
        return nil, ErrBookingNotPayable
    }

    if err := s.payments.SupersedeActivePayments(ctx, booking.ID); err != nil {
        return nil, err
    }
    return s.issuePayment(ctx, booking, method)
}

// issuePayment creates a gateway intent and persists the payment row.
// The external reference is the booking code plus an attempt counter,
// so retried HTTP calls stay idempotent at the gateway while re-issued
// payments get a fresh reference.
func (s *BookingService) issuePayment(ctx context.Context, booking *model.Booking, method string) (*model.Payment, error) {
    if method == "" {
        method = "INVOICE"
    }
    attempts, err := s.payments.PaymentAttempts(ctx, booking.ID)
    if err != nil {
        return nil, err
    }
    externalID := fmt.Sprintf("%s-%d", booking.Code, attempts+1)

    duration := s.holdWindow
    if booking.ExpiresAt != nil {
        if until := booking.ExpiresAt.Sub(s.now().UTC()); until > 0 {
            duration = until
        }
    }
    intent, err := s.gw.CreateIntent(ctx, gateway.IntentRequest{
        ExternalID:  externalID,
        AmountCents: booking.TotalCents,
        Method:      method,
        Description: fmt.Sprintf("Ferry booking %s", booking.Code),
        Duration:    duration,
    })
    if err != nil {
        return nil, err
    }

    payment := &model.Payment{
        BookingID:   booking.ID,
        ExternalID:  externalID,
        GatewayRef:  intent.GatewayRef,
        CheckoutURL: intent.CheckoutURL,
        Method:      method,
        Status:      model.PaymentStatusPending,
        AmountCents: booking.TotalCents,
        RawResponse: intent.Raw,
    }
    if !intent.ExpiresAt.IsZero() {
        t := intent.ExpiresAt
        payment.ExpiresAt = &t
    }
    if err := s.payments.CreatePayment(ctx, payment); err != nil {
        return nil, err
    }
    return payment, nil
}

// GetBooking returns a customer's booking with its passengers and the
// latest payment attempt, if any.
func (s *BookingService) GetBooking(ctx context.Context, customerID uint64, bookingCode string) (*CreateBookingResult, error) {
    booking, err := s.bookings.BookingByCode(ctx, bookingCode)
    if err != nil {
        return nil, err
    }
    if booking.CustomerID != customerID {
        return nil, ErrForbidden
    }
    passengers, err := s.bookings.PassengersByBooking(ctx, booking.ID)
    if err != nil {
        return nil, err
    }
    res := &CreateBookingResult{Booking: booking, Passengers: passengers}
    if p, err := s.payments.LatestPaymentByBooking(ctx, booking.ID); err == nil {
        res.Payment = p
    } else if !errors.Is(err, repository.ErrPaymentNotFound) {
        return nil, err
    }
    return res, nil
}

// Availability is the lock-free display read of a schedule's seat
// ledger.  Never use it to decide a reservation.
func (s *BookingService) Availability(ctx context.Context, scheduleID uint64) (int, error) {
    return s.schedules.AvailableSeats(ctx, scheduleID)
}

func (s *BookingService) publishBookingEvent(ctx context.Context, typ string, b *model.Booking) {
    if s.events == nil {
        return
    }
    ev := queue.BookingEvent{
        Type:           typ,
        BookingID:      b.ID,
        BookingCode:    b.Code,
        CustomerID:     b.CustomerID,
        ScheduleID:     b.ScheduleID,
        PassengerCount: b.PassengerCount,
        TotalCents:     b.TotalCents,
        Status:         b.PaymentStatus,
        OccurredAt:     s.now().UTC().Format(time.RFC3339),
    }
    if err := s.events.PublishBookingEvent(ctx, ev); err != nil {
        log.Printf("booking: publish %s event for %s failed: %v", typ, b.Code, err)
    }
}

func validateCreateInput(input CreateBookingInput) error {
    if input.ScheduleID == 0 {
        return fmt.Errorf("%w: schedule id is required", ErrInvalidInput)
    }
    if input.CustomerID == 0 {
        return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
    }
    if input.CustomerClass == "" {
        return fmt.Errorf("%w: customer class is required", ErrInvalidInput)
    }
    if len(input.Passengers) == 0 {
        return fmt.Errorf("%w: at least one passenger is required", ErrInvalidInput)
    }
    for _, p := range input.Passengers {
        if strings.TrimSpace(p.FullName) == "" {
            return fmt.Errorf("%w: passenger name is required", ErrInvalidInput)
        }
    }
    return nil
}

// newBookingCode generates a short unique booking code.  crypto/rand
// keeps codes unguessable since the code doubles as the payment
// reference base.
func newBookingCode() (string, error) {
    b := make([]byte, 5)
    if _, err := rand.Read(b); err != nil {
        return "", err
    }
    return "FB-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
