package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/farmrent/internal/billing"
	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/logger"
	"github.com/Domenick1991/farmrent/internal/otp"
	"github.com/Domenick1991/farmrent/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultArrivalWindow    = 60 * time.Minute
	DefaultCompletionOTPTTL = 12 * time.Hour
)

var tracer = otel.Tracer("github.com/Domenick1991/farmrent/internal/service/booking")

type BookingUseCase interface {
	CreateBooking(ctx context.Context, actor domain.Actor, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)
	ListBookings(ctx context.Context, actor domain.Actor) ([]domain.Booking, error)
	ConfirmBooking(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)
	RejectBooking(ctx context.Context, actor domain.Actor, id, reason string) (*domain.Booking, error)
	VerifyArrival(ctx context.Context, actor domain.Actor, id, code string) (*domain.Booking, error)
	StartWork(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)
	VerifyCompletion(ctx context.Context, actor domain.Actor, id, code string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, actor domain.Actor, id, reason string) (*domain.Booking, error)
	RaiseDispute(ctx context.Context, actor domain.Actor, id string, input DisputeInput) (*domain.Booking, error)
	ResolveDispute(ctx context.Context, actor domain.Actor, id string, input ResolutionInput) (*domain.Booking, error)
	ReissueOTP(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)
	InitiatePayment(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)
	ConfirmPayment(ctx context.Context, actor domain.Actor, id, orderRef string) (*domain.Booking, error)
	ExpireUnarrivedBookings(ctx context.Context) ([]domain.Booking, error)
	ListTransactions(ctx context.Context, actor domain.Actor, id string) ([]domain.Transaction, error)
}

type OTPAuthority interface {
	IssueNew(ctx context.Context, subjectID string, purpose otp.Purpose, ttl time.Duration) (string, time.Time, error)
	Verify(ctx context.Context, subjectID string, purpose otp.Purpose, candidate string) (otp.Result, error)
}

// Emitter delivers one event to one target (a user id or a booking topic).
type Emitter interface {
	Emit(ctx context.Context, target, event string, payload any) error
}

type PaymentGateway interface {
	Initiate(ctx context.Context, bookingID string, amount int64) (string, error)
	Confirm(ctx context.Context, orderRef string) (domain.PaymentOutcome, error)
}

type Reconciler interface {
	Finalize(ctx context.Context, b domain.Booking, settlementRef string) (*domain.Booking, []domain.Event, error)
}

type DisputeResolver interface {
	Resolve(ctx context.Context, b domain.Booking, actor domain.Actor, resolution string, refund int64) (*domain.Booking, []domain.Event, error)
}

type IDGenerator interface {
	NewID() string
}

type CreateBookingInput struct {
	MachineID      string    `json:"machine_id"`
	RequestedStart time.Time `json:"requested_start"`
	Area           *float64  `json:"area,omitempty"`
}

type DisputeInput struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type ResolutionInput struct {
	Resolution   string `json:"resolution"`
	RefundAmount int64  `json:"refund_amount"`
}

type BookingService struct {
	bookings         repository.BookingRepository
	machines         repository.MachineRepository
	transactions     repository.TransactionRepository
	otp              OTPAuthority
	emitter          Emitter
	locker           Locker
	gateway          PaymentGateway
	reconciler       Reconciler
	disputes         DisputeResolver
	ids              IDGenerator
	log              *zap.Logger
	now              func() time.Time
	arrivalWindow    time.Duration
	arrivalOTPTTL    time.Duration
	completionOTPTTL time.Duration
}

type BookingServiceOption func(*BookingService)

func WithLocker(l Locker) BookingServiceOption {
	return func(s *BookingService) {
		s.locker = l
	}
}

// WithTransactions exposes the ledger for reads even when payments are off.
func WithTransactions(transactions repository.TransactionRepository) BookingServiceOption {
	return func(s *BookingService) {
		s.transactions = transactions
	}
}

func WithPayments(gateway PaymentGateway, transactions repository.TransactionRepository, reconciler Reconciler, ids IDGenerator) BookingServiceOption {
	return func(s *BookingService) {
		s.gateway = gateway
		s.transactions = transactions
		s.reconciler = reconciler
		s.ids = ids
	}
}

func WithDisputeResolver(r DisputeResolver) BookingServiceOption {
	return func(s *BookingService) {
		s.disputes = r
	}
}

func WithOTPTTL(arrival, completion time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if arrival > 0 {
			s.arrivalOTPTTL = arrival
		}
		if completion > 0 {
			s.completionOTPTTL = completion
		}
	}
}

func WithLogger(log *zap.Logger) BookingServiceOption {
	return func(s *BookingService) {
		s.log = log
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	machines repository.MachineRepository,
	authority OTPAuthority,
	emitter Emitter,
	arrivalWindow time.Duration,
	opts ...BookingServiceOption,
) *BookingService {
	if arrivalWindow <= 0 {
		arrivalWindow = DefaultArrivalWindow
	}
	s := &BookingService{
		bookings:         bookings,
		machines:         machines,
		otp:              authority,
		emitter:          emitter,
		locker:           NewKeyedMutex(),
		log:              zap.NewNop(),
		now:              time.Now,
		arrivalWindow:    arrivalWindow,
		arrivalOTPTTL:    arrivalWindow,
		completionOTPTTL: DefaultCompletionOTPTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("booking.service")
	return s
}

func (s *BookingService) CreateBooking(ctx context.Context, actor domain.Actor, input CreateBookingInput) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.Create", "")
	defer func() { endSpan(span, err) }()

	if actor.Role != domain.RoleFarmer || actor.ID == "" {
		return nil, forbidden("only farmers can request a booking")
	}
	if strings.TrimSpace(input.MachineID) == "" {
		return nil, fmt.Errorf("%w: machine_id is required", domain.ErrBadRequest)
	}
	if input.RequestedStart.IsZero() {
		return nil, fmt.Errorf("%w: requested_start is required", domain.ErrBadRequest)
	}
	if input.Area != nil && *input.Area < 0 {
		return nil, fmt.Errorf("%w: area must not be negative", domain.ErrBadRequest)
	}

	machine, err := s.machines.GetByID(ctx, input.MachineID)
	if err != nil {
		return nil, err
	}
	if !machine.Available {
		return nil, fmt.Errorf("%w: machine %s is not available", domain.ErrInvalidState, machine.ID)
	}
	if machine.OwnerID == actor.ID {
		return nil, forbidden("owners cannot book their own machine")
	}
	if !billing.ValidScheme(machine.BillingScheme) {
		return nil, fmt.Errorf("machine %s has unknown billing scheme %q", machine.ID, machine.BillingScheme)
	}

	b := &domain.Booking{
		ID:        uuid.NewString(),
		FarmerID:  actor.ID,
		OwnerID:   machine.OwnerID,
		MachineID: machine.ID,
		Status:    domain.BookingStatusRequested,
		Schedule:  domain.Schedule{RequestedStart: input.RequestedStart},
		Billing: domain.Billing{
			Scheme: machine.BillingScheme,
			Rate:   machine.Rate,
			Unit:   machine.Unit,
			Area:   input.Area,
		},
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}

	s.publish(ctx, []domain.Event{
		domain.NewEvent(domain.EventBookingRequested, *b, map[string]any{
			"machineId":      b.MachineID,
			"requestedStart": b.Schedule.RequestedStart,
		}, b.OwnerID, b.Topic()),
	})
	s.log.Info("booking requested", zap.String("booking_id", b.ID), zap.String("machine_id", b.MachineID))
	return b, nil
}

func (s *BookingService) GetBooking(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsPartyTo(*b) && !actor.IsAdmin() {
		return nil, forbidden("not a party to this booking")
	}
	return b, nil
}

func (s *BookingService) ListBookings(ctx context.Context, actor domain.Actor) ([]domain.Booking, error) {
	if actor.ID == "" {
		return nil, forbidden("anonymous actor")
	}
	return s.bookings.ListByParticipant(ctx, actor.ID)
}

func (s *BookingService) ConfirmBooking(ctx context.Context, actor domain.Actor, id string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.Confirm", id)
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, id, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		next, events, err := confirm(current, actor, s.now(), s.arrivalWindow)
		if err != nil {
			return current, nil, err
		}
		ev, err := s.issueCode(ctx, &next, otp.PurposeArrival)
		if err != nil {
			return current, nil, err
		}
		return next, append(events, ev), nil
	})
}

func (s *BookingService) RejectBooking(ctx context.Context, actor domain.Actor, id, reason string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.Reject", id)
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, id, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		return reject(current, actor, reason, s.now())
	})
}

func (s *BookingService) VerifyArrival(ctx context.Context, actor domain.Actor, id, code string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.VerifyArrival", id)
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, id, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		now := s.now()
		if err := guardArrival(current, actor, now); err != nil {
			return current, nil, err
		}
		if err := s.verifyCode(ctx, current.ID, otp.PurposeArrival, code); err != nil {
			return current, nil, err
		}
		next, events := arrive(current, now)
		ev, err := s.issueCode(ctx, &next, otp.PurposeCompletion)
		if err != nil {
			return current, nil, err
		}
		return next, append(events, ev), nil
	})
}

func (s *BookingService) StartWork(ctx context.Context, actor domain.Actor, id string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.StartWork", id)
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, id, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		return startWork(current, actor)
	})
}

func (s *BookingService) VerifyCompletion(ctx context.Context, actor domain.Actor, id, code string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.VerifyCompletion", id)
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, id, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		if err := guardCompletion(current, actor); err != nil {
			return current, nil, err
		}
		if err := s.verifyCode(ctx, current.ID, otp.PurposeCompletion, code); err != nil {
			return current, nil, err
		}
		next, events := complete(current, s.now())
		return next, events, nil
	})
}

func (s *BookingService) CancelBooking(ctx context.Context, actor domain.Actor, id, reason string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.Cancel", id)
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, id, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		return cancel(current, actor, reason, s.now())
	})
}

func (s *BookingService) RaiseDispute(ctx context.Context, actor domain.Actor, id string, input DisputeInput) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.RaiseDispute", id)
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, id, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		return raiseDispute(current, actor, input.Code, input.Description, s.now())
	})
}

func (s *BookingService) ResolveDispute(ctx context.Context, actor domain.Actor, id string, input ResolutionInput) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.ResolveDispute", id)
	defer func() { endSpan(span, err) }()

	if s.disputes == nil {
		return nil, errors.New("dispute resolution is not configured")
	}
	return s.withLock(ctx, id, func(current domain.Booking) (*domain.Booking, []domain.Event, error) {
		return s.disputes.Resolve(ctx, current, actor, input.Resolution, input.RefundAmount)
	})
}

// ReissueOTP replaces the code for the stage the booking is waiting on.
func (s *BookingService) ReissueOTP(ctx context.Context, actor domain.Actor, id string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.ReissueOTP", id)
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, id, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		purpose, ok := otpStage(current)
		if !ok {
			return current, nil, invalidState(current, "reissue a code for")
		}
		if !actor.IsPartyTo(current) {
			return current, nil, forbidden("only booking parties can request a new code")
		}
		next := current.Clone()
		ev, err := s.issueCode(ctx, &next, purpose)
		if err != nil {
			return current, nil, err
		}
		return next, []domain.Event{ev}, nil
	})
}

func (s *BookingService) InitiatePayment(ctx context.Context, actor domain.Actor, id string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.InitiatePayment", id)
	defer func() { endSpan(span, err) }()

	if s.gateway == nil || s.transactions == nil {
		return nil, errors.New("payments are not configured")
	}
	return s.withLock(ctx, id, func(current domain.Booking) (*domain.Booking, []domain.Event, error) {
		if current.Status != domain.BookingStatusCompletedPendingPayment {
			return nil, nil, invalidState(current, "pay for")
		}
		if !actor.IsFarmerOf(current) {
			return nil, nil, forbidden("only the farmer can pay")
		}
		if current.Billing.CalculatedAmount == nil {
			return nil, nil, fmt.Errorf("%w: booking has no calculated amount", domain.ErrInvalidState)
		}
		if current.Payment.Status == domain.PaymentStatusPending && current.Payment.OrderRef != "" {
			return &current, nil, nil
		}

		amount := *current.Billing.CalculatedAmount
		ref, err := s.gateway.Initiate(ctx, current.ID, amount)
		if err != nil {
			return nil, nil, fmt.Errorf("initiate payment: %w", err)
		}
		txn := &domain.Transaction{
			ID:        s.ids.NewID(),
			Type:      domain.TransactionTypePayment,
			Amount:    amount,
			Status:    domain.TransactionStatusPending,
			BookingID: current.ID,
			FarmerID:  current.FarmerID,
			OwnerID:   current.OwnerID,
			Reference: ref,
		}
		if err := s.transactions.Create(ctx, txn); err != nil {
			return nil, nil, err
		}

		next := current.Clone()
		next.Payment.OrderRef = ref
		next.Payment.Status = domain.PaymentStatusPending
		if err := s.bookings.Update(ctx, &next, current.Version); err != nil {
			return nil, nil, err
		}
		ev := domain.NewEvent(domain.EventPaymentInitiated, next, map[string]any{
			"orderRef": ref,
			"amount":   amount,
		}, next.FarmerID, next.Topic())
		return &next, []domain.Event{ev}, nil
	})
}

// ConfirmPayment asks the gateway for the order outcome. On success the booking
// is settled; on failure the pending entry is marked failed and ErrPaymentFailed
// is returned together with the updated booking.
func (s *BookingService) ConfirmPayment(ctx context.Context, actor domain.Actor, id, orderRef string) (result *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "booking.ConfirmPayment", id)
	defer func() { endSpan(span, err) }()

	if s.gateway == nil || s.reconciler == nil || s.transactions == nil {
		return nil, errors.New("payments are not configured")
	}
	orderRef = strings.TrimSpace(orderRef)

	var failed bool
	b, err := s.withLock(ctx, id, func(current domain.Booking) (*domain.Booking, []domain.Event, error) {
		if !actor.IsFarmerOf(current) && !actor.IsAdmin() {
			return nil, nil, forbidden("only the farmer can confirm payment")
		}
		if orderRef == "" {
			return nil, nil, fmt.Errorf("%w: order_ref is required", domain.ErrBadRequest)
		}
		if current.Status == domain.BookingStatusPaid && current.Payment.TransactionRef == orderRef {
			return &current, nil, nil
		}
		if current.Status != domain.BookingStatusCompletedPendingPayment {
			return nil, nil, invalidState(current, "confirm payment for")
		}
		if orderRef != current.Payment.OrderRef {
			return nil, nil, fmt.Errorf("%w: unknown payment order %q", domain.ErrBadRequest, orderRef)
		}

		outcome, err := s.gateway.Confirm(ctx, orderRef)
		if err != nil {
			return nil, nil, fmt.Errorf("confirm payment: %w", err)
		}
		switch outcome {
		case domain.PaymentOutcomeSuccess:
			return s.reconciler.Finalize(ctx, current, orderRef)
		case domain.PaymentOutcomePending:
			return nil, nil, domain.ErrPaymentPending
		}

		if _, err := s.transactions.AdvancePending(ctx, current.ID, orderRef, domain.TransactionStatusFailed); err != nil {
			return nil, nil, err
		}
		next := current.Clone()
		next.Payment.Status = domain.PaymentStatusFailed
		next.Payment.OrderRef = ""
		if err := s.bookings.Update(ctx, &next, current.Version); err != nil {
			return nil, nil, err
		}
		failed = true
		ev := domain.NewEvent(domain.EventPaymentFailed, next, map[string]any{"orderRef": orderRef}, next.FarmerID, next.Topic())
		return &next, []domain.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	if failed {
		return b, domain.ErrPaymentFailed
	}
	return b, nil
}

// ListTransactions returns the ledger entries of a booking, oldest first.
func (s *BookingService) ListTransactions(ctx context.Context, actor domain.Actor, id string) ([]domain.Transaction, error) {
	b, err := s.GetBooking(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if s.transactions == nil {
		return []domain.Transaction{}, nil
	}
	return s.transactions.ListByBooking(ctx, b.ID)
}

// ExpireUnarrivedBookings auto-cancels confirmed bookings whose arrival
// deadline has passed.
func (s *BookingService) ExpireUnarrivedBookings(ctx context.Context) ([]domain.Booking, error) {
	now := s.now()
	candidates, err := s.bookings.ListAwaitingArrivalBefore(ctx, now)
	if err != nil {
		return nil, err
	}

	expired := make([]domain.Booking, 0, len(candidates))
	for _, c := range candidates {
		b, err := s.mutate(ctx, c.ID, func(current domain.Booking) (domain.Booking, []domain.Event, error) {
			return autoCancel(current, s.now())
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			s.log.Warn("auto-cancel failed", zap.String("booking_id", c.ID), zap.Error(err))
			continue
		}
		expired = append(expired, *b)
	}
	return expired, nil
}

type mutation func(current domain.Booking) (domain.Booking, []domain.Event, error)

// mutate runs fn under the booking lock and persists its result with a version check.
func (s *BookingService) mutate(ctx context.Context, id string, fn mutation) (*domain.Booking, error) {
	return s.withLock(ctx, id, func(current domain.Booking) (*domain.Booking, []domain.Event, error) {
		next, events, err := fn(current)
		if err != nil {
			return nil, nil, err
		}
		if next.Status != current.Status && !domain.CanTransition(current.Status, next.Status) {
			return nil, nil, fmt.Errorf("%w: %s -> %s is not a booking transition", domain.ErrInvalidState, current.Status, next.Status)
		}
		if err := s.bookings.Update(ctx, &next, current.Version); err != nil {
			return nil, nil, err
		}
		return &next, events, nil
	})
}

// withLock loads the booking under its lock and emits the returned events
// after fn succeeds. fn is responsible for persisting.
func (s *BookingService) withLock(ctx context.Context, id string, fn func(current domain.Booking) (*domain.Booking, []domain.Event, error)) (*domain.Booking, error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock booking %s: %w", id, err)
	}
	defer unlock()

	current, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := current.Status

	next, events, err := fn(*current)
	if err != nil {
		return nil, err
	}
	if next.Status != from {
		logger.WithTrace(ctx, s.log).Info("booking transition",
			zap.String("booking_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(next.Status)))
	}
	s.publish(ctx, events)
	return next, nil
}

func (s *BookingService) issueCode(ctx context.Context, b *domain.Booking, purpose otp.Purpose) (domain.Event, error) {
	ttl := s.arrivalOTPTTL
	if purpose == otp.PurposeCompletion {
		ttl = s.completionOTPTTL
	}
	code, expiresAt, err := s.otp.IssueNew(ctx, b.ID, purpose, ttl)
	if err != nil {
		return domain.Event{}, err
	}
	if purpose == otp.PurposeArrival {
		b.OTP.ArrivalExpiresAt = &expiresAt
	} else {
		b.OTP.CompletionExpiresAt = &expiresAt
	}
	return domain.NewEvent(domain.EventOTPIssued, *b, map[string]any{
		"purpose":   string(purpose),
		"code":      code,
		"expiresAt": expiresAt,
	}, b.FarmerID), nil
}

func (s *BookingService) verifyCode(ctx context.Context, bookingID string, purpose otp.Purpose, code string) error {
	res, err := s.otp.Verify(ctx, bookingID, purpose, code)
	if err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("%w: %s code %s", domain.ErrOTPInvalid, purpose, strings.ToLower(string(res.Reason)))
	}
	return nil
}

func (s *BookingService) publish(ctx context.Context, events []domain.Event) {
	if s.emitter == nil {
		return
	}
	log := logger.WithTrace(ctx, s.log)
	for _, ev := range events {
		for _, target := range ev.Targets {
			if err := s.emitter.Emit(ctx, target, ev.Name, ev.Payload); err != nil {
				log.Warn("emit event failed",
					zap.String("event", ev.Name),
					zap.String("target", target),
					zap.String("booking_id", ev.BookingID),
					zap.Error(err))
			}
		}
	}
}

func (s *BookingService) startSpan(ctx context.Context, name, bookingID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("booking.id", bookingID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

var _ BookingUseCase = (*BookingService)(nil)
