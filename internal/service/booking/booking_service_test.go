package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/otp"
	"github.com/Domenick1991/farmrent/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// memoryBookings is a versioned in-memory BookingRepository.
type memoryBookings struct {
	mu    sync.Mutex
	items map[string]domain.Booking
}

func newMemoryBookings() *memoryBookings {
	return &memoryBookings{items: make(map[string]domain.Booking)}
}

func (r *memoryBookings) Create(_ context.Context, b *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = t0, t0
	r.items[b.ID] = b.Clone()
	return nil
}

func (r *memoryBookings) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := b.Clone()
	return &c, nil
}

func (r *memoryBookings) Update(_ context.Context, b *domain.Booking, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[b.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrConflict
	}
	b.Version = expectedVersion + 1
	r.items[b.ID] = b.Clone()
	return nil
}

func (r *memoryBookings) ListByParticipant(_ context.Context, userID string) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.items {
		if b.FarmerID == userID || b.OwnerID == userID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryBookings) ListAwaitingArrivalBefore(_ context.Context, deadline time.Time) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.items {
		if b.Status == domain.BookingStatusOwnerConfirmed && b.Schedule.ArrivalDeadline != nil && b.Schedule.ArrivalDeadline.Before(deadline) {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (r *memoryBookings) FinalizePayment(ctx context.Context, s repository.Settlement) (bool, error) {
	return true, r.Update(ctx, s.Booking, s.ExpectedVersion)
}

func (r *memoryBookings) ResolveDispute(ctx context.Context, b *domain.Booking, expectedVersion int64, _ *domain.Transaction) error {
	return r.Update(ctx, b, expectedVersion)
}

func (r *memoryBookings) put(b domain.Booking) {
	r.mu.Lock()
	r.items[b.ID] = b.Clone()
	r.mu.Unlock()
}

type MockMachineRepository struct {
	mock.Mock
}

func (m *MockMachineRepository) List(ctx context.Context) ([]domain.Machine, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Machine), args.Error(1)
}

func (m *MockMachineRepository) GetByID(ctx context.Context, id string) (*domain.Machine, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Machine), args.Error(1)
}

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockTransactionRepository) AdvancePending(ctx context.Context, bookingID, reference string, status domain.TransactionStatus) (bool, error) {
	args := m.Called(ctx, bookingID, reference, status)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.Transaction, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Initiate(ctx context.Context, bookingID string, amount int64) (string, error) {
	args := m.Called(ctx, bookingID, amount)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Confirm(ctx context.Context, orderRef string) (domain.PaymentOutcome, error) {
	args := m.Called(ctx, orderRef)
	return args.Get(0).(domain.PaymentOutcome), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Finalize(ctx context.Context, b domain.Booking, ref string) (*domain.Booking, []domain.Event, error) {
	args := m.Called(ctx, b, ref)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Booking), args.Get(1).([]domain.Event), args.Error(2)
}

type MockDisputeResolver struct {
	mock.Mock
}

func (m *MockDisputeResolver) Resolve(ctx context.Context, b domain.Booking, actor domain.Actor, resolution string, refund int64) (*domain.Booking, []domain.Event, error) {
	args := m.Called(ctx, b, actor, resolution, refund)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Booking), args.Get(1).([]domain.Event), args.Error(2)
}

type emitted struct {
	target  string
	event   string
	payload map[string]any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (e *recordingEmitter) Emit(_ context.Context, target, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, _ := payload.(map[string]any)
	e.events = append(e.events, emitted{target: target, event: event, payload: p})
	return e.err
}

func (e *recordingEmitter) lastCode(t *testing.T, purpose otp.Purpose) string {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		ev := e.events[i]
		if ev.event == domain.EventOTPIssued && ev.payload["purpose"] == string(purpose) {
			assert.Equal(t, farmer.ID, ev.target)
			return ev.payload["code"].(string)
		}
	}
	t.Fatalf("no %s code emitted", purpose)
	return ""
}

func (e *recordingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.event+"->"+ev.target)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type noLock struct{}

func (noLock) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type fixedIDs string

func (f fixedIDs) NewID() string { return string(f) }

type fixture struct {
	svc      *BookingService
	repo     *memoryBookings
	machines *MockMachineRepository
	emitter  *recordingEmitter
	clock    *fakeClock
}

func newFixture(opts ...BookingServiceOption) *fixture {
	clock := &fakeClock{now: t0}
	repo := newMemoryBookings()
	machines := &MockMachineRepository{}
	emitter := &recordingEmitter{}
	authority := otp.NewAuthority(otp.NewMemoryStore(), otp.WithClock(clock.Now))
	opts = append([]BookingServiceOption{WithClock(clock.Now)}, opts...)
	svc := NewBookingService(repo, machines, authority, emitter, time.Hour, opts...)
	return &fixture{svc: svc, repo: repo, machines: machines, emitter: emitter, clock: clock}
}

func (f *fixture) seed(status domain.BookingStatus) domain.Booking {
	b := requestedBooking()
	b.Status = status
	f.repo.put(b)
	return b
}

func TestBookingService_CreateBooking_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.machines.On("GetByID", mock.Anything, "m1").Return(&domain.Machine{
		ID: "m1", OwnerID: owner.ID, BillingScheme: domain.BillingSchemeArea, Rate: 300, Unit: "acre", Available: true,
	}, nil).Once()

	area := 2.0
	b, err := f.svc.CreateBooking(ctx, farmer, CreateBookingInput{MachineID: "m1", RequestedStart: t0, Area: &area})
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, domain.BookingStatusRequested, b.Status)
	assert.Equal(t, owner.ID, b.OwnerID)
	assert.Equal(t, domain.BillingSchemeArea, b.Billing.Scheme)
	assert.Equal(t, int64(1), b.Version)
	assert.Contains(t, f.emitter.names(), domain.EventBookingRequested+"->"+owner.ID)

	f.machines.AssertExpectations(t)
}

func TestBookingService_CreateBooking_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateBooking(ctx, owner, CreateBookingInput{MachineID: "m1", RequestedStart: t0})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.CreateBooking(ctx, farmer, CreateBookingInput{RequestedStart: t0})
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	f.machines.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrNotFound).Once()
	_, err = f.svc.CreateBooking(ctx, farmer, CreateBookingInput{MachineID: "missing", RequestedStart: t0})
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))

	f.machines.On("GetByID", mock.Anything, "busy").Return(&domain.Machine{ID: "busy", OwnerID: owner.ID, BillingScheme: domain.BillingSchemeTime, Available: false}, nil).Once()
	_, err = f.svc.CreateBooking(ctx, farmer, CreateBookingInput{MachineID: "busy", RequestedStart: t0})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestBookingService_HappyPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusRequested)

	b, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusOwnerConfirmed, b.Status)
	assert.Equal(t, t0.Add(time.Hour), *b.Schedule.ArrivalDeadline)
	assert.Equal(t, t0.Add(time.Hour), *b.OTP.ArrivalExpiresAt)

	f.clock.Advance(20 * time.Minute)
	arrivalCode := f.emitter.lastCode(t, otp.PurposeArrival)
	b, err = f.svc.VerifyArrival(ctx, owner, "b1", arrivalCode)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusArrived, b.Status)
	assert.Equal(t, t0.Add(20*time.Minute), *b.Timer.StartedAt)
	assert.NotNil(t, b.OTP.CompletionExpiresAt)

	b, err = f.svc.StartWork(ctx, owner, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusInProgress, b.Status)

	f.clock.Advance(66 * time.Second)
	completionCode := f.emitter.lastCode(t, otp.PurposeCompletion)
	b, err = f.svc.VerifyCompletion(ctx, farmer, "b1", completionCode)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCompletedPendingPayment, b.Status)
	assert.Equal(t, int64(2), b.Timer.DurationMinutes)
	assert.Equal(t, int64(20), *b.Billing.CalculatedAmount)

	stored, err := f.repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored.Version)

	names := f.emitter.names()
	assert.Contains(t, names, domain.EventBookingConfirmed+"->booking:b1")
	assert.Contains(t, names, domain.EventTimerStarted+"->owner-1")
	assert.Contains(t, names, domain.EventTimerStopped+"->farmer-1")
	assert.NotContains(t, names, domain.EventOTPIssued+"->booking:b1")
}

func TestBookingService_ConfirmTwice_InvalidState(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)

	_, err = f.svc.ConfirmBooking(ctx, owner, "b1")
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestBookingService_VerifyCompletionBeforeArrival(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)

	_, err = f.svc.VerifyCompletion(ctx, farmer, "b1", "123456")
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestBookingService_VerifyArrival_WrongCode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)
	code := f.emitter.lastCode(t, otp.PurposeArrival)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err = f.svc.VerifyArrival(ctx, owner, "b1", wrong)
	assert.Equal(t, domain.CodeOTPInvalid, domain.CodeOf(err))

	stored, err := f.repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusOwnerConfirmed, stored.Status)
	assert.Nil(t, stored.Timer.StartedAt)

	_, err = f.svc.VerifyArrival(ctx, owner, "b1", " "+code+" ")
	assert.NoError(t, err)
}

func TestBookingService_VerifyArrival_CodeSingleUse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)
	code := f.emitter.lastCode(t, otp.PurposeArrival)

	_, err = f.svc.VerifyArrival(ctx, owner, "b1", code)
	require.NoError(t, err)

	_, err = f.svc.VerifyArrival(ctx, owner, "b1", code)
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestBookingService_ReissueOTP(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.ReissueOTP(ctx, farmer, "b1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)
	first := f.emitter.lastCode(t, otp.PurposeArrival)

	_, err = f.svc.ReissueOTP(ctx, farmer, "b1")
	require.NoError(t, err)
	second := f.emitter.lastCode(t, otp.PurposeArrival)

	if first != second {
		_, err = f.svc.VerifyArrival(ctx, owner, "b1", first)
		assert.ErrorIs(t, err, domain.ErrOTPInvalid)
	}
	_, err = f.svc.VerifyArrival(ctx, owner, "b1", second)
	assert.NoError(t, err)
}

func TestBookingService_CancelAndDispute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusInProgress)

	b, err := f.svc.RaiseDispute(ctx, owner, "b1", DisputeInput{Code: "damage", Description: "hydraulics"})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusDisputed, b.Status)

	_, err = f.svc.RaiseDispute(ctx, farmer, "b1", DisputeInput{Code: "again"})
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))

	b, err = f.svc.CancelBooking(ctx, farmer, "b1", "give up")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, b.Status)
	assert.Equal(t, "give up", b.CancelReason)
	assert.Contains(t, f.emitter.names(), domain.EventBookingCancelled+"->owner-1")

	_, err = f.svc.CancelBooking(ctx, owner, "b1", "")
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestBookingService_ResolveDispute_Delegates(t *testing.T) {
	resolver := &MockDisputeResolver{}
	f := newFixture(WithDisputeResolver(resolver))
	ctx := context.Background()
	current := f.seed(domain.BookingStatusDisputed)

	resolved := current.Clone()
	resolved.Status = domain.BookingStatusCancelled
	events := []domain.Event{domain.NewEvent(domain.EventDisputeResolved, resolved, nil, farmer.ID, owner.ID, resolved.Topic())}
	resolver.On("Resolve", mock.Anything, mock.MatchedBy(func(b domain.Booking) bool { return b.ID == "b1" }), admin, "refund", int64(50)).
		Return(&resolved, events, nil).Once()

	b, err := f.svc.ResolveDispute(ctx, admin, "b1", ResolutionInput{Resolution: "refund", RefundAmount: 50})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, b.Status)
	assert.Contains(t, f.emitter.names(), domain.EventDisputeResolved+"->owner-1")

	resolver.AssertExpectations(t)
}

func TestBookingService_EmitFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture()
	f.emitter.err = errors.New("broker down")
	f.seed(domain.BookingStatusRequested)

	b, err := f.svc.ConfirmBooking(context.Background(), owner, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusOwnerConfirmed, b.Status)
}

func TestBookingService_GetBooking_Forbidden(t *testing.T) {
	f := newFixture()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.GetBooking(context.Background(), other, "b1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	b, err := f.svc.GetBooking(context.Background(), admin, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", b.ID)

	_, err = f.svc.GetBooking(context.Background(), admin, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookingService_ExpireUnarrivedBookings(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)

	expired, err := f.svc.ExpireUnarrivedBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	f.clock.Advance(61 * time.Minute)
	expired, err = f.svc.ExpireUnarrivedBookings(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, domain.BookingStatusAutoCancelled, expired[0].Status)
	assert.Contains(t, f.emitter.names(), domain.EventBookingAutoCancelled+"->farmer-1")
}

func TestBookingService_Payments(t *testing.T) {
	gateway := &MockGateway{}
	txns := &MockTransactionRepository{}
	reconciler := &MockReconciler{}
	f := newFixture(WithPayments(gateway, txns, reconciler, fixedIDs("txn-1")))
	ctx := context.Background()

	amount := int64(1200)
	b := requestedBooking()
	b.Status = domain.BookingStatusCompletedPendingPayment
	b.Billing.CalculatedAmount = &amount
	f.repo.put(b)

	gateway.On("Initiate", mock.Anything, "b1", int64(1200)).Return("chrg_1", nil).Once()
	txns.On("Create", mock.Anything, mock.MatchedBy(func(txn *domain.Transaction) bool {
		return txn.ID == "txn-1" && txn.Type == domain.TransactionTypePayment && txn.Status == domain.TransactionStatusPending && txn.Reference == "chrg_1"
	})).Return(nil).Once()

	initiated, err := f.svc.InitiatePayment(ctx, farmer, "b1")
	require.NoError(t, err)
	assert.Equal(t, "chrg_1", initiated.Payment.OrderRef)
	assert.Equal(t, domain.PaymentStatusPending, initiated.Payment.Status)

	again, err := f.svc.InitiatePayment(ctx, farmer, "b1")
	require.NoError(t, err)
	assert.Equal(t, "chrg_1", again.Payment.OrderRef)

	_, err = f.svc.ConfirmPayment(ctx, farmer, "b1", "chrg_other")
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	paid := initiated.Clone()
	paid.Status = domain.BookingStatusPaid
	paid.Payment.TransactionRef = "chrg_1"
	gateway.On("Confirm", mock.Anything, "chrg_1").Return(domain.PaymentOutcomeSuccess, nil).Once()
	reconciler.On("Finalize", mock.Anything, mock.MatchedBy(func(b domain.Booking) bool { return b.ID == "b1" }), "chrg_1").
		Return(&paid, []domain.Event{}, nil).Once()

	result, err := f.svc.ConfirmPayment(ctx, farmer, "b1", "chrg_1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPaid, result.Status)

	gateway.AssertExpectations(t)
	txns.AssertExpectations(t)
	reconciler.AssertExpectations(t)
}

func TestBookingService_ConfirmPayment_Failure(t *testing.T) {
	gateway := &MockGateway{}
	txns := &MockTransactionRepository{}
	f := newFixture(WithPayments(gateway, txns, &MockReconciler{}, fixedIDs("txn-1")))
	ctx := context.Background()

	amount := int64(1200)
	b := requestedBooking()
	b.Status = domain.BookingStatusCompletedPendingPayment
	b.Billing.CalculatedAmount = &amount
	b.Payment = domain.Payment{OrderRef: "chrg_1", Status: domain.PaymentStatusPending}
	f.repo.put(b)

	gateway.On("Confirm", mock.Anything, "chrg_1").Return(domain.PaymentOutcomeFailure, nil).Once()
	txns.On("AdvancePending", mock.Anything, "b1", "chrg_1", domain.TransactionStatusFailed).Return(true, nil).Once()

	result, err := f.svc.ConfirmPayment(ctx, farmer, "b1", "chrg_1")
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	require.NotNil(t, result)
	assert.Equal(t, domain.PaymentStatusFailed, result.Payment.Status)
	assert.Equal(t, domain.BookingStatusCompletedPendingPayment, result.Status)
	assert.Contains(t, f.emitter.names(), domain.EventPaymentFailed+"->farmer-1")

	gateway.AssertExpectations(t)
	txns.AssertExpectations(t)
}

func TestBookingService_ConcurrentConfirm_SingleWinner(t *testing.T) {
	for name, locker := range map[string]Locker{"keyed mutex": NewKeyedMutex(), "version check only": noLock{}} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(WithLocker(locker))
			f.seed(domain.BookingStatusRequested)

			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.svc.ConfirmBooking(context.Background(), owner, "b1")
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			success := 0
			for err := range errs {
				if err == nil {
					success++
					continue
				}
				assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
			}
			assert.Equal(t, 1, success)
		})
	}
}

func TestBookingService_ConcurrentVerifyArrival_SingleWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)
	code := f.emitter.lastCode(t, otp.PurposeArrival)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyArrival(ctx, owner, "b1", code)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		}
	}
	assert.Equal(t, 1, success)
}

type tenantKey struct{}

func TestBookingService_CreateBooking_PassesCallerContext(t *testing.T) {
	f := newFixture()
	ctx := context.WithValue(context.Background(), tenantKey{}, "north")

	fromCaller := mock.MatchedBy(func(c context.Context) bool { return c.Value(tenantKey{}) == "north" })
	f.machines.On("GetByID", fromCaller, "m1").Return(&domain.Machine{
		ID: "m1", OwnerID: owner.ID, BillingScheme: domain.BillingSchemeTime, Rate: 600, Unit: "hour", Available: true,
	}, nil).Once()

	b, err := f.svc.CreateBooking(ctx, farmer, CreateBookingInput{MachineID: "m1", RequestedStart: t0})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusRequested, b.Status)

	f.machines.AssertExpectations(t)
}

func TestBookingService_MutateRejectsIllegalTransition(t *testing.T) {
	f := newFixture()
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.mutate(context.Background(), "b1", func(current domain.Booking) (domain.Booking, []domain.Event, error) {
		next := current.Clone()
		next.Status = domain.BookingStatusPaid
		return next, []domain.Event{domain.NewEvent(domain.EventPaymentCompleted, next, nil, next.FarmerID)}, nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err := f.repo.GetByID(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusRequested, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, f.emitter.names())
}

func TestBookingService_TransitionLogCarriesTrace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := newFixture(WithLogger(zap.New(core)))
	f.seed(domain.BookingStatusRequested)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x01},
		SpanID:     trace.SpanID{0x0b, 0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	_, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)

	entries := logs.FilterMessage("booking transition").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, "requested", fields["from"])
	assert.Equal(t, "owner_confirmed", fields["to"])
}

func TestBookingService_ListTransactions(t *testing.T) {
	txns := &MockTransactionRepository{}
	f := newFixture(WithTransactions(txns))
	ctx := context.Background()
	f.seed(domain.BookingStatusPaid)

	ledger := []domain.Transaction{
		{ID: "t1", Type: domain.TransactionTypePayment, Amount: 1200, Status: domain.TransactionStatusCompleted, BookingID: "b1"},
		{ID: "t2", Type: domain.TransactionTypeCredit, Amount: 1080, Status: domain.TransactionStatusCompleted, BookingID: "b1"},
	}
	txns.On("ListByBooking", mock.Anything, "b1").Return(ledger, nil).Twice()

	got, err := f.svc.ListTransactions(ctx, farmer, "b1")
	require.NoError(t, err)
	assert.Equal(t, ledger, got)

	_, err = f.svc.ListTransactions(ctx, admin, "b1")
	require.NoError(t, err)

	_, err = f.svc.ListTransactions(ctx, other, "b1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.ListTransactions(ctx, farmer, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	txns.AssertExpectations(t)
}

func TestBookingService_ListTransactions_NoLedger(t *testing.T) {
	f := newFixture()
	f.seed(domain.BookingStatusRequested)

	got, err := f.svc.ListTransactions(context.Background(), owner, "b1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

type flakyBookings struct {
	*memoryBookings
	failNext bool
}

func (r *flakyBookings) Update(ctx context.Context, b *domain.Booking, expectedVersion int64) error {
	if r.failNext {
		r.failNext = false
		return errors.New("connection reset")
	}
	return r.memoryBookings.Update(ctx, b, expectedVersion)
}

func TestBookingService_VerifyArrival_FailedWriteRecoversViaReissue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	flaky := &flakyBookings{memoryBookings: f.repo}
	f.svc.bookings = flaky
	f.seed(domain.BookingStatusRequested)

	_, err := f.svc.ConfirmBooking(ctx, owner, "b1")
	require.NoError(t, err)
	burned := f.emitter.lastCode(t, otp.PurposeArrival)

	flaky.failNext = true
	_, err = f.svc.VerifyArrival(ctx, owner, "b1", burned)
	require.ErrorContains(t, err, "connection reset")

	stored, err := f.repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusOwnerConfirmed, stored.Status)

	_, err = f.svc.VerifyArrival(ctx, owner, "b1", burned)
	assert.ErrorIs(t, err, domain.ErrOTPInvalid)

	_, err = f.svc.ReissueOTP(ctx, farmer, "b1")
	require.NoError(t, err)
	b, err := f.svc.VerifyArrival(ctx, owner, "b1", f.emitter.lastCode(t, otp.PurposeArrival))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusArrived, b.Status)
}
