package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/repository"
	"go.uber.org/zap"
)

const (
	OwnerTrustDelta  = 2
	FarmerTrustDelta = 1
)

type Repository interface {
	FinalizePayment(ctx context.Context, s repository.Settlement) (bool, error)
}

type IDGenerator interface {
	NewID() string
}

// Reconciler settles a booking once the gateway reports success. Payout to the
// owner is released immediately.
type Reconciler struct {
	repo Repository
	ids  IDGenerator
	log  *zap.Logger
	now  func() time.Time
}

type Option func(*Reconciler)

func WithLogger(log *zap.Logger) Option {
	return func(r *Reconciler) {
		r.log = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(repo Repository, ids IDGenerator, opts ...Option) *Reconciler {
	r := &Reconciler{repo: repo, ids: ids, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("payment.reconciler")
	return r
}

// Finalize is safe to call again for a booking already paid with the same
// settlement reference.
func (r *Reconciler) Finalize(ctx context.Context, b domain.Booking, settlementRef string) (*domain.Booking, []domain.Event, error) {
	retry := b.Status == domain.BookingStatusPaid && b.Payment.TransactionRef == settlementRef
	if b.Status != domain.BookingStatusCompletedPendingPayment && !retry {
		return nil, nil, fmt.Errorf("%w: cannot finalize payment for booking in status %s", domain.ErrInvalidState, b.Status)
	}
	if settlementRef == "" {
		return nil, nil, fmt.Errorf("%w: settlement reference is required", domain.ErrBadRequest)
	}
	if b.Billing.CalculatedAmount == nil {
		return nil, nil, fmt.Errorf("%w: booking has no calculated amount", domain.ErrInvalidState)
	}

	next, release := Settle(b, settlementRef, r.now(), r.ids.NewID())
	applied, err := r.repo.FinalizePayment(ctx, repository.Settlement{
		Booking:          &next,
		ExpectedVersion:  b.Version,
		Release:          release,
		OwnerTrustDelta:  OwnerTrustDelta,
		FarmerTrustDelta: FarmerTrustDelta,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("finalize payment for booking %s: %w", b.ID, err)
	}
	if !applied {
		r.log.Info("payment already settled", zap.String("booking_id", b.ID), zap.String("ref", settlementRef))
		return &next, nil, nil
	}

	r.log.Info("payment settled",
		zap.String("booking_id", b.ID),
		zap.String("ref", settlementRef),
		zap.Int64("amount", release.Amount))
	ev := domain.NewEvent(domain.EventPaymentCompleted, next, map[string]any{
		"transactionRef": settlementRef,
		"paidAmount":     *next.Billing.PaidAmount,
	}, next.FarmerID, next.OwnerID, next.Topic())
	return &next, []domain.Event{ev}, nil
}

// Settle computes the paid booking and the payout entry without side effects.
func Settle(b domain.Booking, settlementRef string, now time.Time, releaseID string) (domain.Booking, domain.Transaction) {
	next := b.Clone()
	amount := *next.Billing.CalculatedAmount

	next.Status = domain.BookingStatusPaid
	next.Payment.TransactionRef = settlementRef
	next.Payment.Status = domain.PaymentStatusCompleted
	if next.Payment.PaidAt == nil {
		paidAt := now
		next.Payment.PaidAt = &paidAt
	}
	next.Billing.PaidAmount = &amount

	release := domain.Transaction{
		ID:        releaseID,
		Type:      domain.TransactionTypeRelease,
		Amount:    amount,
		Status:    domain.TransactionStatusReleased,
		BookingID: next.ID,
		FarmerID:  next.FarmerID,
		OwnerID:   next.OwnerID,
		Reference: settlementRef,
	}
	return next, release
}
