package dispute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/farmrent/internal/domain"
	"go.uber.org/zap"
)

type Repository interface {
	ResolveDispute(ctx context.Context, b *domain.Booking, expectedVersion int64, refund *domain.Transaction) error
}

type IDGenerator interface {
	NewID() string
}

type Resolver struct {
	repo Repository
	ids  IDGenerator
	log  *zap.Logger
	now  func() time.Time
}

func NewResolver(repo Repository, ids IDGenerator, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{repo: repo, ids: ids, log: log.Named("dispute.resolver"), now: time.Now}
}

func (r *Resolver) Resolve(ctx context.Context, b domain.Booking, actor domain.Actor, resolution string, refund int64) (*domain.Booking, []domain.Event, error) {
	next, refundTxn, events, err := Apply(b, actor, resolution, refund, r.now(), r.ids.NewID)
	if err != nil {
		return nil, nil, err
	}
	if err := r.repo.ResolveDispute(ctx, &next, b.Version, refundTxn); err != nil {
		return nil, nil, fmt.Errorf("resolve dispute for booking %s: %w", b.ID, err)
	}
	r.log.Info("dispute resolved",
		zap.String("booking_id", b.ID),
		zap.String("status", string(next.Status)),
		zap.Int64("refund", refund))
	return &next, events, nil
}

// Apply is the pure resolution rule. A positive refund cancels the booking and
// records a refund entry; otherwise the booking is marked paid.
func Apply(b domain.Booking, actor domain.Actor, resolution string, refund int64, now time.Time, newID func() string) (domain.Booking, *domain.Transaction, []domain.Event, error) {
	if !actor.IsAdmin() {
		return b, nil, nil, fmt.Errorf("%w: only admins can resolve disputes", domain.ErrForbidden)
	}
	if b.Status != domain.BookingStatusDisputed {
		return b, nil, nil, fmt.Errorf("%w: booking %s is not disputed", domain.ErrInvalidState, b.ID)
	}
	if refund < 0 {
		return b, nil, nil, fmt.Errorf("%w: refund must not be negative", domain.ErrBadRequest)
	}

	next := b.Clone()
	if next.Dispute == nil {
		next.Dispute = &domain.Dispute{}
	}
	resolvedAt := now
	next.Dispute.Resolution = strings.TrimSpace(resolution)
	next.Dispute.RefundAmount = refund
	next.Dispute.ResolvedAt = &resolvedAt

	var refundTxn *domain.Transaction
	if refund > 0 {
		next.Status = domain.BookingStatusCancelled
		next.CancelReason = "dispute refunded"
		next.CancelledAt = &resolvedAt
		refundTxn = &domain.Transaction{
			ID:        newID(),
			Type:      domain.TransactionTypeRefund,
			Amount:    refund,
			Status:    domain.TransactionStatusRefunded,
			BookingID: next.ID,
			FarmerID:  next.FarmerID,
			OwnerID:   next.OwnerID,
		}
	} else {
		next.Status = domain.BookingStatusPaid
	}

	ev := domain.NewEvent(domain.EventDisputeResolved, next, map[string]any{
		"resolution":   next.Dispute.Resolution,
		"refundAmount": refund,
	}, next.FarmerID, next.OwnerID, next.Topic())
	return next, refundTxn, []domain.Event{ev}, nil
}
