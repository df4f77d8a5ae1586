package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxCommentLength = 2000

type ReviewUseCase interface {
	Submit(ctx context.Context, actor domain.Actor, bookingID string, rating int, comment string) (*domain.Review, error)
	Get(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Review, error)
}

type ReviewService struct {
	bookings repository.BookingRepository
	reviews  repository.ReviewRepository
	log      *zap.Logger
}

func NewReviewService(bookings repository.BookingRepository, reviews repository.ReviewRepository, log *zap.Logger) *ReviewService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReviewService{bookings: bookings, reviews: reviews, log: log.Named("review.service")}
}

// Submit records the farmer's review of a paid booking. A second review for
// the same booking fails with ErrAlreadyReviewed.
func (s *ReviewService) Submit(ctx context.Context, actor domain.Actor, bookingID string, rating int, comment string) (*domain.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrBadRequest)
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLength {
		return nil, fmt.Errorf("%w: comment is too long", domain.ErrBadRequest)
	}

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsFarmerOf(*b) {
		return nil, fmt.Errorf("%w: only the farmer can review a booking", domain.ErrForbidden)
	}
	if b.Status != domain.BookingStatusPaid {
		return nil, fmt.Errorf("%w: cannot review booking %s in status %s", domain.ErrInvalidState, b.ID, b.Status)
	}

	rv := &domain.Review{
		ID:        uuid.NewString(),
		BookingID: b.ID,
		FarmerID:  b.FarmerID,
		OwnerID:   b.OwnerID,
		Rating:    rating,
		Comment:   comment,
	}
	if err := s.reviews.Create(ctx, rv); err != nil {
		if errors.Is(err, domain.ErrAlreadyReviewed) {
			return nil, fmt.Errorf("booking %s: %w", b.ID, err)
		}
		return nil, err
	}
	s.log.Info("review submitted", zap.String("booking_id", b.ID), zap.Int("rating", rating))
	return rv, nil
}

func (s *ReviewService) Get(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Review, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsPartyTo(*b) && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not a party to this booking", domain.ErrForbidden)
	}
	return s.reviews.GetByBooking(ctx, bookingID)
}

var _ ReviewUseCase = (*ReviewService)(nil)
