package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type ReviewRepository interface {
	Create(ctx context.Context, review *domain.Review) error
	GetByBooking(ctx context.Context, bookingID string) (*domain.Review, error)
}

type PGReviewRepository struct {
	db *pgxpool.Pool
}

func NewReviewRepository(db *pgxpool.Pool) ReviewRepository {
	return &PGReviewRepository{db: db}
}

func (r *PGReviewRepository) Create(ctx context.Context, review *domain.Review) error {
	err := r.db.QueryRow(ctx, `INSERT INTO reviews (id, booking_id, farmer_id, owner_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		review.ID, review.BookingID, review.FarmerID, review.OwnerID, review.Rating, review.Comment,
	).Scan(&review.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyReviewed
		}
		return err
	}
	return nil
}

func (r *PGReviewRepository) GetByBooking(ctx context.Context, bookingID string) (*domain.Review, error) {
	var rv domain.Review
	err := r.db.QueryRow(ctx, `SELECT id, booking_id, farmer_id, owner_id, rating, comment, created_at
		FROM reviews WHERE booking_id=$1`, bookingID).
		Scan(&rv.ID, &rv.BookingID, &rv.FarmerID, &rv.OwnerID, &rv.Rating, &rv.Comment, &rv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("review for booking %s: %w", bookingID, domain.ErrNotFound)
		}
		return nil, err
	}
	return &rv, nil
}

var _ ReviewRepository = (*PGReviewRepository)(nil)
