package repository

import (
	"context"
	"fmt"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepository interface {
	Create(ctx context.Context, txn *domain.Transaction) error
	// AdvancePending moves the pending payment entry for reference to status.
	AdvancePending(ctx context.Context, bookingID, reference string, status domain.TransactionStatus) (bool, error)
	ListByBooking(ctx context.Context, bookingID string) ([]domain.Transaction, error)
}

type PGTransactionRepository struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &PGTransactionRepository{db: db}
}

func (r *PGTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	return insertTransaction(ctx, r.db, txn)
}

func (r *PGTransactionRepository) AdvancePending(ctx context.Context, bookingID, reference string, status domain.TransactionStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE transactions SET status=$1, updated_at=now()
		WHERE booking_id=$2 AND type=$3 AND reference=$4 AND status=$5`,
		status, bookingID, domain.TransactionTypePayment, reference, domain.TransactionStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGTransactionRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT id, type, amount, status, booking_id, farmer_id, owner_id, reference, created_at, updated_at
		FROM transactions WHERE booking_id=$1 ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0)
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Amount, &t.Status, &t.BookingID, &t.FarmerID, &t.OwnerID, &t.Reference, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func insertTransaction(ctx context.Context, db querier, txn *domain.Transaction) error {
	if txn.Amount < 0 {
		return fmt.Errorf("%w: transaction amount must not be negative", domain.ErrBadRequest)
	}
	return db.QueryRow(ctx, `INSERT INTO transactions
		(id, type, amount, status, booking_id, farmer_id, owner_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		txn.ID, txn.Type, txn.Amount, txn.Status, txn.BookingID, txn.FarmerID, txn.OwnerID, txn.Reference,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
}

var _ TransactionRepository = (*PGTransactionRepository)(nil)
