package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	// Update writes booking if the stored version still equals expectedVersion.
	Update(ctx context.Context, booking *domain.Booking, expectedVersion int64) error
	ListByParticipant(ctx context.Context, userID string) ([]domain.Booking, error)
	ListAwaitingArrivalBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error)
	FinalizePayment(ctx context.Context, s Settlement) (bool, error)
	ResolveDispute(ctx context.Context, booking *domain.Booking, expectedVersion int64, refund *domain.Transaction) error
}

// Settlement is everything a successful payment changes, applied in one
// database transaction.
type Settlement struct {
	Booking          *domain.Booking
	ExpectedVersion  int64
	Release          domain.Transaction
	OwnerTrustDelta  int
	FarmerTrustDelta int
}

const bookingColumns = `id, farmer_id, owner_id, machine_id, status, version,
	requested_start, arrival_deadline, arrival_otp_expires_at, completion_otp_expires_at,
	timer_started_at, timer_stopped_at, duration_minutes,
	billing_scheme, billing_rate, billing_unit, billing_area, calculated_amount, paid_amount,
	payment_order_ref, payment_transaction_ref, payment_status, paid_at,
	dispute_code, dispute_description, dispute_raised_by, dispute_raised_at, dispute_previous_status,
	dispute_resolution, dispute_refund_amount, dispute_resolved_at,
	cancel_reason, cancelled_at, created_at, updated_at`

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	booking.Version = 1
	return r.db.QueryRow(ctx, `INSERT INTO bookings
		(id, farmer_id, owner_id, machine_id, status, version, requested_start,
		 billing_scheme, billing_rate, billing_unit, billing_area)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		booking.ID, booking.FarmerID, booking.OwnerID, booking.MachineID, booking.Status, booking.Version,
		booking.Schedule.RequestedStart, booking.Billing.Scheme, booking.Billing.Rate, booking.Billing.Unit,
		booking.Billing.Area,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return b, nil
}

func (r *PGBookingRepository) Update(ctx context.Context, booking *domain.Booking, expectedVersion int64) error {
	return updateBooking(ctx, r.db, booking, expectedVersion)
}

func (r *PGBookingRepository) ListByParticipant(ctx context.Context, userID string) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE farmer_id=$1 OR owner_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PGBookingRepository) ListAwaitingArrivalBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status=$1 AND arrival_deadline < $2 ORDER BY arrival_deadline`,
		domain.BookingStatusOwnerConfirmed, deadline)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// FinalizePayment reports whether the release entry was written by this call.
// A repeated call for the same booking leaves trust scores untouched.
func (r *PGBookingRepository) FinalizePayment(ctx context.Context, s Settlement) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if err := updateBooking(ctx, tx, s.Booking, s.ExpectedVersion); err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions SET status=$1, updated_at=now()
		WHERE booking_id=$2 AND type=$3 AND reference=$4 AND status=$5`,
		domain.TransactionStatusCompleted, s.Booking.ID, domain.TransactionTypePayment,
		s.Booking.Payment.TransactionRef, domain.TransactionStatusPending); err != nil {
		return false, fmt.Errorf("complete payment entry: %w", err)
	}

	tag, err := tx.Exec(ctx, `INSERT INTO transactions
		(id, type, amount, status, booking_id, farmer_id, owner_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (booking_id) WHERE type = 'release' DO NOTHING`,
		s.Release.ID, s.Release.Type, s.Release.Amount, s.Release.Status, s.Release.BookingID,
		s.Release.FarmerID, s.Release.OwnerID, s.Release.Reference)
	if err != nil {
		return false, fmt.Errorf("insert release entry: %w", err)
	}
	applied := tag.RowsAffected() == 1

	if applied {
		if err := adjustTrust(ctx, tx, s.Booking.OwnerID, s.OwnerTrustDelta); err != nil {
			return false, err
		}
		if err := adjustTrust(ctx, tx, s.Booking.FarmerID, s.FarmerTrustDelta); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return applied, nil
}

func (r *PGBookingRepository) ResolveDispute(ctx context.Context, booking *domain.Booking, expectedVersion int64, refund *domain.Transaction) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateBooking(ctx, tx, booking, expectedVersion); err != nil {
		return err
	}
	if refund != nil {
		if err := insertTransaction(ctx, tx, refund); err != nil {
			return fmt.Errorf("insert refund entry: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func updateBooking(ctx context.Context, db querier, b *domain.Booking, expectedVersion int64) error {
	var (
		disputeCode, disputeDesc, disputeBy, disputePrev, disputeResolution *string
		disputeRaisedAt, disputeResolvedAt                                  *time.Time
		disputeRefund                                                       *int64
	)
	if d := b.Dispute; d != nil {
		disputeCode, disputeDesc, disputeBy = &d.Code, &d.Description, &d.RaisedBy
		prev := string(d.PreviousStatus)
		disputePrev = &prev
		disputeResolution = &d.Resolution
		disputeRaisedAt = &d.RaisedAt
		disputeResolvedAt = d.ResolvedAt
		disputeRefund = &d.RefundAmount
	}

	var updatedAt time.Time
	err := db.QueryRow(ctx, `UPDATE bookings SET
		status=$3, version=version+1,
		arrival_deadline=$4, arrival_otp_expires_at=$5, completion_otp_expires_at=$6,
		timer_started_at=$7, timer_stopped_at=$8, duration_minutes=$9,
		billing_area=$10, calculated_amount=$11, paid_amount=$12,
		payment_order_ref=$13, payment_transaction_ref=$14, payment_status=$15, paid_at=$16,
		dispute_code=$17, dispute_description=$18, dispute_raised_by=$19, dispute_raised_at=$20,
		dispute_previous_status=$21, dispute_resolution=$22, dispute_refund_amount=$23, dispute_resolved_at=$24,
		cancel_reason=$25, cancelled_at=$26, updated_at=now()
		WHERE id=$1 AND version=$2
		RETURNING updated_at`,
		b.ID, expectedVersion,
		b.Status,
		b.Schedule.ArrivalDeadline, b.OTP.ArrivalExpiresAt, b.OTP.CompletionExpiresAt,
		b.Timer.StartedAt, b.Timer.StoppedAt, b.Timer.DurationMinutes,
		b.Billing.Area, b.Billing.CalculatedAmount, b.Billing.PaidAmount,
		b.Payment.OrderRef, b.Payment.TransactionRef, b.Payment.Status, b.Payment.PaidAt,
		disputeCode, disputeDesc, disputeBy, disputeRaisedAt,
		disputePrev, disputeResolution, disputeRefund, disputeResolvedAt,
		b.CancelReason, b.CancelledAt,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrConflict
		}
		return err
	}
	b.Version = expectedVersion + 1
	b.UpdatedAt = updatedAt
	return nil
}

func adjustTrust(ctx context.Context, db querier, userID string, delta int) error {
	if delta == 0 || userID == "" {
		return nil
	}
	_, err := db.Exec(ctx, `INSERT INTO users (id, trust_score)
		VALUES ($1, LEAST(100, GREATEST(0, 50 + $2)))
		ON CONFLICT (id) DO UPDATE
		SET trust_score = LEAST(100, GREATEST(0, users.trust_score + $2)), updated_at = now()`,
		userID, delta)
	if err != nil {
		return fmt.Errorf("adjust trust score for %s: %w", userID, err)
	}
	return nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b                                                                   domain.Booking
		paymentStatus                                                       string
		disputeCode, disputeDesc, disputeBy, disputePrev, disputeResolution *string
		disputeRaisedAt, disputeResolvedAt                                  *time.Time
		disputeRefund                                                       *int64
	)
	err := row.Scan(
		&b.ID, &b.FarmerID, &b.OwnerID, &b.MachineID, &b.Status, &b.Version,
		&b.Schedule.RequestedStart, &b.Schedule.ArrivalDeadline, &b.OTP.ArrivalExpiresAt, &b.OTP.CompletionExpiresAt,
		&b.Timer.StartedAt, &b.Timer.StoppedAt, &b.Timer.DurationMinutes,
		&b.Billing.Scheme, &b.Billing.Rate, &b.Billing.Unit, &b.Billing.Area, &b.Billing.CalculatedAmount, &b.Billing.PaidAmount,
		&b.Payment.OrderRef, &b.Payment.TransactionRef, &paymentStatus, &b.Payment.PaidAt,
		&disputeCode, &disputeDesc, &disputeBy, &disputeRaisedAt, &disputePrev,
		&disputeResolution, &disputeRefund, &disputeResolvedAt,
		&b.CancelReason, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Payment.Status = domain.PaymentStatus(paymentStatus)
	if disputeCode != nil {
		d := &domain.Dispute{
			Code:       *disputeCode,
			ResolvedAt: disputeResolvedAt,
		}
		if disputeDesc != nil {
			d.Description = *disputeDesc
		}
		if disputeBy != nil {
			d.RaisedBy = *disputeBy
		}
		if disputeRaisedAt != nil {
			d.RaisedAt = *disputeRaisedAt
		}
		if disputePrev != nil {
			d.PreviousStatus = domain.BookingStatus(*disputePrev)
		}
		if disputeResolution != nil {
			d.Resolution = *disputeResolution
		}
		if disputeRefund != nil {
			d.RefundAmount = *disputeRefund
		}
		b.Dispute = d
	}
	return &b, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
