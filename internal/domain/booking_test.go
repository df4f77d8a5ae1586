package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(BookingStatusRequested, BookingStatusOwnerConfirmed))
	assert.True(t, CanTransition(BookingStatusOwnerConfirmed, BookingStatusAutoCancelled))
	assert.True(t, CanTransition(BookingStatusDisputed, BookingStatusPaid))
	assert.True(t, CanTransition(BookingStatusPaid, BookingStatusDisputed))

	assert.False(t, CanTransition(BookingStatusRequested, BookingStatusCompletedPendingPayment))
	assert.False(t, CanTransition(BookingStatusCancelled, BookingStatusRequested))
	assert.False(t, CanTransition(BookingStatusAutoCancelled, BookingStatusDisputed))
}

func TestBookingStatus_Predicates(t *testing.T) {
	assert.True(t, BookingStatusInProgress.Cancellable())
	assert.True(t, BookingStatusDisputed.Cancellable())
	assert.False(t, BookingStatusPaid.Cancellable())

	assert.True(t, BookingStatusPaid.Disputable())
	assert.True(t, BookingStatusRequested.Disputable())
	assert.False(t, BookingStatusCancelled.Disputable())
	assert.False(t, BookingStatusDisputed.Disputable())
	assert.False(t, BookingStatus("unknown").Disputable())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.Equal(t, CodeInvalidState, CodeOf(ErrConflict))
	assert.Equal(t, CodeInvalidState, CodeOf(fmt.Errorf("%w: booking is paid", ErrInvalidState)))
	assert.Equal(t, CodeForbidden, CodeOf(ErrForbidden))
	assert.Equal(t, CodeOTPInvalid, CodeOf(fmt.Errorf("verify arrival: %w", ErrOTPInvalid)))
	assert.Equal(t, CodeNotFound, CodeOf(ErrNotFound))
	assert.Equal(t, CodeBadRequest, CodeOf(ErrBadRequest))
	assert.Equal(t, CodeSystem, CodeOf(errors.New("connection reset")))
}

func TestBooking_Clone(t *testing.T) {
	now := time.Now()
	amount := int64(100)
	b := Booking{
		ID:      "b1",
		Timer:   Timer{StartedAt: &now},
		Billing: Billing{CalculatedAmount: &amount},
		Dispute: &Dispute{Code: "late"},
	}

	c := b.Clone()
	*c.Timer.StartedAt = now.Add(time.Hour)
	*c.Billing.CalculatedAmount = 5
	c.Dispute.Code = "other"

	assert.Equal(t, now, *b.Timer.StartedAt)
	assert.Equal(t, int64(100), *b.Billing.CalculatedAmount)
	assert.Equal(t, "late", b.Dispute.Code)
	assert.Equal(t, "booking:b1", c.Topic())
}
