package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/farmrent/internal/billing"
	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/otp"
)

// The functions below are the pure transition rules. Each takes the current
// booking by value and returns the next booking plus the events it produces.
// Guards run before anything that consumes a one-time code.

func invalidState(b domain.Booking, action string) error {
	return fmt.Errorf("%w: cannot %s booking in status %s", domain.ErrInvalidState, action, b.Status)
}

func forbidden(action string) error {
	return fmt.Errorf("%w: %s", domain.ErrForbidden, action)
}

func confirm(b domain.Booking, actor domain.Actor, now time.Time, arrivalWindow time.Duration) (domain.Booking, []domain.Event, error) {
	if b.Status != domain.BookingStatusRequested {
		return b, nil, invalidState(b, "confirm")
	}
	if !actor.IsOwnerOf(b) {
		return b, nil, forbidden("only the machine owner can confirm")
	}

	next := b.Clone()
	deadline := now.Add(arrivalWindow)
	next.Status = domain.BookingStatusOwnerConfirmed
	next.Schedule.ArrivalDeadline = &deadline

	ev := domain.NewEvent(domain.EventBookingConfirmed, next, map[string]any{
		"arrivalDeadline": deadline,
	}, next.FarmerID, next.Topic())
	return next, []domain.Event{ev}, nil
}

func reject(b domain.Booking, actor domain.Actor, reason string, now time.Time) (domain.Booking, []domain.Event, error) {
	if b.Status != domain.BookingStatusRequested {
		return b, nil, invalidState(b, "reject")
	}
	if !actor.IsOwnerOf(b) {
		return b, nil, forbidden("only the machine owner can reject")
	}

	next := b.Clone()
	next.Status = domain.BookingStatusCancelled
	next.CancelReason = strings.TrimSpace(reason)
	next.CancelledAt = &now

	ev := domain.NewEvent(domain.EventBookingRejected, next, map[string]any{
		"reason": next.CancelReason,
	}, next.FarmerID, next.Topic())
	return next, []domain.Event{ev}, nil
}

func guardArrival(b domain.Booking, actor domain.Actor, now time.Time) error {
	if b.Status != domain.BookingStatusOwnerConfirmed {
		return invalidState(b, "verify arrival for")
	}
	if !actor.IsPartyTo(b) {
		return forbidden("only booking parties can verify arrival")
	}
	if b.Schedule.ArrivalDeadline != nil && now.After(*b.Schedule.ArrivalDeadline) {
		return fmt.Errorf("%w: arrival deadline passed", domain.ErrInvalidState)
	}
	if b.Timer.StartedAt != nil {
		return fmt.Errorf("%w: timer already started", domain.ErrInvalidState)
	}
	return nil
}

func arrive(b domain.Booking, now time.Time) (domain.Booking, []domain.Event) {
	next := b.Clone()
	next.Status = domain.BookingStatusArrived
	next.Timer.StartedAt = &now
	next.OTP.ArrivalExpiresAt = nil

	ev := domain.NewEvent(domain.EventTimerStarted, next, map[string]any{
		"startedAt": now,
	}, next.FarmerID, next.OwnerID, next.Topic())
	return next, []domain.Event{ev}
}

func startWork(b domain.Booking, actor domain.Actor) (domain.Booking, []domain.Event, error) {
	if b.Status != domain.BookingStatusArrived {
		return b, nil, invalidState(b, "start work on")
	}
	if !actor.IsPartyTo(b) {
		return b, nil, forbidden("only booking parties can start work")
	}

	next := b.Clone()
	next.Status = domain.BookingStatusInProgress
	ev := domain.NewEvent(domain.EventWorkStarted, next, nil, next.FarmerID, next.OwnerID, next.Topic())
	return next, []domain.Event{ev}, nil
}

func guardCompletion(b domain.Booking, actor domain.Actor) error {
	if b.Status != domain.BookingStatusArrived && b.Status != domain.BookingStatusInProgress {
		return invalidState(b, "verify completion for")
	}
	if b.Timer.StartedAt == nil {
		return fmt.Errorf("%w: timer not started", domain.ErrInvalidState)
	}
	if !actor.IsFarmerOf(b) {
		return forbidden("only the farmer can verify completion")
	}
	return nil
}

func complete(b domain.Booking, now time.Time) (domain.Booking, []domain.Event) {
	next := b.Clone()
	stop := now
	duration := billing.DurationMinutes(*next.Timer.StartedAt, stop)

	next.Status = domain.BookingStatusCompletedPendingPayment
	next.Timer.StoppedAt = &stop
	next.Timer.DurationMinutes = duration
	next.OTP.CompletionExpiresAt = nil
	if next.Billing.CalculatedAmount == nil {
		amount := billing.Compute(next.Billing.Scheme, next.Billing.Rate, float64(duration), next.Billing.Area)
		next.Billing.CalculatedAmount = &amount
	}

	ev := domain.NewEvent(domain.EventTimerStopped, next, map[string]any{
		"stoppedAt":        stop,
		"durationMinutes":  duration,
		"calculatedAmount": *next.Billing.CalculatedAmount,
	}, next.FarmerID, next.OwnerID, next.Topic())
	return next, []domain.Event{ev}
}

func cancel(b domain.Booking, actor domain.Actor, reason string, now time.Time) (domain.Booking, []domain.Event, error) {
	if !b.Status.Cancellable() {
		return b, nil, invalidState(b, "cancel")
	}
	if !actor.IsPartyTo(b) && !actor.IsAdmin() {
		return b, nil, forbidden("only booking parties can cancel")
	}

	next := b.Clone()
	next.Status = domain.BookingStatusCancelled
	next.CancelReason = strings.TrimSpace(reason)
	next.CancelledAt = &now

	ev := domain.NewEvent(domain.EventBookingCancelled, next, map[string]any{
		"cancelledBy": actor.ID,
		"reason":      next.CancelReason,
	}, next.FarmerID, next.OwnerID, next.Topic())
	return next, []domain.Event{ev}, nil
}

func autoCancel(b domain.Booking, now time.Time) (domain.Booking, []domain.Event, error) {
	if b.Status != domain.BookingStatusOwnerConfirmed {
		return b, nil, invalidState(b, "auto-cancel")
	}
	if b.Schedule.ArrivalDeadline == nil || !now.After(*b.Schedule.ArrivalDeadline) {
		return b, nil, fmt.Errorf("%w: arrival deadline not reached", domain.ErrInvalidState)
	}

	next := b.Clone()
	next.Status = domain.BookingStatusAutoCancelled
	next.CancelReason = "arrival deadline passed"
	next.CancelledAt = &now
	next.OTP.ArrivalExpiresAt = nil

	ev := domain.NewEvent(domain.EventBookingAutoCancelled, next, map[string]any{
		"arrivalDeadline": *b.Schedule.ArrivalDeadline,
	}, next.FarmerID, next.OwnerID, next.Topic())
	return next, []domain.Event{ev}, nil
}

func raiseDispute(b domain.Booking, actor domain.Actor, code, description string, now time.Time) (domain.Booking, []domain.Event, error) {
	if !b.Status.Disputable() {
		return b, nil, invalidState(b, "dispute")
	}
	if !actor.IsPartyTo(b) {
		return b, nil, forbidden("only booking parties can raise a dispute")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return b, nil, fmt.Errorf("%w: dispute code is required", domain.ErrBadRequest)
	}

	next := b.Clone()
	next.Status = domain.BookingStatusDisputed
	next.Dispute = &domain.Dispute{
		Code:           code,
		Description:    strings.TrimSpace(description),
		RaisedBy:       actor.ID,
		RaisedAt:       now,
		PreviousStatus: b.Status,
	}

	ev := domain.NewEvent(domain.EventDisputeRaised, next, map[string]any{
		"code":     code,
		"raisedBy": actor.ID,
	}, next.FarmerID, next.OwnerID, next.Topic())
	return next, []domain.Event{ev}, nil
}

// otpStage reports which code the booking is currently waiting for.
func otpStage(b domain.Booking) (otp.Purpose, bool) {
	switch b.Status {
	case domain.BookingStatusOwnerConfirmed:
		return otp.PurposeArrival, true
	case domain.BookingStatusArrived, domain.BookingStatusInProgress:
		return otp.PurposeCompletion, true
	}
	return "", false
}
