package domain

import (
	"fmt"
	"time"
)

type BookingStatus string

const (
	BookingStatusRequested               BookingStatus = "requested"
	BookingStatusOwnerConfirmed          BookingStatus = "owner_confirmed"
	BookingStatusArrived                 BookingStatus = "arrived_otp_verified"
	BookingStatusInProgress              BookingStatus = "in_progress"
	BookingStatusCompletedPendingPayment BookingStatus = "completed_pending_payment"
	BookingStatusPaid                    BookingStatus = "paid"
	BookingStatusCancelled               BookingStatus = "cancelled"
	BookingStatusAutoCancelled           BookingStatus = "auto_cancelled"
	BookingStatusDisputed                BookingStatus = "disputed"
)

// AllowedTransitions lists every status a booking may move to from a given status.
var AllowedTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusRequested:               {BookingStatusOwnerConfirmed, BookingStatusCancelled, BookingStatusDisputed},
	BookingStatusOwnerConfirmed:          {BookingStatusArrived, BookingStatusCancelled, BookingStatusAutoCancelled, BookingStatusDisputed},
	BookingStatusArrived:                 {BookingStatusInProgress, BookingStatusCompletedPendingPayment, BookingStatusCancelled, BookingStatusDisputed},
	BookingStatusInProgress:              {BookingStatusCompletedPendingPayment, BookingStatusCancelled, BookingStatusDisputed},
	BookingStatusCompletedPendingPayment: {BookingStatusPaid, BookingStatusCancelled, BookingStatusDisputed},
	BookingStatusPaid:                    {BookingStatusDisputed},
	BookingStatusDisputed:                {BookingStatusCancelled, BookingStatusPaid},
}

func CanTransition(from, to BookingStatus) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a participant may still cancel a booking in this status.
func (s BookingStatus) Cancellable() bool {
	switch s {
	case BookingStatusRequested, BookingStatusOwnerConfirmed, BookingStatusArrived,
		BookingStatusInProgress, BookingStatusCompletedPendingPayment, BookingStatusDisputed:
		return true
	}
	return false
}

func (s BookingStatus) Disputable() bool {
	switch s {
	case BookingStatusCancelled, BookingStatusAutoCancelled, BookingStatusDisputed:
		return false
	}
	return s.Valid()
}

func (s BookingStatus) Valid() bool {
	if s == BookingStatusCancelled || s == BookingStatusAutoCancelled {
		return true
	}
	_, ok := AllowedTransitions[s]
	return ok
}

type BillingScheme string

const (
	BillingSchemeTime  BillingScheme = "time"
	BillingSchemeArea  BillingScheme = "area"
	BillingSchemeDaily BillingScheme = "daily"
)

type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = ""
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type Schedule struct {
	RequestedStart  time.Time
	ArrivalDeadline *time.Time
}

// OTPState keeps only the expiry of the codes handed to the farmer. The codes
// themselves are held by the OTP authority.
type OTPState struct {
	ArrivalExpiresAt    *time.Time
	CompletionExpiresAt *time.Time
}

type Timer struct {
	StartedAt       *time.Time
	StoppedAt       *time.Time
	DurationMinutes int64
}

type Billing struct {
	Scheme           BillingScheme
	Rate             int64
	Unit             string
	Area             *float64
	CalculatedAmount *int64
	PaidAmount       *int64
}

type Payment struct {
	OrderRef       string
	TransactionRef string
	Status         PaymentStatus
	PaidAt         *time.Time
}

type Dispute struct {
	Code           string
	Description    string
	RaisedBy       string
	RaisedAt       time.Time
	PreviousStatus BookingStatus
	Resolution     string
	RefundAmount   int64
	ResolvedAt     *time.Time
}

type Booking struct {
	ID           string
	FarmerID     string
	OwnerID      string
	MachineID    string
	Status       BookingStatus
	Version      int64
	Schedule     Schedule
	OTP          OTPState
	Timer        Timer
	Billing      Billing
	Payment      Payment
	Dispute      *Dispute
	CancelReason string
	CancelledAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a copy that shares no pointers with b.
func (b Booking) Clone() Booking {
	out := b
	out.Schedule.ArrivalDeadline = cloneTime(b.Schedule.ArrivalDeadline)
	out.OTP.ArrivalExpiresAt = cloneTime(b.OTP.ArrivalExpiresAt)
	out.OTP.CompletionExpiresAt = cloneTime(b.OTP.CompletionExpiresAt)
	out.Timer.StartedAt = cloneTime(b.Timer.StartedAt)
	out.Timer.StoppedAt = cloneTime(b.Timer.StoppedAt)
	if b.Billing.Area != nil {
		v := *b.Billing.Area
		out.Billing.Area = &v
	}
	if b.Billing.CalculatedAmount != nil {
		v := *b.Billing.CalculatedAmount
		out.Billing.CalculatedAmount = &v
	}
	if b.Billing.PaidAmount != nil {
		v := *b.Billing.PaidAmount
		out.Billing.PaidAmount = &v
	}
	out.Payment.PaidAt = cloneTime(b.Payment.PaidAt)
	if b.Dispute != nil {
		d := *b.Dispute
		d.ResolvedAt = cloneTime(b.Dispute.ResolvedAt)
		out.Dispute = &d
	}
	out.CancelledAt = cloneTime(b.CancelledAt)
	return out
}

// Topic is the real-time channel every party watching the booking subscribes to.
func (b Booking) Topic() string {
	return BookingTopic(b.ID)
}

func BookingTopic(id string) string {
	return fmt.Sprintf("booking:%s", id)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
