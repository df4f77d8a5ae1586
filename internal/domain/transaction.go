package domain

import "time"

type TransactionType string

const (
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeDebit   TransactionType = "debit"
	TransactionTypeCredit  TransactionType = "credit"
	TransactionTypeRefund  TransactionType = "refund"
	TransactionTypeHold    TransactionType = "hold"
	TransactionTypeRelease TransactionType = "release"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusReleased  TransactionStatus = "released"
	TransactionStatusRefunded  TransactionStatus = "refunded"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusVerified  TransactionStatus = "verified"
)

// Transaction is an append-only ledger entry. Only pending entries advance.
type Transaction struct {
	ID        string
	Type      TransactionType
	Amount    int64
	Status    TransactionStatus
	BookingID string
	FarmerID  string
	OwnerID   string
	Reference string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Review struct {
	ID        string
	BookingID string
	FarmerID  string
	OwnerID   string
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// PaymentOutcome is what the gateway reports for an order.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "success"
	PaymentOutcomeFailure PaymentOutcome = "failure"
	PaymentOutcomePending PaymentOutcome = "pending"
)
