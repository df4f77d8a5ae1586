package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrForbidden    = errors.New("action not allowed for this actor")
	ErrOTPInvalid   = errors.New("otp invalid")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")

	// ErrConflict is returned when a booking changed between read and write.
	ErrConflict = fmt.Errorf("%w: booking was modified concurrently", ErrInvalidState)

	ErrAlreadyReviewed = fmt.Errorf("%w: booking already reviewed", ErrInvalidState)
	ErrPaymentPending  = fmt.Errorf("%w: payment not settled yet", ErrInvalidState)
	ErrPaymentFailed   = errors.New("payment failed")
)

type ErrorCode string

const (
	CodeInvalidState  ErrorCode = "INVALID_STATE"
	CodeForbidden     ErrorCode = "FORBIDDEN"
	CodeOTPInvalid    ErrorCode = "OTP_INVALID"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeBadRequest    ErrorCode = "BAD_REQUEST"
	CodePaymentFailed ErrorCode = "PAYMENT_FAILED"
	CodeSystem        ErrorCode = "SYSTEM"
)

// CodeOf maps an error to the public error taxonomy. Anything unrecognised is SYSTEM.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrOTPInvalid):
		return CodeOTPInvalid
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrPaymentFailed):
		return CodePaymentFailed
	default:
		return CodeSystem
	}
}
