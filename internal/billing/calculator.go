package billing

import (
	"math"
	"time"

	"github.com/Domenick1991/farmrent/internal/domain"
)

const (
	// MinimumCharge applies to every successfully billed booking.
	MinimumCharge int64 = 10

	minutesPerHour = 60
	minutesPerDay  = 1440

	// products like 300*2.3 land a hair above the integer they represent
	ceilTolerance = 1e-9
)

func ValidScheme(s domain.BillingScheme) bool {
	switch s {
	case domain.BillingSchemeTime, domain.BillingSchemeArea, domain.BillingSchemeDaily:
		return true
	}
	return false
}

// Compute returns the amount owed for a finished booking. An unknown scheme
// yields 0. A nil or non-positive area counts as one unit.
func Compute(scheme domain.BillingScheme, rate int64, durationMinutes float64, area *float64) int64 {
	var amount int64
	switch scheme {
	case domain.BillingSchemeArea:
		units := 1.0
		if area != nil && *area > 0 {
			units = *area
		}
		amount = ceil(float64(rate) * units)
	case domain.BillingSchemeTime:
		minutes := wholeMinutes(durationMinutes)
		amount = ceilDiv(minutes*rate, minutesPerHour)
	case domain.BillingSchemeDaily:
		days := ceilDiv(wholeMinutes(durationMinutes), minutesPerDay)
		amount = rate * days
	default:
		return 0
	}
	if amount < MinimumCharge {
		return MinimumCharge
	}
	return amount
}

// DurationMinutes is the billable duration between start and stop, rounded up
// to whole minutes and never below one.
func DurationMinutes(start, stop time.Time) int64 {
	elapsed := stop.Sub(start)
	if elapsed <= 0 {
		return 1
	}
	minutes := ceilDiv(elapsed.Milliseconds(), time.Minute.Milliseconds())
	if minutes < 1 {
		return 1
	}
	return minutes
}

func wholeMinutes(d float64) int64 {
	if d <= 0 || math.IsNaN(d) {
		return 0
	}
	return int64(math.Ceil(d))
}

func ceil(v float64) int64 {
	return int64(math.Ceil(v - ceilTolerance))
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
