package domain

const (
	EventBookingRequested     = "booking_requested"
	EventBookingConfirmed     = "booking_confirmed"
	EventBookingRejected      = "booking_rejected"
	EventOTPIssued            = "otp_issued"
	EventTimerStarted         = "timer_started"
	EventWorkStarted          = "work_started"
	EventTimerStopped         = "timer_stopped"
	EventBookingCancelled     = "booking_cancelled"
	EventBookingAutoCancelled = "booking_auto_cancelled"
	EventDisputeRaised        = "dispute_raised"
	EventDisputeResolved      = "dispute_resolved"
	EventPaymentInitiated     = "payment_initiated"
	EventPaymentCompleted     = "payment_completed"
	EventPaymentFailed        = "payment_failed"
)

// Event is a notification produced by a transition, addressed to user ids and
// booking topics.
type Event struct {
	Name      string
	BookingID string
	Targets   []string
	Payload   map[string]any
}

func NewEvent(name string, b Booking, payload map[string]any, targets ...string) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["bookingId"] = b.ID
	payload["status"] = string(b.Status)
	return Event{Name: name, BookingID: b.ID, Targets: targets, Payload: payload}
}
