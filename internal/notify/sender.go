package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/Domenick1991/farmrent/internal/kafka"
	"go.uber.org/zap"
)

// Sender turns notifications into user-facing messages. Delivery is a
// structured log line; Real SMS or push providers would replace Send.
type Sender struct {
	log *zap.Logger
}

func NewSender(log *zap.Logger) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{log: log.Named("notify")}
}

func (s *Sender) Send(ctx context.Context, n kafka.Notification) error {
	if n.Target == "" || n.Event == "" {
		s.log.Warn("drop notification without target or event", zap.String("event", n.Event))
		return nil
	}
	s.log.Info(Render(n),
		zap.String("target", n.Target),
		zap.String("event", n.Event),
		zap.Time("occurred_at", n.OccurredAt))
	return nil
}

// Render builds the message text. OTP codes are masked; the farmer reads the
// real code from their own channel.
func Render(n kafka.Notification) string {
	booking := n.BookingID
	if booking == "" {
		booking, _ = n.Payload["bookingId"].(string)
	}
	switch n.Event {
	case domain.EventOTPIssued:
		purpose, _ := n.Payload["purpose"].(string)
		code, _ := n.Payload["code"].(string)
		return fmt.Sprintf("%s code for booking %s: %s", purpose, booking, mask(code))
	case domain.EventBookingRequested:
		return fmt.Sprintf("New booking request %s", booking)
	case domain.EventBookingConfirmed:
		return fmt.Sprintf("Booking %s confirmed by owner", booking)
	case domain.EventBookingRejected:
		return fmt.Sprintf("Booking %s was rejected", booking)
	case domain.EventTimerStarted:
		return fmt.Sprintf("Machine arrived, timer started for booking %s", booking)
	case domain.EventTimerStopped:
		return fmt.Sprintf("Work finished for booking %s, amount due %v", booking, n.Payload["calculatedAmount"])
	case domain.EventBookingAutoCancelled:
		return fmt.Sprintf("Booking %s cancelled: machine did not arrive in time", booking)
	case domain.EventPaymentCompleted:
		return fmt.Sprintf("Payment received for booking %s", booking)
	case domain.EventPaymentFailed:
		return fmt.Sprintf("Payment failed for booking %s", booking)
	}
	return fmt.Sprintf("%s for booking %s", strings.ReplaceAll(n.Event, "_", " "), booking)
}

func mask(code string) string {
	if len(code) <= 2 {
		return strings.Repeat("*", len(code))
	}
	return strings.Repeat("*", len(code)-2) + code[len(code)-2:]
}

// LogEmitter satisfies the booking emitter with log output only. Used when no
// broker is configured.
type LogEmitter struct {
	sender *Sender
}

func NewLogEmitter(sender *Sender) *LogEmitter {
	return &LogEmitter{sender: sender}
}

func (e *LogEmitter) Emit(ctx context.Context, target, event string, payload any) error {
	m, _ := payload.(map[string]any)
	return e.sender.Send(ctx, kafka.Notification{Target: target, Event: event, Payload: m})
}
