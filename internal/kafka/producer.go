package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notification is the envelope written to the notifications topic. Target is a
// user id or a booking topic ("booking:<id>").
type Notification struct {
	Target     string         `json:"target"`
	Event      string         `json:"event"`
	BookingID  string         `json:"booking_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	brokers []string
	topic   string
	writer  messageWriter
	log     *zap.Logger
	now     func() time.Time
	retries int
}

type ProducerOption func(*Producer)

// WithRetries makes Emit try up to n times before giving up.
func WithRetries(n int) ProducerOption {
	return func(p *Producer) {
		if n > 0 {
			p.retries = n
		}
	}
}

func NewProducer(brokers []string, topic string, log *zap.Logger, opts ...ProducerOption) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newProducer(brokers, topic, writer, log, opts...)
}

func newProducer(brokers []string, topic string, writer messageWriter, log *zap.Logger, opts ...ProducerOption) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Producer{
		brokers: brokers,
		topic:   topic,
		writer:  writer,
		log:     log.Named("kafka.producer"),
		now:     time.Now,
		retries: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit publishes one notification keyed by target, so every event for one
// recipient lands on the same partition in order.
func (p *Producer) Emit(ctx context.Context, target, event string, payload any) error {
	n := NewNotification(target, event, payload, p.now())
	if p.retries > 1 {
		return p.PublishWithRetry(ctx, p.topic, target, n, p.retries)
	}
	return p.Publish(ctx, p.topic, target, n)
}

func NewNotification(target, event string, payload any, at time.Time) Notification {
	n := Notification{Target: target, Event: event, OccurredAt: at.UTC()}
	switch v := payload.(type) {
	case nil:
	case map[string]any:
		n.Payload = v
		n.BookingID, _ = v["bookingId"].(string)
	default:
		n.Payload = map[string]any{"data": v}
	}
	return n
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  p.now(),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.log.Debug("published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

func (p *Producer) PublishWithRetry(ctx context.Context, topic, key string, payload interface{}, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := p.Publish(ctx, topic, key, payload)
		if err == nil {
			return nil
		}

		lastErr = err
		p.log.Warn("publish attempt failed", zap.Int("attempt", i+1), zap.Error(err))

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// CheckConnection dials the first broker and reads its partition list.
func (p *Producer) CheckConnection(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("failed to read partitions: %w", err)
	}

	p.log.Debug("connected to kafka", zap.Int("partitions", len(partitions)))
	return nil
}
