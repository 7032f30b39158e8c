package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageProducer is satisfied by client.KafkaProducer.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// DeliveryRequest is the payload consumed by the SMS gateway worker.
type DeliveryRequest struct {
	RequestID   string    `json:"request_id"`
	Phone       string    `json:"phone"`
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// KafkaNotifier publishes a delivery request keyed by phone, so every request
// for one phone lands on the same partition in order.
type KafkaNotifier struct {
	producer MessageProducer
	topic    string
	validFor time.Duration
	now      func() time.Time
}

func NewKafkaNotifier(producer MessageProducer, topic string, validFor time.Duration) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		validFor: validFor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (n *KafkaNotifier) Deliver(ctx context.Context, phone, code string) error {
	req := DeliveryRequest{
		RequestID:   uuid.NewString(),
		Phone:       phone,
		Message:     MessageText(code, n.validFor),
		RequestedAt: n.now(),
	}

	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode delivery request: %w", err)
	}

	headers := map[string]string{
		"content-type": "application/json",
		"kind":         "otp",
	}
	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(phone), value, headers); err != nil {
		return fmt.Errorf("failed to publish delivery request: %w", err)
	}
	return nil
}
