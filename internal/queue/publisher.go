package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

var errPublishNacked = errors.New("broker nacked publish")

// RabbitMQPublisher publishes JSON messages in confirm mode. Publish returns
// only after the broker has taken responsibility for the message.
type RabbitMQPublisher struct {
	client *RabbitMQ
	newID  func() string
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		client: client,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Publish sends msg with a fresh message id, which consumers use as the
// idempotency key of the delivery.
func (p *RabbitMQPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message for topic %q: %w", topic, err)
	}

	publishing, err := p.publishing(ctx, msg)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", topic, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish message to topic %q: %w", topic, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm publish to topic %q: %w", topic, err)
	}
	if !acked {
		return fmt.Errorf("%w: topic %q", errPublishNacked, topic)
	}

	return nil
}

func (p *RabbitMQPublisher) publishing(ctx context.Context, msg Message) (amqp.Publishing, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now().UTC(),
		MessageId:     p.newID(),
		CorrelationId: correlationID,
		Body:          payload,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
