package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// settlement is how a consumed delivery is finished on the broker.
type settlement int

const (
	settleAck settlement = iota + 1
	settleReject
	settleRequeue
)

// settlementFor maps a handler result onto a broker action. Malformed
// messages are rejected into the parking queue; every other failure is
// requeued.
func settlementFor(err error) settlement {
	switch {
	case err == nil:
		return settleAck
	case errors.Is(err, ErrMalformedMessage):
		return settleReject
	default:
		return settleRequeue
	}
}

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume handles deliveries from topic until ctx is canceled, resubscribing
// with exponential backoff when the broker channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, topic string, handler Handler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = reconnectInitialWait
	wait.MaxInterval = reconnectMaxWait

	for {
		err := c.consumeOnce(ctx, topic, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait.Reset()
			continue
		}

		delay := wait.NextBackOff()
		c.logger.Warn("consumer disconnected, resubscribing",
			zap.String("topic", topic),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, topic string, handler Handler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, topic, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume topic %q: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, topic, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, topic string, d amqp.Delivery, handler Handler) error {
	deliveryCtx, correlationID := observability.EnsureCorrelationID(ctx, d.CorrelationId)
	log := c.logger.With(
		zap.String("topic", topic),
		zap.String("messageId", d.MessageId),
		zap.String("correlationId", correlationID),
	)

	err := handler(deliveryCtx, Delivery{
		MessageID:     d.MessageId,
		CorrelationID: correlationID,
		Topic:         topic,
		Body:          d.Body,
		Redelivered:   d.Redelivered,
	})

	switch settlementFor(err) {
	case settleAck:
		if ackErr := d.Ack(false); ackErr != nil {
			return fmt.Errorf("failed to ack delivery: %w", ackErr)
		}
	case settleReject:
		log.Warn("parking malformed message", zap.Error(err))
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject malformed message: %w", rejectErr)
		}
	default:
		log.Warn("handler failed, requeueing message", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
	}

	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
