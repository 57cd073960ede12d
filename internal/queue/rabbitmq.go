package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "disbursement.dlx"

	connectTimeout       = 15 * time.Second
	reconnectInitialWait = time.Second
	reconnectMaxWait     = 30 * time.Second
)

// RabbitMQ owns one broker connection and redials it on demand. Every topic
// is a durable queue on the default exchange; deliveries rejected without
// requeue are parked through the dead-letter exchange.
type RabbitMQ struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	declared bool
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	ch, err := r.channel(ctx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a channel on a live connection, dialing first when needed.
// Topology is declared once per connection.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(ctx); err != nil {
		return nil, err
	}

	ch, err := r.conn.Channel()
	if err != nil {
		r.resetLocked()
		if err := r.connectLocked(ctx); err != nil {
			return nil, err
		}
		if ch, err = r.conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect: %w", err)
		}
	}

	if !r.declared {
		if err := declareTopology(ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		r.declared = true
	}

	return ch, nil
}

func (r *RabbitMQ) connectLocked(ctx context.Context) error {
	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = reconnectInitialWait
	policy.MaxInterval = reconnectMaxWait

	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		return r.dial(r.url)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("rabbitmq connect canceled: %w", err)
		}
		return fmt.Errorf("failed to connect rabbitmq: %w", err)
	}

	r.conn = conn
	r.declared = false
	return nil
}

func (r *RabbitMQ) resetLocked() {
	if r.conn != nil && !r.conn.IsClosed() {
		_ = r.conn.Close()
	}
	r.conn = nil
	r.declared = false
}

// Ready reports whether a channel can be opened on the current connection.
func (r *RabbitMQ) Ready(ctx context.Context) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	return ch.Close()
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(parkingQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare parking queue %q: %w", parkingQueueName, err)
	}
	if err := ch.QueueBind(parkingQueueName, parkingQueueName, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind parking queue %q: %w", parkingQueueName, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": parkingQueueName,
	}
	for _, topic := range AllTopics() {
		if _, err := ch.QueueDeclare(topic, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", topic, err)
		}
	}

	return nil
}
