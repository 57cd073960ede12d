package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"go.uber.org/zap"
)

// RetryPolicy bounds in-process redelivery of a failing handler.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
	}
}

// KeyFunc extracts the business key reported in dead letters.
type KeyFunc func(d Delivery) string

// RetryHandler retries a handler with exponential backoff and routes
// deliveries that still fail, or can never succeed, to the dead-letter topic.
type RetryHandler struct {
	publisher Publisher
	policy    RetryPolicy
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewRetryHandler(publisher Publisher, policy RetryPolicy, logger *zap.Logger, metrics *observability.Metrics) *RetryHandler {
	defaults := DefaultRetryPolicy()
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaults.BaseDelay
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = defaults.Multiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryHandler{
		publisher: publisher,
		policy:    policy,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Wrap decorates handler. The returned handler only fails when the
// dead-letter publish itself fails, so the broker redelivers the message.
func (r *RetryHandler) Wrap(keyOf KeyFunc, handler Handler) Handler {
	return func(ctx context.Context, d Delivery) error {
		log := r.deliveryLogger(ctx, d)

		attempts, err := r.run(ctx, d, handler, log)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("delivery interrupted: %w", err)
		}

		if errors.Is(err, domain.ErrUnsupportedChannel) {
			log.Error("channel not supported, dead-lettering", zap.Error(err))
		} else {
			log.Warn("delivery failed, dead-lettering", zap.Int("attempts", attempts), zap.Error(err))
		}

		return r.deadLetter(ctx, d, keyOf, err, attempts)
	}
}

// Backoff decorates a handler that has no dead-letter destination of its
// own. Transient failures are retried with the same policy and the last
// error is returned, so a requeue only happens after the backoff has elapsed.
// Permanent errors are returned at once.
func (r *RetryHandler) Backoff(handler Handler) Handler {
	return func(ctx context.Context, d Delivery) error {
		log := r.deliveryLogger(ctx, d)

		attempts, err := r.run(ctx, d, handler, log)
		if err != nil && ctx.Err() == nil && !isPermanent(err) {
			log.Warn("delivery failed after backoff, requeueing", zap.Int("attempts", attempts), zap.Error(err))
		}
		return err
	}
}

func (r *RetryHandler) deliveryLogger(ctx context.Context, d Delivery) *zap.Logger {
	return observability.WithContextLogger(r.logger, ctx).With(
		zap.String("topic", d.Topic),
		zap.String("messageId", d.MessageID),
	)
}

// run invokes handler until it succeeds, fails permanently, or the policy
// runs out of attempts. It reports how many attempts were made.
func (r *RetryHandler) run(ctx context.Context, d Delivery, handler Handler, log *zap.Logger) (int, error) {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := handler(ctx, d)
		if err == nil {
			return struct{}{}, nil
		}
		if isPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.metrics.IncDeliveryRetry(d.Topic)
			log.Warn("handler failed, retrying",
				zap.Int("attempt", attempts),
				zap.Duration("nextDelay", next),
				zap.Error(err),
			)
		}),
	)
	return attempts, err
}

func (r *RetryHandler) deadLetter(ctx context.Context, d Delivery, keyOf KeyFunc, cause error, attempts int) error {
	key := d.MessageID
	if keyOf != nil {
		if k := keyOf(d); k != "" {
			key = k
		}
	}

	msg := DeadLetterMessage{
		Key:      key,
		Topic:    d.Topic,
		Error:    cause.Error(),
		Attempts: attempts,
		Payload:  string(d.Body),
		FailedAt: r.now().UTC(),
	}
	if err := r.publisher.Publish(ctx, TopicDeadLetter, msg); err != nil {
		return fmt.Errorf("failed to publish dead letter for %q: %w", key, err)
	}

	r.metrics.IncDeadLetter(d.Topic)
	return nil
}

func (r *RetryHandler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.BaseDelay
	b.Multiplier = r.policy.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = r.policy.BaseDelay * time.Duration(1<<min(r.policy.MaxAttempts, 16))
	return b
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || domain.IsPermanent(err)
}

// DispatchKey reports the step id of a dispatch delivery.
func DispatchKey(d Delivery) string {
	var msg DispatchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return ""
	}
	return msg.StepID
}

// ResponseKey reports the external id of a provider response delivery.
func ResponseKey(d Delivery) string {
	var msg ResponseMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return ""
	}
	return msg.ExternalID
}
