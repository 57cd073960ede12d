package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// DeliveryHandler handles a single broker delivery.
type DeliveryHandler interface {
	Handle(ctx context.Context, d queue.Delivery) error
}

// WorkerService runs the broker consumers of a worker process.
type WorkerService struct {
	consumer    queue.Consumer
	retry       *queue.RetryHandler
	dispatch    DeliveryHandler
	responses   DeliveryHandler
	deadLetters DeliveryHandler
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewWorkerService(
	consumer queue.Consumer,
	retry *queue.RetryHandler,
	dispatch DeliveryHandler,
	responses DeliveryHandler,
	deadLetters DeliveryHandler,
	concurrency int,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if retry == nil {
		return nil, fmt.Errorf("retry handler is required")
	}
	if dispatch == nil || responses == nil || deadLetters == nil {
		return nil, fmt.Errorf("dispatch, response and dead letter handlers are required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		retry:       retry,
		dispatch:    dispatch,
		responses:   responses,
		deadLetters: deadLetters,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

type subscription struct {
	topic   string
	handler queue.Handler
}

// subscriptions spreads the configured concurrency over the request and
// response topics, giving every topic at least one consumer, and adds a single
// dead-letter consumer whose store failures back off before requeueing.
func (s *WorkerService) subscriptions() []subscription {
	work := make([]subscription, 0, len(queue.RequestTopics())+len(queue.ResponseTopics()))
	for _, topic := range queue.RequestTopics() {
		work = append(work, subscription{topic: topic, handler: s.retry.Wrap(queue.DispatchKey, s.dispatch.Handle)})
	}
	for _, topic := range queue.ResponseTopics() {
		work = append(work, subscription{topic: topic, handler: s.retry.Wrap(queue.ResponseKey, s.responses.Handle)})
	}

	workers := max(s.concurrency, len(work))
	subs := make([]subscription, 0, workers+1)
	for i := 0; i < workers; i++ {
		subs = append(subs, work[i%len(work)])
	}
	return append(subs, subscription{topic: queue.TopicDeadLetter, handler: s.retry.Backoff(s.deadLetters.Handle)})
}

// Start consumes every topic until ctx is canceled.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i, sub := range s.subscriptions() {
		workerID := i + 1
		topic := sub.topic
		handler := s.track(topic, sub.handler)

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("topic", topic),
			)

			if err := s.consumer.Consume(groupCtx, topic, handler); err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("topic", topic),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("topic", topic),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) track(topic string, handler queue.Handler) queue.Handler {
	return func(ctx context.Context, d queue.Delivery) error {
		s.metrics.IncDeliveryInFlight(topic)
		defer s.metrics.DecDeliveryInFlight(topic)
		return handler(ctx, d)
	}
}
