package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"go.uber.org/zap"
)

// StepProcessor executes a step on its settlement channel.
type StepProcessor interface {
	Process(ctx context.Context, batch *domain.Batch, step domain.Step) (string, error)
}

// ProcessingService consumes dispatch events and hands PENDING steps to their
// channel adapter.
type ProcessingService struct {
	tx          repository.Transactor
	idempotency *IdempotencyService
	batches     repository.BatchRepository
	steps       repository.StepRepository
	processor   StepProcessor
	logger      *zap.Logger
}

func NewProcessingService(
	tx repository.Transactor,
	idempotency *IdempotencyService,
	batches repository.BatchRepository,
	steps repository.StepRepository,
	processor StepProcessor,
	logger *zap.Logger,
) (*ProcessingService, error) {
	if tx == nil || idempotency == nil {
		return nil, fmt.Errorf("transactor and idempotency service are required")
	}
	if batches == nil || steps == nil {
		return nil, fmt.Errorf("batch and step repositories are required")
	}
	if processor == nil {
		return nil, fmt.Errorf("step processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProcessingService{
		tx:          tx,
		idempotency: idempotency,
		batches:     batches,
		steps:       steps,
		processor:   processor,
		logger:      logger,
	}, nil
}

// Handle adapts HandleDispatch to a broker delivery.
func (s *ProcessingService) Handle(ctx context.Context, d queue.Delivery) error {
	var msg queue.DispatchMessage
	if err := queue.Decode(d.Body, &msg); err != nil {
		return err
	}
	return s.HandleDispatch(ctx, d.MessageID, msg)
}

// HandleDispatch runs one dispatch event in a single transaction. The event is
// keyed by its broker message id, or by the step id when the publisher set
// none. Any error rolls the idempotency mark back with the step transition.
func (s *ProcessingService) HandleDispatch(ctx context.Context, messageID string, msg queue.DispatchMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	key := strings.TrimSpace(messageID)
	if key == "" {
		key = msg.StepID
	}
	ctx = observability.WithLogFields(ctx,
		zap.String("stepId", msg.StepID),
		zap.String("messageId", key),
	)
	log := observability.WithContextLogger(s.logger, ctx)

	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		mark, err := s.idempotency.CheckAndMark(ctx, key, domain.ConsumerGroupProcessor)
		if err != nil {
			return err
		}
		if mark == Duplicate {
			log.Info("dispatch already handled, skipping")
			return nil
		}

		step, err := s.steps.GetByID(ctx, msg.StepID)
		if err != nil {
			return fmt.Errorf("failed to load step %s: %w", msg.StepID, err)
		}
		if step.Status != domain.StepStatusPending {
			log.Info("step is not pending, skipping", zap.String("status", step.Status.String()))
			return nil
		}

		moved, err := s.steps.TransitionStatus(ctx, step.ID, []domain.StepStatus{domain.StepStatusPending}, domain.StepStatusProcessing, nil)
		if err != nil {
			return fmt.Errorf("failed to mark step %s processing: %w", step.ID, err)
		}
		if !moved {
			log.Info("step left pending concurrently, skipping")
			return nil
		}
		step.Status = domain.StepStatusProcessing

		batch, err := s.batches.GetByID(ctx, step.BatchID)
		if err != nil {
			return fmt.Errorf("failed to load batch %s: %w", step.BatchID, err)
		}

		externalID, err := s.processor.Process(ctx, batch, *step)
		if err != nil {
			return err
		}

		log.Info("step dispatched",
			zap.String("batchId", batch.ID),
			zap.String("externalId", externalID),
			zap.String("channel", step.ChannelType.String()),
		)
		return nil
	})
}
