package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"go.uber.org/zap"
)

// ReconcilerService applies settlement provider verdicts to steps and derives
// the terminal status of their batch.
type ReconcilerService struct {
	tx          repository.Transactor
	idempotency *IdempotencyService
	batches     repository.BatchRepository
	steps       repository.StepRepository
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewReconcilerService(
	tx repository.Transactor,
	idempotency *IdempotencyService,
	batches repository.BatchRepository,
	steps repository.StepRepository,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*ReconcilerService, error) {
	if tx == nil || idempotency == nil {
		return nil, fmt.Errorf("transactor and idempotency service are required")
	}
	if batches == nil || steps == nil {
		return nil, fmt.Errorf("batch and step repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReconcilerService{
		tx:          tx,
		idempotency: idempotency,
		batches:     batches,
		steps:       steps,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

func (s *ReconcilerService) ProcessPixResponse(ctx context.Context, response domain.ExternalResponse) error {
	return s.reconcile(ctx, domain.ChannelInstantTransfer, response)
}

func (s *ReconcilerService) ProcessTedResponse(ctx context.Context, response domain.ExternalResponse) error {
	return s.reconcile(ctx, domain.ChannelWireTransfer, response)
}

// Handle adapts the channel entry points to a response topic delivery.
func (s *ReconcilerService) Handle(ctx context.Context, d queue.Delivery) error {
	channel, ok := queue.ResponseChannel(d.Topic)
	if !ok {
		return fmt.Errorf("%w: no channel for topic %q", domain.ErrUnsupportedChannel, d.Topic)
	}

	var msg queue.ResponseMessage
	if err := queue.Decode(d.Body, &msg); err != nil {
		return err
	}
	response, err := msg.ToExternalResponse()
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrMalformedMessage, err)
	}

	return s.reconcile(ctx, channel, response)
}

func (s *ReconcilerService) reconcile(ctx context.Context, channel domain.ChannelType, response domain.ExternalResponse) error {
	if err := response.Validate(); err != nil {
		return err
	}

	log := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("externalId", response.ExternalID),
		zap.String("channel", channel.String()),
		zap.String("status", response.Status.String()),
	)

	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		mark, err := s.idempotency.CheckAndMark(ctx, response.ExternalID, domain.ConsumerGroupProcessor)
		if err != nil {
			return err
		}
		if mark == Duplicate {
			log.Info("response already reconciled, skipping")
			return nil
		}

		step, err := s.steps.GetByExternalID(ctx, response.ExternalID)
		if err != nil {
			return fmt.Errorf("failed to load step for externalId %q: %w", response.ExternalID, err)
		}
		if step.ChannelType != channel {
			return domain.NewProcessingError(domain.CodeInvalidPayload,
				fmt.Sprintf("externalId %q belongs to a %s step", response.ExternalID, step.ChannelType),
				false, domain.ErrValidation)
		}
		log = log.With(zap.String("stepId", step.ID), zap.String("batchId", step.BatchID))

		if step.Status.IsTerminal() {
			log.Info("step already terminal, skipping", zap.String("current", step.Status.String()))
			return nil
		}

		var failureReason *string
		if response.Status == domain.StepStatusFailed {
			failureReason = response.FailureReason
		}

		moved, err := s.steps.TransitionStatus(ctx, step.ID,
			[]domain.StepStatus{domain.StepStatusPending, domain.StepStatusProcessing},
			response.Status,
			failureReason,
		)
		if err != nil {
			return fmt.Errorf("failed to update step %s: %w", step.ID, err)
		}
		if !moved {
			log.Info("step reached a terminal status concurrently, skipping")
			return nil
		}

		s.metrics.IncResponseReconciled(channel.String(), response.Status.String())
		log.Info("step reconciled")

		return s.recompute(ctx, step.BatchID, log)
	})
}

// recompute locks the batch row and moves the batch to its terminal status
// once every step is terminal. Recurrent batches never complete.
func (s *ReconcilerService) recompute(ctx context.Context, batchID string, log *zap.Logger) error {
	batch, err := s.batches.LockByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to lock batch %s: %w", batchID, err)
	}
	if batch.Status != domain.BatchStatusProcessing {
		return nil
	}

	counts, err := s.steps.CountByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to count steps of batch %s: %w", batchID, err)
	}

	status, done := domain.CompletionStatus(counts)
	if !done {
		return nil
	}

	completed, err := s.batches.CompleteIfProcessing(ctx, batchID, status)
	if err != nil {
		return fmt.Errorf("failed to complete batch %s: %w", batchID, err)
	}
	if completed {
		s.metrics.IncBatchCompleted(status.String())
		log.Info("batch completed",
			zap.String("batchStatus", status.String()),
			zap.Int64("total", counts.Total),
			zap.Int64("succeeded", counts.Succeeded),
			zap.Int64("failed", counts.Failed),
		)
	}
	return nil
}
