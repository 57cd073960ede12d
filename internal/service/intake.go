package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"go.uber.org/zap"
)

const maxDisbursementsPerBatch = 1000

// CreateBatchRequest is the intake command for a new disbursement batch.
type CreateBatchRequest struct {
	ClientCode    string
	ScheduleType  domain.ScheduleType
	ScheduleDate  *time.Time
	Recurrency    *domain.Recurrency
	Disbursements []DisbursementRequest
}

// DisbursementRequest is one transfer of a batch on a single channel.
type DisbursementRequest struct {
	ChannelType domain.ChannelType
	Request     domain.StepRequest
}

type IntakeService struct {
	tx        repository.Transactor
	batches   repository.BatchRepository
	steps     repository.StepRepository
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewIntakeService(
	tx repository.Transactor,
	batches repository.BatchRepository,
	steps repository.StepRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*IntakeService, error) {
	if tx == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if batches == nil || steps == nil {
		return nil, fmt.Errorf("batch and step repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IntakeService{
		tx:        tx,
		batches:   batches,
		steps:     steps,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Create validates and persists a batch with its steps in one transaction.
// Immediate batches are dispatched before the transaction commits, so a
// failed publish leaves nothing behind.
func (s *IntakeService) Create(ctx context.Context, req CreateBatchRequest) (*domain.Batch, error) {
	if len(req.Disbursements) > maxDisbursementsPerBatch {
		return nil, fmt.Errorf("%w: at most %d disbursements are allowed per batch", domain.ErrValidation, maxDisbursementsPerBatch)
	}

	batch, err := s.buildBatch(req)
	if err != nil {
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	active, err := s.batches.ExistsActiveByClientCode(ctx, batch.ClientCode)
	if err != nil {
		return nil, fmt.Errorf("failed to check active batches: %w", err)
	}
	if active {
		return nil, fmt.Errorf("%w: an active batch already exists for clientCode %q", domain.ErrConflict, batch.ClientCode)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.batches.Create(ctx, batch); err != nil {
			return err
		}
		if err := s.steps.CreateMany(ctx, batch.Steps); err != nil {
			return fmt.Errorf("failed to create steps: %w", err)
		}
		if batch.ScheduleType != domain.ScheduleImmediate {
			return nil
		}
		return publishSteps(ctx, s.publisher, batch.Steps)
	})
	if err != nil {
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("disbursement batch created",
		zap.String("batchId", batch.ID),
		zap.String("clientCode", batch.ClientCode),
		zap.String("scheduleType", batch.ScheduleType.String()),
		zap.String("status", batch.Status.String()),
		zap.Int("steps", len(batch.Steps)),
	)

	return batch, nil
}

// GetStatus returns the most recent batch of clientCode with all its steps.
func (s *IntakeService) GetStatus(ctx context.Context, clientCode string) (*domain.Batch, error) {
	clientCode = strings.TrimSpace(clientCode)
	if clientCode == "" {
		return nil, fmt.Errorf("%w: clientCode is required", domain.ErrValidation)
	}

	batch, err := s.batches.FindLatestByClientCode(ctx, clientCode)
	if err != nil {
		return nil, err
	}

	steps, err := s.steps.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	batch.Steps = steps

	return batch, nil
}

func (s *IntakeService) buildBatch(req CreateBatchRequest) (*domain.Batch, error) {
	now := s.now().UTC()
	batch := &domain.Batch{
		ID:           s.newID(),
		ClientCode:   strings.TrimSpace(req.ClientCode),
		ScheduleType: req.ScheduleType,
		ScheduleDate: req.ScheduleDate,
		Recurrency:   req.Recurrency,
		Status:       req.ScheduleType.InitialStatus(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	batch.Steps = make([]domain.Step, 0, len(req.Disbursements))
	for i, d := range req.Disbursements {
		payload, err := d.Request.Encode()
		if err != nil {
			return nil, fmt.Errorf("disbursement %d: %w", i, err)
		}
		batch.Steps = append(batch.Steps, domain.Step{
			ID:          s.newID(),
			BatchID:     batch.ID,
			ChannelType: d.ChannelType,
			Amount:      d.Request.Amount,
			Payload:     payload,
			Status:      domain.StepStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	return batch, nil
}
