package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"go.uber.org/zap"
)

// DeadLetterService records deliveries that exhausted their retry budget.
type DeadLetterService struct {
	repo   repository.DeadLetterRepository
	logger *zap.Logger
	newID  func() string
}

func NewDeadLetterService(repo repository.DeadLetterRepository, logger *zap.Logger) (*DeadLetterService, error) {
	if repo == nil {
		return nil, fmt.Errorf("dead letter repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeadLetterService{
		repo:   repo,
		logger: logger,
		newID:  uuid.NewString,
	}, nil
}

// Handle consumes the dead-letter topic. Undecodable entries are rejected to
// the parking queue by the consumer.
func (s *DeadLetterService) Handle(ctx context.Context, d queue.Delivery) error {
	var msg queue.DeadLetterMessage
	if err := queue.Decode(d.Body, &msg); err != nil {
		return err
	}

	entry := &domain.DeadLetter{
		ID:       s.newID(),
		Key:      msg.Key,
		Topic:    msg.Topic,
		Error:    msg.Error,
		Attempts: msg.Attempts,
		Payload:  msg.Payload,
		FailedAt: msg.FailedAt.UTC(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to record dead letter %q: %w", msg.Key, err)
	}

	s.logger.Error("message dead-lettered",
		zap.String("key", entry.Key),
		zap.String("topic", entry.Topic),
		zap.Int("attempts", entry.Attempts),
		zap.String("error", entry.Error),
	)
	return nil
}

func (s *DeadLetterService) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	return s.repo.List(ctx, limit)
}
