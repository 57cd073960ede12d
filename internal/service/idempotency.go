package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
)

// Mark is the outcome of an idempotency check.
type Mark int

const (
	Fresh Mark = iota + 1
	Duplicate
)

func (m Mark) String() string {
	switch m {
	case Fresh:
		return "FRESH"
	case Duplicate:
		return "DUPLICATE"
	}
	return "UNKNOWN"
}

// IdempotencyService records handled keys per consumer group. The record is
// written through the caller's transaction when ctx carries one.
type IdempotencyService struct {
	events  repository.ProcessedEventRepository
	metrics *observability.Metrics
	now     func() time.Time
}

func NewIdempotencyService(events repository.ProcessedEventRepository, metrics *observability.Metrics) (*IdempotencyService, error) {
	if events == nil {
		return nil, fmt.Errorf("processed event repository is required")
	}

	return &IdempotencyService{
		events:  events,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

func (s *IdempotencyService) CheckAndMark(ctx context.Context, key, consumerGroup string) (Mark, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}
	if strings.TrimSpace(consumerGroup) == "" {
		return 0, fmt.Errorf("%w: consumer group is required", domain.ErrValidation)
	}

	created, err := s.events.Insert(ctx, key, consumerGroup, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to record processed event %q: %w", key, err)
	}
	if !created {
		s.metrics.IncDuplicateSkipped(consumerGroup)
		return Duplicate, nil
	}
	return Fresh, nil
}
