package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = time.Minute
	defaultSchedulerScanLimit    = 100
)

// Scheduler periodically activates due deferred batches and fires the cycles
// of recurrent batches.
type Scheduler struct {
	tx          repository.Transactor
	batches     repository.BatchRepository
	steps       repository.StepRepository
	idempotency *IdempotencyService
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	limit       int
	location    *time.Location
	now         func() time.Time
	newID       func() string
}

type SchedulerOptions struct {
	Interval time.Duration
	Limit    int
	Location *time.Location
}

func NewScheduler(
	tx repository.Transactor,
	batches repository.BatchRepository,
	steps repository.StepRepository,
	idempotency *IdempotencyService,
	publisher queue.Publisher,
	opts SchedulerOptions,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*Scheduler, error) {
	if tx == nil || idempotency == nil {
		return nil, fmt.Errorf("transactor and idempotency service are required")
	}
	if batches == nil || steps == nil {
		return nil, fmt.Errorf("batch and step repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSchedulerScanInterval
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultSchedulerScanLimit
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		tx:          tx,
		batches:     batches,
		steps:       steps,
		idempotency: idempotency,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
		interval:    opts.Interval,
		limit:       opts.Limit,
		location:    opts.Location,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	now := s.now()

	if err := s.sweepDeferred(ctx, now); err != nil && ctx.Err() == nil {
		s.logger.Error("deferred batch sweep failed", zap.Error(err))
	}
	if err := s.sweepRecurrent(ctx, now); err != nil && ctx.Err() == nil {
		s.logger.Error("recurrent batch sweep failed", zap.Error(err))
	}
}

// sweepDeferred moves each due scheduled batch to PROCESSING and dispatches
// its steps. Only the instance that wins the status move publishes.
func (s *Scheduler) sweepDeferred(ctx context.Context, now time.Time) error {
	due, err := s.batches.FindDueScheduled(ctx, now.UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled batches: %w", err)
	}

	for i := range due {
		batch := due[i]
		err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			won, err := s.batches.MarkProcessing(ctx, batch.ID)
			if err != nil {
				return fmt.Errorf("failed to mark batch processing: %w", err)
			}
			if !won {
				s.logger.Info("scheduled batch activated elsewhere", zap.String("batchId", batch.ID))
				return nil
			}

			steps, err := s.steps.ListByBatch(ctx, batch.ID)
			if err != nil {
				return fmt.Errorf("failed to list steps: %w", err)
			}
			return publishSteps(ctx, s.publisher, pendingSteps(steps))
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to activate scheduled batch",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Info("scheduled batch activated",
			zap.String("batchId", batch.ID),
			zap.String("clientCode", batch.ClientCode),
		)
	}

	return nil
}

// sweepRecurrent fires the current cycle of every recurrent batch that is due,
// paging through all of them limit rows at a time. A cycle is fired at most
// once per idempotency key; periods missed while the scheduler was down are
// not replayed.
func (s *Scheduler) sweepRecurrent(ctx context.Context, now time.Time) error {
	local := now.In(s.location)

	var cursor repository.BatchCursor
	for {
		page, err := s.batches.FindRecurrent(ctx, cursor, s.limit)
		if err != nil {
			return fmt.Errorf("failed to fetch recurrent batches: %w", err)
		}

		for i := range page {
			if err := s.evaluateRecurrent(ctx, page[i], local); err != nil {
				return err
			}
		}

		if len(page) < s.limit {
			return nil
		}
		cursor = repository.CursorOf(page[len(page)-1])
	}
}

// evaluateRecurrent fires the due cycle of one recurrent batch. Only context
// cancellation is returned; per-batch failures are logged.
func (s *Scheduler) evaluateRecurrent(ctx context.Context, batch domain.Batch, local time.Time) error {
	if batch.ScheduleDate == nil || batch.Recurrency == nil {
		s.logger.Warn("recurrent batch has no template, skipping", zap.String("batchId", batch.ID))
		return nil
	}

	cycle := domain.EvaluateRecurrence(batch.ID, *batch.Recurrency, batch.ScheduleDate.In(s.location), local)
	if !cycle.Due {
		return nil
	}

	fired, err := s.fireCycle(ctx, batch, cycle.Key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error("failed to fire recurrence cycle",
			zap.String("batchId", batch.ID),
			zap.String("cycleKey", cycle.Key),
			zap.Error(err),
		)
		return nil
	}
	if fired {
		s.metrics.IncRecurrenceCycle(batch.Recurrency.String())
		s.logger.Info("recurrence cycle fired",
			zap.String("batchId", batch.ID),
			zap.String("cycleKey", cycle.Key),
		)
	}
	return nil
}

// fireCycle materialises one PENDING step per template step, tagged with the
// cycle key, and dispatches them.
func (s *Scheduler) fireCycle(ctx context.Context, batch domain.Batch, cycleKey string) (bool, error) {
	fired := false
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		mark, err := s.idempotency.CheckAndMark(ctx, cycleKey, domain.ConsumerGroupRecurrence)
		if err != nil {
			return err
		}
		if mark == Duplicate {
			return nil
		}

		templates, err := s.steps.ListTemplates(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("failed to list template steps: %w", err)
		}
		if len(templates) == 0 {
			return nil
		}

		now := s.now().UTC()
		key := cycleKey
		cycle := make([]domain.Step, 0, len(templates))
		for _, tpl := range templates {
			cycle = append(cycle, domain.Step{
				ID:          s.newID(),
				BatchID:     batch.ID,
				ChannelType: tpl.ChannelType,
				Amount:      tpl.Amount,
				Payload:     tpl.Payload,
				Status:      domain.StepStatusPending,
				CycleKey:    &key,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		if err := s.steps.CreateMany(ctx, cycle); err != nil {
			return fmt.Errorf("failed to create cycle steps: %w", err)
		}
		if err := publishSteps(ctx, s.publisher, cycle); err != nil {
			return err
		}

		fired = true
		return nil
	})
	return fired, err
}

func pendingSteps(steps []domain.Step) []domain.Step {
	out := make([]domain.Step, 0, len(steps))
	for _, step := range steps {
		if step.Status == domain.StepStatusPending {
			out = append(out, step)
		}
	}
	return out
}
