package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type published struct {
	topic string
	msg   queue.Message
}

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, topic string, msg queue.Message) error
	messages  []published
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, msg queue.Message) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, topic, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, msg: msg})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) dispatched() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

// fakeProcessor stands in for the channel registry: it binds an external id
// the way an adapter does.
type fakeProcessor struct {
	steps     repository.StepRepository
	processFn func(ctx context.Context, batch *domain.Batch, step domain.Step) (string, error)
	calls     int
}

func (f *fakeProcessor) Process(ctx context.Context, batch *domain.Batch, step domain.Step) (string, error) {
	f.calls++
	if f.processFn != nil {
		return f.processFn(ctx, batch, step)
	}
	externalID := "ext-" + step.ID
	if err := f.steps.SetExternalID(ctx, step.ID, externalID); err != nil {
		return "", err
	}
	return externalID, nil
}

type harness struct {
	db          *gorm.DB
	tx          *repository.GormTransactor
	batches     *repository.GormBatchRepo
	steps       *repository.GormStepRepo
	events      *repository.GormProcessedEventRepo
	deadLetters *repository.GormDeadLetterRepo
	idempotency *IdempotencyService
	publisher   *fakePublisher
	metrics     *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "service.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := migrations.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	events := repository.NewGormProcessedEventRepo(db)
	metrics := observability.NewMetrics()
	idempotency, err := NewIdempotencyService(events, metrics)
	if err != nil {
		t.Fatalf("NewIdempotencyService() error = %v", err)
	}

	return &harness{
		db:          db,
		tx:          repository.NewGormTransactor(db),
		batches:     repository.NewGormBatchRepo(db),
		steps:       repository.NewGormStepRepo(db),
		events:      events,
		deadLetters: repository.NewGormDeadLetterRepo(db),
		idempotency: idempotency,
		publisher:   &fakePublisher{},
		metrics:     metrics,
	}
}

func (h *harness) intake(t *testing.T) *IntakeService {
	t.Helper()
	svc, err := NewIntakeService(h.tx, h.batches, h.steps, h.publisher, nil)
	if err != nil {
		t.Fatalf("NewIntakeService() error = %v", err)
	}
	return svc
}

func (h *harness) processing(t *testing.T, processor StepProcessor) *ProcessingService {
	t.Helper()
	svc, err := NewProcessingService(h.tx, h.idempotency, h.batches, h.steps, processor, nil)
	if err != nil {
		t.Fatalf("NewProcessingService() error = %v", err)
	}
	return svc
}

func (h *harness) reconciler(t *testing.T) *ReconcilerService {
	t.Helper()
	svc, err := NewReconcilerService(h.tx, h.idempotency, h.batches, h.steps, nil, h.metrics)
	if err != nil {
		t.Fatalf("NewReconcilerService() error = %v", err)
	}
	return svc
}

func (h *harness) step(t *testing.T, id string) *domain.Step {
	t.Helper()
	step, err := h.steps.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return step
}

func (h *harness) batch(t *testing.T, id string) *domain.Batch {
	t.Helper()
	batch, err := h.batches.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return batch
}

func disbursement(channel domain.ChannelType, amount string) DisbursementRequest {
	req := DisbursementRequest{
		ChannelType: channel,
		Request: domain.StepRequest{
			Amount:      decimal.RequireFromString(amount),
			CreditParty: domain.CreditParty{Key: "beneficiary@example.com", Name: "Beneficiary"},
		},
	}
	if channel == domain.ChannelInstantTransfer {
		req.Request.InitiationType = "DICT"
	}
	return req
}

// dispatchAll runs every recorded dispatch event through the pipeline.
func dispatchAll(t *testing.T, h *harness, svc *ProcessingService) {
	t.Helper()
	for i, p := range h.publisher.dispatched() {
		msg, ok := p.msg.(queue.DispatchMessage)
		if !ok {
			continue
		}
		if err := svc.HandleDispatch(context.Background(), msgID(i), msg); err != nil {
			t.Fatalf("HandleDispatch(%s) error = %v", msg.StepID, err)
		}
	}
}

func msgID(i int) string {
	return fmt.Sprintf("msg-%d", i)
}

func pixResponse(externalID string, status domain.StepStatus, reason *string) domain.ExternalResponse {
	return domain.ExternalResponse{ExternalID: externalID, Status: status, FailureReason: reason}
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
