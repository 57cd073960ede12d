package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	FindLatestByClientCode(ctx context.Context, clientCode string) (*domain.Batch, error)
	ExistsActiveByClientCode(ctx context.Context, clientCode string) (bool, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error)
	FindRecurrent(ctx context.Context, after BatchCursor, limit int) ([]domain.Batch, error)
	LockByID(ctx context.Context, id string) (*domain.Batch, error)
	CompleteIfProcessing(ctx context.Context, id string, status domain.BatchStatus) (bool, error)
}

// BatchCursor positions a keyset scan on (created_at, id). The zero value
// starts from the first row.
type BatchCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the cursor positioned right after b.
func CursorOf(b domain.Batch) BatchCursor {
	return BatchCursor{CreatedAt: b.CreatedAt, ID: b.ID}
}

func (c BatchCursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// Create inserts the batch row only. A unique violation on the active client
// code index is reported as domain.ErrConflict.
func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: an active batch already exists for clientCode %q", domain.ErrConflict, b.ClientCode)
		}
		return err
	}

	steps := b.Steps
	*b = *batchModelToDomain(model)
	b.Steps = steps
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) FindLatestByClientCode(ctx context.Context, clientCode string) (*domain.Batch, error) {
	var model BatchModel
	err := conn(ctx, r.db).
		Where("client_code = ?", clientCode).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) ExistsActiveByClientCode(ctx context.Context, clientCode string) (bool, error) {
	var count int64
	err := conn(ctx, r.db).
		Model(&BatchModel{}).
		Where("client_code = ? AND status IN ?", clientCode, domain.ActiveBatchStatuses()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkProcessing moves a NOT_EXECUTED batch to PROCESSING. It returns false
// when another sweeper already won the transition.
func (r *GormBatchRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	result := conn(ctx, r.db).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusNotExecuted).
		Updates(map[string]any{
			"status":     domain.BatchStatusProcessing,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormBatchRepo) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error) {
	var models []BatchModel
	err := conn(ctx, r.db).
		Where("status = ? AND schedule_type = ? AND schedule_date <= ?",
			domain.BatchStatusNotExecuted, domain.ScheduleScheduled, now.UTC()).
		Order("schedule_date ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return batchModelsToDomain(models), nil
}

// FindRecurrent returns up to limit recurrent batches ordered by
// (created_at, id), strictly after the cursor.
func (r *GormBatchRepo) FindRecurrent(ctx context.Context, after BatchCursor, limit int) ([]domain.Batch, error) {
	query := conn(ctx, r.db).
		Where("status = ? AND schedule_type = ?", domain.BatchStatusRecurrent, domain.ScheduleRecurrent)
	if !after.IsZero() {
		createdAt := after.CreatedAt.UTC()
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", createdAt, createdAt, after.ID)
	}

	var models []BatchModel
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return batchModelsToDomain(models), nil
}

// LockByID loads the batch row with SELECT ... FOR UPDATE. It must run inside
// a transaction.
func (r *GormBatchRepo) LockByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

// CompleteIfProcessing writes a terminal status only while the batch is still
// PROCESSING, so terminal batches never change again.
func (r *GormBatchRepo) CompleteIfProcessing(ctx context.Context, id string, status domain.BatchStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not a terminal batch status", domain.ErrValidation, status)
	}

	result := conn(ctx, r.db).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusProcessing).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func batchModelsToDomain(models []BatchModel) []domain.Batch {
	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches
}
