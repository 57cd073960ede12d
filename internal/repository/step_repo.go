package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"gorm.io/gorm"
)

type StepRepository interface {
	CreateMany(ctx context.Context, steps []domain.Step) error
	GetByID(ctx context.Context, id string) (*domain.Step, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Step, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.Step, error)
	ListTemplates(ctx context.Context, batchID string) ([]domain.Step, error)
	TransitionStatus(ctx context.Context, id string, from []domain.StepStatus, to domain.StepStatus, failureReason *string) (bool, error)
	SetExternalID(ctx context.Context, id string, externalID string) error
	CountByBatch(ctx context.Context, batchID string) (domain.StepCounts, error)
}

type GormStepRepo struct {
	db *gorm.DB
}

func NewGormStepRepo(db *gorm.DB) *GormStepRepo {
	return &GormStepRepo{db: db}
}

func (r *GormStepRepo) CreateMany(ctx context.Context, steps []domain.Step) error {
	if len(steps) == 0 {
		return nil
	}

	models := make([]StepModel, 0, len(steps))
	for i := range steps {
		models = append(models, *stepModelFromDomain(&steps[i]))
	}

	if err := conn(ctx, r.db).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		steps[i] = *stepModelToDomain(&models[i])
	}
	return nil
}

func (r *GormStepRepo) GetByID(ctx context.Context, id string) (*domain.Step, error) {
	var model StepModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stepModelToDomain(&model), nil
}

func (r *GormStepRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Step, error) {
	var model StepModel
	err := conn(ctx, r.db).First(&model, "external_id = ?", externalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stepModelToDomain(&model), nil
}

func (r *GormStepRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.Step, error) {
	var models []StepModel
	err := conn(ctx, r.db).
		Where("batch_id = ?", batchID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return stepModelsToDomain(models), nil
}

// ListTemplates returns the steps created at intake, excluding copies
// materialised for recurrence cycles.
func (r *GormStepRepo) ListTemplates(ctx context.Context, batchID string) ([]domain.Step, error) {
	var models []StepModel
	err := conn(ctx, r.db).
		Where("batch_id = ? AND cycle_key IS NULL", batchID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return stepModelsToDomain(models), nil
}

// TransitionStatus moves a step to status `to` only while its current status is
// one of from. It returns false when the step was not in an allowed status.
func (r *GormStepRepo) TransitionStatus(ctx context.Context, id string, from []domain.StepStatus, to domain.StepStatus, failureReason *string) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}

	result := conn(ctx, r.db).
		Model(&StepModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetExternalID stores the provider reference once. A step that already
// carries one yields domain.ErrConflict.
func (r *GormStepRepo) SetExternalID(ctx context.Context, id string, externalID string) error {
	result := conn(ctx, r.db).
		Model(&StepModel{}).
		Where("id = ? AND external_id IS NULL", id).
		Updates(map[string]any{
			"external_id": externalID,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		if isUniqueViolationError(result.Error) {
			return fmt.Errorf("%w: externalId %q is already bound to another step", domain.ErrConflict, externalID)
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: step %s already has an externalId", domain.ErrConflict, id)
	}
	return nil
}

// CountByBatch aggregates step outcomes for a batch in a single query.
func (r *GormStepRepo) CountByBatch(ctx context.Context, batchID string) (domain.StepCounts, error) {
	var row struct {
		Total     int64
		Succeeded int64
		Failed    int64
	}
	err := conn(ctx, r.db).
		Model(&StepModel{}).
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed",
			domain.StepStatusSuccess, domain.StepStatusFailed,
		).
		Where("batch_id = ?", batchID).
		Scan(&row).Error
	if err != nil {
		return domain.StepCounts{}, err
	}

	return domain.StepCounts{
		Total:     row.Total,
		Succeeded: row.Succeeded,
		Failed:    row.Failed,
	}, nil
}

func stepModelsToDomain(models []StepModel) []domain.Step {
	steps := make([]domain.Step, 0, len(models))
	for i := range models {
		steps = append(steps, *stepModelToDomain(&models[i]))
	}
	return steps
}
