package repository

import (
	"context"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"gorm.io/gorm"
)

type DeadLetterRepository interface {
	Create(ctx context.Context, d *domain.DeadLetter) error
	List(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

type GormDeadLetterRepo struct {
	db *gorm.DB
}

func NewGormDeadLetterRepo(db *gorm.DB) *GormDeadLetterRepo {
	return &GormDeadLetterRepo{db: db}
}

func (r *GormDeadLetterRepo) Create(ctx context.Context, d *domain.DeadLetter) error {
	model := deadLetterModelFromDomain(d)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	*d = *deadLetterModelToDomain(model)
	return nil
}

func (r *GormDeadLetterRepo) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit < 1 {
		limit = 50
	}
	limit = min(limit, 500)

	var models []DeadLetterModel
	err := conn(ctx, r.db).
		Order("failed_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	letters := make([]domain.DeadLetter, 0, len(models))
	for i := range models {
		letters = append(letters, *deadLetterModelToDomain(&models[i]))
	}
	return letters, nil
}
