package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProcessedEventRepository interface {
	Insert(ctx context.Context, key, consumerGroup string, processedAt time.Time) (bool, error)
}

type GormProcessedEventRepo struct {
	db *gorm.DB
}

func NewGormProcessedEventRepo(db *gorm.DB) *GormProcessedEventRepo {
	return &GormProcessedEventRepo{db: db}
}

// Insert records (key, consumerGroup) and reports whether this call created the
// row. Conflicts are absorbed by ON CONFLICT DO NOTHING so an enclosing
// transaction stays usable.
func (r *GormProcessedEventRepo) Insert(ctx context.Context, key, consumerGroup string, processedAt time.Time) (bool, error) {
	model := ProcessedEventModel{
		Key:           key,
		ConsumerGroup: consumerGroup,
		ProcessedAt:   processedAt.UTC(),
	}

	result := conn(ctx, r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		if isUniqueViolationError(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
