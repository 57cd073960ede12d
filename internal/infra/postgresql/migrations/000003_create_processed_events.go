package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"gorm.io/gorm"
)

func createProcessedEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_processed_events",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ProcessedEventModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ProcessedEventModel{})
		},
	}
}
