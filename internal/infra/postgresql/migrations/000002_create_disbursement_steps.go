package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"gorm.io/gorm"
)

func createDisbursementStepsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_disbursement_steps",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.StepModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_steps_batch_id ON disbursement_steps (batch_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_steps_external_id ON disbursement_steps (external_id) WHERE external_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_steps_cycle_key ON disbursement_steps (batch_id, cycle_key) WHERE cycle_key IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.StepModel{})
		},
	}
}
