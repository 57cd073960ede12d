package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/repository"
	"gorm.io/gorm"
)

func createDisbursementBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_disbursement_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				// At most one active batch per client code.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_active_client_code ON disbursement_batches (client_code) WHERE status IN ('NOT_EXECUTED', 'PROCESSING', 'RECURRENT')`,
				`CREATE INDEX IF NOT EXISTS idx_batches_client_code_created ON disbursement_batches (client_code, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_batches_due ON disbursement_batches (schedule_date) WHERE status = 'NOT_EXECUTED'`,
				`CREATE INDEX IF NOT EXISTS idx_batches_recurrent ON disbursement_batches (created_at) WHERE status = 'RECURRENT'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchModel{})
		},
	}
}
