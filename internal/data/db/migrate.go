package db

import (
	"github.com/brightfield-labs/writing-desk/internal/domain"
	"gorm.io/gorm"
)

// AutoMigrateAll brings the schema up to date for the writing-desk
// orchestrator: the user's active job, their credit balance and sender/MP
// profile, and the durable run-event timeline.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.WritingJob{},
		&domain.CreditBalance{},
		&domain.SenderProfile{},
		&domain.RunEvent{},
	)
}

// EnsureIndexes adds the indexes GORM tags alone don't express: a unique
// constraint enforcing at most one non-deleted job per user, and a
// composite index run_event is always queried through (by run, in order).
func EnsureIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_writing_job_owner_active
		ON writing_job (owner_user_id)
		WHERE deleted_at IS NULL
	`).Error; err != nil {
		return err
	}
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_run_event_key_sequence
		ON run_event (run_key, sequence)
	`).Error
}
