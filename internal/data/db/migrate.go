package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&analysis.Session{},
		&analysis.ProductRecord{},
		&analysis.ProgressEvent{},
	); err != nil {
		return err
	}
	return EnsureIndexes(db)
}

// EnsureIndexes creates indexes AutoMigrate cannot express. The partial
// unique index allows at most one main product per session.
func EnsureIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_product_record_one_main
		ON product_record(session_id)
		WHERE role = 'main';
	`).Error; err != nil {
		return fmt.Errorf("create idx_product_record_one_main: %w", err)
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_progress_event_session_seq_unique
		ON progress_event(session_id, seq);
	`).Error; err != nil {
		return fmt.Errorf("create idx_progress_event_session_seq_unique: %w", err)
	}
	return nil
}

func (s *Service) AutoMigrateAll() error { return AutoMigrateAll(s.db) }
