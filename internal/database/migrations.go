package database

import (
	"errors"
	"time"

	"github.com/LexFlowLabs/lexflow/backend/internal/history"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillTypedTextLabels = "2026-07-18_backfill_typed_text_source_labels"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillTypedTextLabels, apply: backfillTypedTextLabels},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Summary rows written before source labels were validated carry an empty
// label; stamp them with the typed-text marker. The create path now rejects
// empty labels, so the repaired state cannot recur. QA rows are left alone —
// empty labels are legal there.
func backfillTypedTextLabels(db *gorm.DB) error {
	return db.Model(&history.SummaryRecord{}).
		Where("source_label = ''").
		Update("source_label", history.SourceLabelTypedText).Error
}
