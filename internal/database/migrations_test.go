package database

import (
	"path/filepath"
	"testing"

	"github.com/LexFlowLabs/lexflow/backend/internal/history"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsTypedTextLabels(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&history.SummaryRecord{}, &history.QARecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	unlabeledSummary := history.SummaryRecord{
		RecordMeta: history.RecordMeta{RecordID: "summary-1", Owner: "alice", CreatedAtMs: 1},
		Summary:    "S",
	}
	if err := database.Create(&unlabeledSummary).Error; err != nil {
		testContext.Fatalf("failed to insert summary: %v", err)
	}
	unlabeledQA := history.QARecord{
		RecordMeta: history.RecordMeta{RecordID: "qa-1", Owner: "alice", CreatedAtMs: 1},
		Question:   "Q",
		Answer:     "A",
	}
	if err := database.Create(&unlabeledQA).Error; err != nil {
		testContext.Fatalf("failed to insert qa record: %v", err)
	}
	labeledSummary := history.SummaryRecord{
		RecordMeta: history.RecordMeta{RecordID: "summary-2", Owner: "alice", SourceLabel: "brief.pdf", CreatedAtMs: 2},
		Summary:    "S",
	}
	if err := database.Create(&labeledSummary).Error; err != nil {
		testContext.Fatalf("failed to insert labeled summary: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedSummary history.SummaryRecord
	if err := database.Where("record_id = ?", "summary-1").Take(&storedSummary).Error; err != nil {
		testContext.Fatalf("failed to reload summary: %v", err)
	}
	if storedSummary.SourceLabel != history.SourceLabelTypedText {
		testContext.Fatalf("expected backfilled label %q, got %q", history.SourceLabelTypedText, storedSummary.SourceLabel)
	}

	// QA records may legitimately carry empty labels; the backfill must not
	// touch them.
	var storedQA history.QARecord
	if err := database.Where("record_id = ?", "qa-1").Take(&storedQA).Error; err != nil {
		testContext.Fatalf("failed to reload qa record: %v", err)
	}
	if storedQA.SourceLabel != "" {
		testContext.Fatalf("qa labels must be left alone, got %q", storedQA.SourceLabel)
	}

	var untouched history.SummaryRecord
	if err := database.Where("record_id = ?", "summary-2").Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload labeled summary: %v", err)
	}
	if untouched.SourceLabel != "brief.pdf" {
		testContext.Fatalf("labeled records must not be rewritten, got %q", untouched.SourceLabel)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillTypedTextLabels).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// A second pass finds the migration recorded and does nothing.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-applying migrations must be a no-op: %v", err)
	}
}
