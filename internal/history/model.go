package history

import (
	"errors"
	"fmt"
	"strings"
)

// SourceLabelTypedText marks a record generated from text the user typed
// directly instead of an uploaded file.
const SourceLabelTypedText = "text"

const maxIdentifierLength = 190

var (
	// ErrMissingField indicates that a required record field is empty.
	ErrMissingField = errors.New("history: missing required field")
	// ErrInvalidOwner indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwner = errors.New("history: invalid owner")
)

// Owner represents a validated owner username. Owners are correlated with
// accounts only by convention; nothing enforces referential integrity.
type Owner string

// NewOwner validates raw input and returns an Owner.
func NewOwner(rawInput string) (Owner, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwner)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwner, maxIdentifierLength)
	}
	return Owner(trimmed), nil
}

// String returns the underlying owner string.
func (o Owner) String() string {
	return string(o)
}

// RecordMeta carries the fields shared by every history record variant.
type RecordMeta struct {
	RecordID    string `gorm:"column:record_id;primaryKey;size:190;not null" json:"id"`
	Owner       string `gorm:"column:owner;size:190;not null;index" json:"user"`
	SourceLabel string `gorm:"column:source_label;size:512;not null;default:''" json:"filename"`
	CreatedAtMs int64  `gorm:"column:created_at_ms;not null;index" json:"createdAtMs"`
}

// Meta exposes the shared fields to the generic store.
func (m *RecordMeta) Meta() *RecordMeta {
	return m
}

// SummaryRecord persists one generated document summary.
type SummaryRecord struct {
	RecordMeta
	Summary string `gorm:"column:summary;type:text;not null" json:"summary"`
}

// TableName provides the explicit table binding for GORM.
func (SummaryRecord) TableName() string {
	return "summary_records"
}

// Validate rejects a summary record with any empty field.
func (r *SummaryRecord) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return fmt.Errorf("%w: user", ErrMissingField)
	}
	if strings.TrimSpace(r.SourceLabel) == "" {
		return fmt.Errorf("%w: filename", ErrMissingField)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("%w: summary", ErrMissingField)
	}
	return nil
}

// QARecord persists one question/answer exchange.
type QARecord struct {
	RecordMeta
	Question string `gorm:"column:question;type:text;not null;default:''" json:"question"`
	Answer   string `gorm:"column:answer;type:text;not null;default:''" json:"answer"`
}

// TableName provides the explicit table binding for GORM.
func (QARecord) TableName() string {
	return "qa_records"
}

// Validate requires only an owner. Empty source labels, questions, and answers
// persist as-is, matching the behavior clients already depend on.
func (r *QARecord) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return fmt.Errorf("%w: user", ErrMissingField)
	}
	return nil
}
