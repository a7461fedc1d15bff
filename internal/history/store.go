package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRecord     = errors.New("record is required")
	errMissingRecordID   = errors.New("record identifier is required")
	noOpLogger           = zap.NewNop()
)

// StoreError wraps a store-layer failure with an operation.reason code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew       = "history.store.new"
	opCreate         = "history.create"
	opListByOwner    = "history.list_by_owner"
	opDeleteOne      = "history.delete_one"
	opDeleteForOwner = "history.delete_all_for_owner"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// IDProvider issues identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

// Record constrains the store to pointer types carrying RecordMeta plus
// variant-specific validation.
type Record[T any] interface {
	*T
	Validate() error
	Meta() *RecordMeta
}

// StoreConfig describes the dependencies of a record store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists one record variant: created on submission, listed
// newest-first, deleted singly or in bulk per owner, never updated in place.
type Store[T any, PT Record[T]] struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs a record store for one variant.
func NewStore[T any, PT Record[T]](cfg StoreConfig) (*Store[T, PT], error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store[T, PT]{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create validates and persists one record with a server-assigned identifier
// and creation timestamp.
func (s *Store[T, PT]) Create(ctx context.Context, record PT) (PT, error) {
	if record == nil {
		return nil, newStoreError(opCreate, "missing_record", errMissingRecord)
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, newStoreError(opCreate, "id_generation_failed", err)
	}

	meta := record.Meta()
	meta.RecordID = recordID
	meta.CreatedAtMs = s.clock().UTC().UnixMilli()

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logError(opCreate, "record_insert_failed", err, zap.String("owner", meta.Owner))
		return nil, newStoreError(opCreate, "record_insert_failed", err)
	}

	return record, nil
}

// ListByOwner returns every record for the owner, newest first. An owner with
// no records yields an empty slice, not an error.
func (s *Store[T, PT]) ListByOwner(ctx context.Context, owner Owner) ([]T, error) {
	records := make([]T, 0)
	if err := s.db.WithContext(ctx).
		Where("owner = ?", owner.String()).
		Order("created_at_ms DESC, record_id DESC").
		Find(&records).Error; err != nil {
		s.logError(opListByOwner, "query_failed", err, zap.String("owner", owner.String()))
		return nil, newStoreError(opListByOwner, "query_failed", err)
	}
	return records, nil
}

// DeleteOne removes the record with the given identifier. Deleting an absent
// identifier succeeds; the row count is deliberately not checked, so a
// list/delete race resolves to a no-op rather than an error.
func (s *Store[T, PT]) DeleteOne(ctx context.Context, recordID string) error {
	if recordID == "" {
		return newStoreError(opDeleteOne, "missing_record_id", errMissingRecordID)
	}
	if err := s.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Delete(new(T)).Error; err != nil {
		s.logError(opDeleteOne, "delete_failed", err, zap.String("record_id", recordID))
		return newStoreError(opDeleteOne, "delete_failed", err)
	}
	return nil
}

// DeleteAllForOwner removes every record owned by the username. Succeeds
// trivially when none exist.
func (s *Store[T, PT]) DeleteAllForOwner(ctx context.Context, owner Owner) error {
	if err := s.db.WithContext(ctx).
		Where("owner = ?", owner.String()).
		Delete(new(T)).Error; err != nil {
		s.logError(opDeleteForOwner, "delete_failed", err, zap.String("owner", owner.String()))
		return newStoreError(opDeleteForOwner, "delete_failed", err)
	}
	return nil
}

func (s *Store[T, PT]) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("history store error", attrs...)
}
