package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrDuplicateUsername indicates that signup targeted an existing username.
	ErrDuplicateUsername = errors.New("accounts: username already exists")
	// ErrInvalidCredentials indicates a failed login. The error is identical for
	// an unknown username and a wrong password so callers cannot enumerate
	// accounts.
	ErrInvalidCredentials = errors.New("accounts: invalid username or password")
	// ErrAccountNotFound indicates that a password reset matched no account.
	ErrAccountNotFound = errors.New("accounts: account not found")
)

// ServiceError wraps a store-layer failure with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "accounts.service.new"
	opSignUp        = "accounts.signup"
	opLogIn         = "accounts.login"
	opResetPassword = "accounts.reset_password"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the accounts service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	BcryptCost int
	Logger     *zap.Logger
}

// Service implements signup, login, and password reset over the credential store.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	bcryptCost int
	logger     *zap.Logger
}

// NewService constructs the accounts service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, newServiceError(opServiceNew, "invalid_bcrypt_cost", fmt.Errorf("cost %d out of range", cost))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		bcryptCost: cost,
		logger:     logger,
	}, nil
}

// SignUp creates a new account with a bcrypt-hashed password. Only the username
// is pre-checked for uniqueness; a duplicate email surfaces as the store's
// unique-constraint failure.
func (s *Service) SignUp(ctx context.Context, email Email, username Username, password string) (Account, error) {
	if err := validatePassword(password); err != nil {
		return Account{}, err
	}

	var existing Account
	err := s.db.WithContext(ctx).
		Where("username = ?", username.String()).
		Take(&existing).Error
	if err == nil {
		return Account{}, ErrDuplicateUsername
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opSignUp, "username_lookup_failed", err, zap.String("username", username.String()))
		return Account{}, newServiceError(opSignUp, "username_lookup_failed", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		s.logError(opSignUp, "password_hash_failed", err)
		return Account{}, newServiceError(opSignUp, "password_hash_failed", err)
	}

	accountID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSignUp, "id_generation_failed", err)
		return Account{}, newServiceError(opSignUp, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	account := Account{
		AccountID:        accountID,
		Email:            email.String(),
		Username:         username.String(),
		PasswordHash:     string(hash),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logError(opSignUp, "account_insert_failed", err, zap.String("username", username.String()))
		return Account{}, newServiceError(opSignUp, "account_insert_failed", err)
	}

	s.logger.Info("account created", zap.String("username", username.String()))
	account.PasswordHash = ""
	return account, nil
}

// LogIn verifies a username/password pair against the credential store. No
// session state is created; the caller keeps the returned username client-side.
func (s *Service) LogIn(ctx context.Context, username, password string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("username = ?", strings.TrimSpace(username)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opLogIn, "account_lookup_failed", err, zap.String("username", username))
		return Account{}, newServiceError(opLogIn, "account_lookup_failed", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}

	account.PasswordHash = ""
	return account, nil
}

// ResetPassword overwrites the password of the first account matching the
// username or the phone number. No proof of ownership gates this operation;
// that gap is inherited from the deployed system and deliberately left open.
func (s *Service) ResetPassword(ctx context.Context, username, newPassword, phone string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	username = strings.TrimSpace(username)
	phone = strings.TrimSpace(phone)

	var account Account
	query := s.db.WithContext(ctx).Where("username = ?", username)
	if phone != "" {
		query = s.db.WithContext(ctx).Where("username = ? OR phone = ?", username, phone)
	}
	err := query.Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		s.logError(opResetPassword, "account_lookup_failed", err, zap.String("username", username))
		return newServiceError(opResetPassword, "account_lookup_failed", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		s.logError(opResetPassword, "password_hash_failed", err)
		return newServiceError(opResetPassword, "password_hash_failed", err)
	}

	updates := map[string]interface{}{
		"password_hash": string(hash),
		"updated_at_s":  s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", account.AccountID).
		Updates(updates).Error; err != nil {
		s.logError(opResetPassword, "password_update_failed", err, zap.String("username", account.Username))
		return newServiceError(opResetPassword, "password_update_failed", err)
	}

	s.logger.Info("password reset", zap.String("username", account.Username))
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("accounts service error", attrs...)
}
