package accounts

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEmail indicates that an email address is empty or malformed.
	ErrInvalidEmail = errors.New("accounts: invalid email")
	// ErrInvalidUsername indicates that a username is empty or exceeds storage bounds.
	ErrInvalidUsername = errors.New("accounts: invalid username")
	// ErrInvalidPassword indicates that a password is empty or exceeds bcrypt bounds.
	ErrInvalidPassword = errors.New("accounts: invalid password")
)

// Account holds one credential record. The otp columns exist in the schema for
// parity with the deployed database but no exposed operation reads or writes
// them.
type Account struct {
	AccountID        string    `gorm:"column:account_id;primaryKey;size:190;not null"`
	Email            string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_accounts_email"`
	Username         string    `gorm:"column:username;size:190;not null;uniqueIndex:idx_accounts_username"`
	PasswordHash     string    `gorm:"column:password_hash;size:128;not null" json:"-"`
	Phone            string    `gorm:"column:phone;size:32;not null;default:''"`
	OneTimePassword  string    `gorm:"column:otp;size:16;not null;default:''" json:"-"`
	OTPExpiresAt     time.Time `gorm:"column:otp_expires_at"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64     `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "accounts"
}

// Username represents a validated account username.
type Username string

// NewUsername validates raw input and returns a Username.
func NewUsername(rawInput string) (Username, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUsername, maxIdentifierLength)
	}
	return Username(trimmed), nil
}

// String returns the underlying username string.
func (u Username) String() string {
	return string(u)
}

// Email represents a validated account email address.
type Email string

// NewEmail validates raw input and returns an Email.
func NewEmail(rawInput string) (Email, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidEmail, trimmed)
	}
	return Email(trimmed), nil
}

// String returns the underlying email string.
func (e Email) String() string {
	return string(e)
}

// bcrypt rejects inputs over 72 bytes, so the bound is enforced up front.
const maxPasswordLength = 72

func validatePassword(rawInput string) error {
	if rawInput == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPassword)
	}
	if len(rawInput) > maxPasswordLength {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidPassword, maxPasswordLength)
	}
	return nil
}
