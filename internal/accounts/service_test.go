package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("account-%d", p.next), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDProvider{},
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func mustEmail(t *testing.T, raw string) Email {
	t.Helper()
	email, err := NewEmail(raw)
	if err != nil {
		t.Fatalf("unexpected email error: %v", err)
	}
	return email
}

func mustUsername(t *testing.T, raw string) Username {
	t.Helper()
	username, err := NewUsername(raw)
	if err != nil {
		t.Fatalf("unexpected username error: %v", err)
	}
	return username
}

func TestSignUpStoresOnlyHashedPassword(t *testing.T) {
	service, db := newTestService(t)

	account, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "pw1")
	if err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}
	if account.Username != "alice" {
		t.Fatalf("unexpected username %q", account.Username)
	}
	if account.PasswordHash != "" {
		t.Fatalf("returned account must not carry the password hash")
	}

	var stored Account
	if err := db.Where("username = ?", "alice").Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "pw1" {
		t.Fatalf("expected salted hash, got %q", stored.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("pw1")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
	if stored.CreatedAtSeconds == 0 || stored.UpdatedAtSeconds == 0 {
		t.Fatalf("expected timestamps to be set: %#v", stored)
	}
}

func TestSignUpRejectsDuplicateUsername(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "pw1"); err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}

	_, err := service.SignUp(context.Background(), mustEmail(t, "other@x.com"), mustUsername(t, "alice"), "pw2")
	if !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username error, got %v", err)
	}
}

func TestSignUpDuplicateEmailSurfacesAsPersistenceFailure(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "pw1"); err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}

	// Only the username is pre-checked; the email collision hits the unique
	// index and surfaces as a generic store failure.
	_, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "bob"), "pw2")
	if err == nil {
		t.Fatalf("expected duplicate email insert to fail")
	}
	if errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("duplicate email must not report a duplicate username")
	}
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("expected coded service error, got %T", err)
	}
	if serviceError.Code() != "accounts.signup.account_insert_failed" {
		t.Fatalf("unexpected error code %s", serviceError.Code())
	}
}

func TestSignUpRejectsEmptyPassword(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "")
	if !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected invalid password error, got %v", err)
	}
}

func TestLogInSucceedsWithCorrectPassword(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "pw1"); err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}

	account, err := service.LogIn(context.Background(), "alice", "pw1")
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if account.Username != "alice" {
		t.Fatalf("unexpected username %q", account.Username)
	}
	if account.PasswordHash != "" {
		t.Fatalf("login must not return the password hash")
	}
}

func TestLogInFailuresAreIndistinguishable(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "pw1"); err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}

	_, wrongPasswordErr := service.LogIn(context.Background(), "alice", "wrong")
	if !errors.Is(wrongPasswordErr, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for wrong password, got %v", wrongPasswordErr)
	}

	_, unknownUserErr := service.LogIn(context.Background(), "nobody", "pw1")
	if !errors.Is(unknownUserErr, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", unknownUserErr)
	}

	if wrongPasswordErr.Error() != unknownUserErr.Error() {
		t.Fatalf("login failures must be indistinguishable: %q vs %q", wrongPasswordErr, unknownUserErr)
	}
}

func TestResetPasswordByUsername(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "pw1"); err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}

	if err := service.ResetPassword(context.Background(), "alice", "pw2", ""); err != nil {
		t.Fatalf("unexpected reset error: %v", err)
	}

	if _, err := service.LogIn(context.Background(), "alice", "pw1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := service.LogIn(context.Background(), "alice", "pw2"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestResetPasswordByPhone(t *testing.T) {
	service, db := newTestService(t)

	if _, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "pw1"); err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}
	if err := db.Model(&Account{}).Where("username = ?", "alice").Update("phone", "+15551234567").Error; err != nil {
		t.Fatalf("failed to seed phone: %v", err)
	}

	if err := service.ResetPassword(context.Background(), "someone-else", "pw3", "+15551234567"); err != nil {
		t.Fatalf("unexpected reset error: %v", err)
	}
	if _, err := service.LogIn(context.Background(), "alice", "pw3"); err != nil {
		t.Fatalf("phone-matched reset must apply to the account: %v", err)
	}
}

func TestResetPasswordIsIdempotent(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.SignUp(context.Background(), mustEmail(t, "a@x.com"), mustUsername(t, "alice"), "pw1"); err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := service.ResetPassword(context.Background(), "alice", "pw2", ""); err != nil {
			t.Fatalf("reset attempt %d failed: %v", attempt, err)
		}
		if _, err := service.LogIn(context.Background(), "alice", "pw2"); err != nil {
			t.Fatalf("login after reset attempt %d failed: %v", attempt, err)
		}
	}
}

func TestResetPasswordUnknownAccount(t *testing.T) {
	service, _ := newTestService(t)

	err := service.ResetPassword(context.Background(), "nobody", "pw2", "")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: &sequenceIDProvider{}}); err == nil {
		t.Fatalf("expected error for missing database")
	}

	db, err := gorm.Open(sqlite.Open("file:deps?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if _, err := NewService(ServiceConfig{Database: db}); err == nil {
		t.Fatalf("expected error for missing id provider")
	}
	if _, err := NewService(ServiceConfig{Database: db, IDProvider: &sequenceIDProvider{}, Clock: time.Now, BcryptCost: 99}); err == nil {
		t.Fatalf("expected error for out-of-range bcrypt cost")
	}
}
