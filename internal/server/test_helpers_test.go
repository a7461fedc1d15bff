package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LexFlowLabs/lexflow/backend/internal/accounts"
	"github.com/LexFlowLabs/lexflow/backend/internal/history"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newTestHandler(t *testing.T, ownerTokens OwnerTokenVerifier) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&accounts.Account{}, &history.SummaryRecord{}, &history.QARecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	accountsService, err := accounts.NewService(accounts.ServiceConfig{
		Database:   db,
		IDProvider: history.NewUUIDProvider(),
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct accounts service: %v", err)
	}

	summaryStore, err := history.NewStore[history.SummaryRecord](history.StoreConfig{
		Database:   db,
		IDProvider: history.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct summary store: %v", err)
	}

	qaStore, err := history.NewStore[history.QARecord](history.StoreConfig{
		Database:   db,
		IDProvider: history.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct qa store: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Accounts:    accountsService,
		Summaries:   summaryStore,
		QA:          qaStore,
		OwnerTokens: ownerTokens,
		Events:      NewHistoryDispatcher(),
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler
}

func performJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	decoded := map[string]interface{}{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func signupAlice(t *testing.T, handler http.Handler) {
	t.Helper()
	recorder := performJSON(t, handler, http.MethodPost, "/api/auth/signup",
		`{"email":"a@x.com","username":"alice","password":"pw1"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
}
