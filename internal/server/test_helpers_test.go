package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/auth"
	"github.com/nestnotes/backend/internal/family"
	"github.com/nestnotes/backend/internal/notes"
	"github.com/nestnotes/backend/internal/users"
)

type routerEnv struct {
	handler http.Handler
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&accounts.Record{}, &notes.Folder{}, &notes.Note{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "nestnotes-auth",
		Audience:      "nestnotes-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("construct token issuer: %v", err)
	}
	familyService, err := family.NewService(family.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("construct family service: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: accounts.NewUUIDProvider(),
		Hasher:     auth.NewPasswordHasher(bcrypt.MinCost),
		Tokens:     issuer,
		Family:     familyService,
	})
	if err != nil {
		t.Fatalf("construct users service: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{Database: db, IDProvider: accounts.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("construct notes service: %v", err)
	}
	foldersService, err := notes.NewFolderService(notes.FolderServiceConfig{Database: db, IDProvider: accounts.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("construct folders service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Accounts: accounts.NewStore(db),
		Users:    usersService,
		Family:   familyService,
		Notes:    notesService,
		Folders:  foldersService,
		Tokens:   issuer,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("construct http handler: %v", err)
	}

	return &routerEnv{handler: handler}
}

func (env *routerEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func assertErrorBody(t *testing.T, recorder *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()

	if recorder.Code != wantStatus {
		t.Fatalf("unexpected status %d, want %d (body %s)", recorder.Code, wantStatus, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	if payload["code"] != wantCode {
		t.Fatalf("unexpected error code %v, want %s", payload["code"], wantCode)
	}
}

type signedUpAccount struct {
	Token      string
	AccountID  string
	FamilyCode string
}

func (env *routerEnv) signup(t *testing.T, email, role, familyCode string) signedUpAccount {
	t.Helper()

	recorder := env.request(t, http.MethodPost, "/auth/signup", "", gin.H{
		"email":       email,
		"password":    "hunter2hunter2",
		"name":        "Account " + email,
		"role":        role,
		"family_code": familyCode,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup %s failed with status %d: %s", email, recorder.Code, recorder.Body.String())
	}

	payload := decodeJSON(t, recorder)
	result := signedUpAccount{}
	result.Token, _ = payload["access_token"].(string)
	if account, ok := payload["account"].(map[string]any); ok {
		result.AccountID, _ = account["id"].(string)
		result.FamilyCode, _ = account["family_code"].(string)
	}
	if result.Token == "" || result.AccountID == "" {
		t.Fatalf("signup %s returned incomplete grant: %s", email, recorder.Body.String())
	}
	return result
}
