package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/vimolabs/vimo/backend/internal/auth"
	"github.com/vimolabs/vimo/backend/internal/notes"
	"github.com/vimolabs/vimo/backend/internal/sessions"
	"github.com/vimolabs/vimo/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSigningSecret = "router-test-secret"

type testAPI struct {
	handler http.Handler
	db      *gorm.DB
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &sessions.Session{}, &notes.Note{}, &auth.RevokedToken{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Database:      db,
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "vimo-auth",
		Audience:      "vimo-api",
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: users.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	sessionsService, err := sessions.NewService(sessions.ServiceConfig{
		Database: db,
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("failed to construct sessions service: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:   tokenIssuer,
		Users:    usersService,
		Sessions: sessionsService,
		Notes:    notesService,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testAPI{handler: handler, db: db}
}

func (a *testAPI) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

func (a *testAPI) registerAndLogin(t *testing.T, username, email string) (string, string) {
	t.Helper()

	registerBody := fmt.Sprintf(
		`{"username":%q,"email":%q,"password":"correct-horse","password2":"correct-horse"}`,
		username, email)
	if recorder := a.do(t, http.MethodPost, "/register/", "", registerBody); recorder.Code != http.StatusCreated {
		t.Fatalf("registration failed with status %d: %s", recorder.Code, recorder.Body.String())
	}

	loginBody := fmt.Sprintf(`{"username":%q,"password":"correct-horse"}`, username)
	recorder := a.do(t, http.MethodPost, "/login/", "", loginBody)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", recorder.Code, recorder.Body.String())
	}

	var tokens struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if tokens.Access == "" || tokens.Refresh == "" {
		t.Fatalf("expected both tokens in login response, got %s", recorder.Body.String())
	}
	return tokens.Access, tokens.Refresh
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %s: %v", recorder.Body.String(), err)
	}
}
