package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/vimolabs/vimo/backend/internal/auth"
	"github.com/vimolabs/vimo/backend/internal/notes"
	"github.com/vimolabs/vimo/backend/internal/server"
	"github.com/vimolabs/vimo/backend/internal/sessions"
	"github.com/vimolabs/vimo/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	signingSecret   = "integration-secret"
	jsonContentType = "application/json"
)

func newIntegrationServer(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &sessions.Session{}, &notes.Note{}, &auth.RevokedToken{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Database:      db,
		SigningSecret: []byte(signingSecret),
		Issuer:        "vimo-auth",
		Audience:      "vimo-api",
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: users.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	sessionsService, err := sessions.NewService(sessions.ServiceConfig{
		Database: db,
		Location: time.UTC,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct sessions service: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database: db,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:   tokenIssuer,
		Users:    usersService,
		Sessions: sessionsService,
		Notes:    notesService,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return testServer, db
}

func doRequest(t *testing.T, client *http.Client, method, url, token string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return response.StatusCode, responseBody
}

func TestFullAccountSessionAndNotesFlow(t *testing.T) {
	testServer, db := newIntegrationServer(t)
	client := testServer.Client()
	base := testServer.URL

	// Register and log in.
	status, body := doRequest(t, client, http.MethodPost, base+"/register/", "", map[string]string{
		"username":  "alice",
		"email":     "alice@example.com",
		"password":  "correct-horse",
		"password2": "correct-horse",
	})
	if status != http.StatusCreated {
		t.Fatalf("register returned %d: %s", status, body)
	}

	status, body = doRequest(t, client, http.MethodPost, base+"/login/", "", map[string]string{
		"username": "alice",
		"password": "correct-horse",
	})
	if status != http.StatusOK {
		t.Fatalf("login returned %d: %s", status, body)
	}
	var tokens struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(body, &tokens); err != nil {
		t.Fatalf("failed to decode tokens: %v", err)
	}

	// Log two sessions and verify the aggregates.
	for _, payload := range []map[string]int64{
		{"focus_time": 1500, "break_time": 300, "session": 1, "balance": 10},
		{"focus_time": 2500, "break_time": 200, "session": 2, "balance": 5},
	} {
		status, body = doRequest(t, client, http.MethodPost, base+"/vimo/create/", tokens.Access, payload)
		if status != http.StatusCreated {
			t.Fatalf("session create returned %d: %s", status, body)
		}
	}

	status, body = doRequest(t, client, http.MethodGet, base+"/vimo/all/", tokens.Access, nil)
	if status != http.StatusOK {
		t.Fatalf("lifetime totals returned %d: %s", status, body)
	}
	var lifetime map[string]int64
	if err := json.Unmarshal(body, &lifetime); err != nil {
		t.Fatalf("failed to decode totals: %v", err)
	}
	want := map[string]int64{"focus_time": 4000, "break_time": 500, "all_time": 4500, "sessions": 3, "balance": 15}
	for field, value := range want {
		if lifetime[field] != value {
			t.Fatalf("lifetime %s = %d, want %d", field, lifetime[field], value)
		}
	}

	status, body = doRequest(t, client, http.MethodGet, base+"/vimo/today/", tokens.Access, nil)
	if status != http.StatusOK {
		t.Fatalf("today totals returned %d: %s", status, body)
	}
	var today map[string]int64
	if err := json.Unmarshal(body, &today); err != nil {
		t.Fatalf("failed to decode today totals: %v", err)
	}
	if today["balance"] != 15 {
		t.Fatalf("today balance must be the lifetime sum, got %d", today["balance"])
	}

	// Create notes and check the color cycle survives the wire.
	var lastNoteID int64
	for position := 0; position < 7; position++ {
		status, body = doRequest(t, client, http.MethodPost, base+"/notes/", tokens.Access, map[string]string{
			"title":   fmt.Sprintf("note %d", position),
			"content": "content",
		})
		if status != http.StatusCreated {
			t.Fatalf("note create returned %d: %s", status, body)
		}
		var created struct {
			ID         int64 `json:"id"`
			ColorIndex int64 `json:"color_index"`
		}
		if err := json.Unmarshal(body, &created); err != nil {
			t.Fatalf("failed to decode note: %v", err)
		}
		if created.ColorIndex != int64(position%6) {
			t.Fatalf("note %d: color %d, want %d", position, created.ColorIndex, position%6)
		}
		lastNoteID = created.ID
	}

	status, body = doRequest(t, client, http.MethodGet, base+"/notes/", tokens.Access, nil)
	if status != http.StatusOK {
		t.Fatalf("note list returned %d: %s", status, body)
	}
	var listed []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("failed to decode note list: %v", err)
	}
	if len(listed) != 7 {
		t.Fatalf("expected 7 notes, got %d", len(listed))
	}
	if listed[0].ID != lastNoteID {
		t.Fatalf("expected the newest note first, got id %d", listed[0].ID)
	}

	// Change password, prove the old one stops working.
	status, body = doRequest(t, client, http.MethodPost, base+"/change-password/", tokens.Access, map[string]string{
		"current_password": "correct-horse",
		"new_password":     "battery-staple",
	})
	if status != http.StatusOK {
		t.Fatalf("change password returned %d: %s", status, body)
	}
	status, _ = doRequest(t, client, http.MethodPost, base+"/login/", "", map[string]string{
		"username": "alice",
		"password": "correct-horse",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("old password still accepted: %d", status)
	}

	// Refresh, then log out and prove the refresh token is dead.
	status, body = doRequest(t, client, http.MethodPost, base+"/token/refresh/", "", map[string]string{
		"refresh": tokens.Refresh,
	})
	if status != http.StatusOK {
		t.Fatalf("token refresh returned %d: %s", status, body)
	}

	status, _ = doRequest(t, client, http.MethodPost, base+"/logout/", "", map[string]string{
		"refresh": tokens.Refresh,
	})
	if status != http.StatusResetContent {
		t.Fatalf("logout returned %d", status)
	}
	status, _ = doRequest(t, client, http.MethodPost, base+"/token/refresh/", "", map[string]string{
		"refresh": tokens.Refresh,
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("revoked refresh token still accepted: %d", status)
	}
	status, _ = doRequest(t, client, http.MethodPost, base+"/logout/", "", map[string]string{
		"refresh": tokens.Refresh,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("second logout returned %d, want 400", status)
	}

	// Delete the account and verify the cascade.
	status, _ = doRequest(t, client, http.MethodDelete, base+"/delete-account/", tokens.Access, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete account returned %d", status)
	}

	for table, model := range map[string]any{
		"users":    &users.User{},
		"sessions": &sessions.Session{},
		"notes":    &notes.Note{},
	} {
		var count int64
		if err := db.Model(model).Count(&count).Error; err != nil {
			t.Fatalf("failed to count %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected %s to be empty after cascade, got %d rows", table, count)
		}
	}

	// The access token is still cryptographically valid; the account is
	// simply gone, so the list comes back empty.
	status, body = doRequest(t, client, http.MethodGet, base+"/notes/", tokens.Access, nil)
	if status != http.StatusOK {
		t.Fatalf("note list after delete returned %d", status)
	}
	if string(body) != "[]" {
		t.Fatalf("expected an empty list after cascade, got %s", body)
	}
}
