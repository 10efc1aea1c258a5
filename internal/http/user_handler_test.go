package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"room-relay/internal/chat"
	"room-relay/internal/repository"
	"room-relay/internal/service"
)

type mockUploader struct {
	mu        sync.Mutex
	url       string
	err       error
	lastOwner string
	lastBody  []byte
}

func (m *mockUploader) UploadImage(_ context.Context, owner, _ string, r io.Reader) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOwner = owner
	m.lastBody, _ = io.ReadAll(r)
	if m.err != nil {
		return "", m.err
	}
	return m.url, nil
}

type testApp struct {
	router   *gin.Engine
	jwt      *service.JWTService
	users    *service.UserService
	hub      *chat.Hub
	uploader *mockUploader
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppWithOptions(t, chat.Options{AuthTimeout: time.Second})
}

func newTestAppWithOptions(t *testing.T, opts chat.Options) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	jwtSvc := service.NewJWTServiceWithStore("secret", 15*time.Minute, 30*time.Minute, service.NewMemoryRefreshTokenStore())
	userSvc := service.NewUserService(logger, repository.NewMemoryUserRepository())
	history := service.NewMessageService(repository.NewMemoryMessageRepository())
	hub := chat.NewHub(chat.Deps{
		Verifier: jwtSvc,
		History:  history,
		Logger:   logger,
	}, opts)
	t.Cleanup(hub.Close)

	uploader := &mockUploader{url: "https://res.cloudinary.com/demo/avatar.png"}
	router := NewRouter(logger, RouterDeps{
		JWT:    jwtSvc,
		Users:  NewUserHandler(logger, userSvc, jwtSvc),
		Chat:   NewChatHandler(logger, hub),
		Upload: NewUploadHandler(logger, uploader, userSvc, 1024),
		WS:     NewWSHandler(logger, hub, WSOptions{PongWait: 5 * time.Second}),
	})
	return &testApp{router: router, jwt: jwtSvc, users: userSvc, hub: hub, uploader: uploader}
}

// register crea un usuario y devuelve su id y access token.
func (a *testApp) register(t *testing.T, email string) (string, string) {
	t.Helper()
	rec := performRequest(a.router, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d (%s)", email, rec.Code, rec.Body.String())
	}
	var resp struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Tokens service.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.User.ID, resp.Tokens.AccessToken
}

func performRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func performAuthedRequest(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUserHandlerRegister_Success(t *testing.T) {
	app := newTestApp(t)
	id, token := app.register(t, "user@example.com")
	if id == "" || token == "" {
		t.Fatalf("expected user id and access token")
	}
}

func TestUserHandlerRegister_InvalidRequest(t *testing.T) {
	app := newTestApp(t)

	rec := performRequest(app.router, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "not-an-email",
		"password": "correct horse",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	rec = performRequest(app.router, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "user@example.com",
		"password": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for weak password, got %d", rec.Code)
	}
}

func TestUserHandlerRegister_Duplicate(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "user@example.com")

	rec := performRequest(app.router, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "user@example.com",
		"password": "another password",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestUserHandlerLogin(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "user@example.com")

	rec := performRequest(app.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "user@example.com",
		"password": "correct horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "access_token") {
		t.Fatalf("expected tokens in response, got %s", rec.Body.String())
	}

	rec = performRequest(app.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "user@example.com",
		"password": "wrong password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestUserHandlerRefreshAndLogout(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "user@example.com")

	rec := performRequest(app.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "user@example.com",
		"password": "correct horse",
	})
	var login struct {
		Tokens service.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	rec = performRequest(app.router, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": login.Tokens.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 on refresh, got %d", rec.Code)
	}
	var refreshed struct {
		Tokens service.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}

	rec = performRequest(app.router, http.MethodPost, "/api/auth/logout", map[string]string{
		"refresh_token": refreshed.Tokens.RefreshToken,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 on logout, got %d", rec.Code)
	}

	rec = performRequest(app.router, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": refreshed.Tokens.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 after logout, got %d", rec.Code)
	}
}

func TestUserHandlerMe(t *testing.T) {
	app := newTestApp(t)
	id, token := app.register(t, "user@example.com")

	rec := performAuthedRequest(app.router, http.MethodGet, "/api/auth/me", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), id) {
		t.Fatalf("expected user id in response, got %s", rec.Body.String())
	}

	rec = performRequest(app.router, http.MethodGet, "/api/auth/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rec.Code)
	}
}

func TestHealthAndCORS(t *testing.T) {
	app := newTestApp(t)

	rec := performRequest(app.router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(corsMiddleware([]string{"https://chat.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for unknown origin, got %q", got)
	}
}
