package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dsmirnov/credvault/internal/common"
	"github.com/dsmirnov/credvault/internal/cryptox"
	"github.com/dsmirnov/credvault/internal/dbx"
	"github.com/dsmirnov/credvault/internal/logging"
	"github.com/dsmirnov/credvault/internal/server/auth"
	"github.com/dsmirnov/credvault/internal/server/models"
	"github.com/dsmirnov/credvault/internal/server/password"
	"github.com/dsmirnov/credvault/internal/server/provider"
	"github.com/dsmirnov/credvault/internal/server/repositories/credentials"
	"github.com/dsmirnov/credvault/internal/server/repositories/users"
	"github.com/dsmirnov/credvault/internal/server/services"
)

// --- in-memory repositories ---

type memUsersRepo struct {
	byEmail map[string]*models.User
	byID    map[string]*models.User
}

func newMemUsersRepo() *memUsersRepo {
	return &memUsersRepo{byEmail: map[string]*models.User{}, byID: map[string]*models.User{}}
}

func (r *memUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if _, ok := r.byEmail[u.Email]; ok {
		return nil, common.ErrorAlreadyExists
	}
	stored := *u
	stored.CreatedAt = time.Now()
	r.byEmail[stored.Email] = &stored
	r.byID[stored.ID] = &stored
	return &stored, nil
}

func (r *memUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := r.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (r *memUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (r *memUsersRepo) Delete(ctx context.Context, id string) error {
	u, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	delete(r.byID, id)
	delete(r.byEmail, u.Email)
	return nil
}

type memCredsRepo struct {
	secrets map[string]string
}

func newMemCredsRepo() *memCredsRepo {
	return &memCredsRepo{secrets: map[string]string{}}
}

func (r *memCredsRepo) Get(ctx context.Context, userID string) (string, error) {
	s, ok := r.secrets[userID]
	if !ok {
		return "", common.ErrorNotFound
	}
	return s, nil
}

func (r *memCredsRepo) Upsert(ctx context.Context, userID, encryptedSecret string) error {
	r.secrets[userID] = encryptedSecret
	return nil
}

func (r *memCredsRepo) Delete(ctx context.Context, userID string) error {
	delete(r.secrets, userID)
	return nil
}

type memRepoManager struct {
	users *memUsersRepo
	creds *memCredsRepo
}

func (m *memRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *memRepoManager) Users(db dbx.DBTX) users.Repository                  { return m.users }
func (m *memRepoManager) Credentials(db dbx.DBTX) credentials.Repository      { return m.creds }

// --- downstream provider fake ---

type stubClient struct{ valid bool }

func (c *stubClient) ValidateToken(ctx context.Context) bool { return c.valid }

type stubFactory struct {
	valid bool
}

func (f *stubFactory) NewClient(ctx context.Context, token []byte) (provider.Client, error) {
	return &stubClient{valid: f.valid}, nil
}

// --- harness ---

type testEnv struct {
	server  *Server
	router  http.Handler
	tokens  *auth.TokenService
	db      *sql.DB
	dbMock  sqlmock.Sqlmock
	users   *memUsersRepo
	creds   *memCredsRepo
	factory *stubFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rm := &memRepoManager{users: newMemUsersRepo(), creds: newMemCredsRepo()}
	tokens := auth.NewTokenService([]byte("test-signing-secret"), 15*time.Minute, 7*24*time.Hour)
	hasher := password.NewHasher(4)

	cipher, err := cryptox.New(bytes.Repeat([]byte{0x42}, cryptox.KeySize))
	if err != nil {
		t.Fatalf("cryptox.New error: %v", err)
	}

	factory := &stubFactory{valid: true}
	userSvc := services.NewUserService(db, rm, hasher, tokens)
	gate := services.NewCredentialGate(db, rm, cipher, factory)

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := NewServer("localhost:0", logger, userSvc, gate, tokens)

	return &testEnv{
		server:  srv,
		router:  srv.Router(),
		tokens:  tokens,
		db:      db,
		dbMock:  mock,
		users:   rm.users,
		creds:   rm.creds,
		factory: factory,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, accessToken string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[apiError](t, w).Code
}

func (e *testEnv) register(t *testing.T, email, pwd string) tokenResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/register", credentialsRequest{Email: email, Password: pwd}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", w.Code, w.Body.String())
	}
	return decodeBody[tokenResponse](t, w)
}

// --- tests ---

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	resp := env.register(t, "alice@example.com", "Str0ngPass")

	if resp.User == nil || resp.User.Email != "alice@example.com" || resp.User.ID == "" {
		t.Fatalf("unexpected user in response: %+v", resp.User)
	}

	payload, err := env.tokens.Verify(resp.AccessToken)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if payload.UserID != resp.User.ID || payload.Email != "alice@example.com" {
		t.Fatalf("token payload mismatch: %+v", payload)
	}
	if _, err := env.tokens.Verify(resp.RefreshToken); err != nil {
		t.Fatalf("refresh token does not verify: %v", err)
	}
}

func TestRegister_BadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		email    string
		password string
		status   int
		code     string
	}{
		{"invalid email", "not-an-email", "Str0ngPass", http.StatusBadRequest, "INVALID_EMAIL"},
		{"short password", "a@b.io", "Sh0rt", http.StatusBadRequest, "WEAK_PASSWORD"},
		{"no digit", "a@b.io", "NoDigitsHere", http.StatusBadRequest, "WEAK_PASSWORD"},
		{"missing password", "a@b.io", "", http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tc := range tests {
		w := env.do(t, http.MethodPost, "/api/register",
			credentialsRequest{Email: tc.email, Password: tc.password}, "")
		if w.Code != tc.status {
			t.Errorf("%s: status %d want %d", tc.name, w.Code, tc.status)
			continue
		}
		if got := errorCode(t, w); got != tc.code {
			t.Errorf("%s: code %q want %q", tc.name, got, tc.code)
		}
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Str0ngPass")

	w := env.do(t, http.MethodPost, "/api/register",
		credentialsRequest{Email: "alice@example.com", Password: "Str0ngPass"}, "")

	if w.Code != http.StatusConflict {
		t.Fatalf("status %d want 409", w.Code)
	}
	if got := errorCode(t, w); got != "USER_EXISTS" {
		t.Fatalf("code %q want USER_EXISTS", got)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Str0ngPass")

	w := env.do(t, http.MethodPost, "/api/login",
		credentialsRequest{Email: "alice@example.com", Password: "Str0ngPass"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}

	resp := decodeBody[tokenResponse](t, w)
	if _, err := env.tokens.Verify(resp.AccessToken); err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Str0ngPass")

	for _, req := range []credentialsRequest{
		{Email: "alice@example.com", Password: "WrongPass1"},
		{Email: "nobody@example.com", Password: "Str0ngPass"},
	} {
		w := env.do(t, http.MethodPost, "/api/login", req, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status %d want 401", w.Code)
		}
		if got := errorCode(t, w); got != "INVALID_CREDENTIALS" {
			t.Fatalf("code %q want INVALID_CREDENTIALS", got)
		}
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	initial := env.register(t, "alice@example.com", "Str0ngPass")

	w := env.do(t, http.MethodPost, "/api/refresh",
		map[string]string{"refreshToken": initial.RefreshToken}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}

	resp := decodeBody[tokenResponse](t, w)
	payload, err := env.tokens.Verify(resp.AccessToken)
	if err != nil {
		t.Fatalf("refreshed access token does not verify: %v", err)
	}
	if payload.UserID != initial.User.ID {
		t.Fatalf("refreshed token for wrong user: %+v", payload)
	}
}

func TestRefresh_BadToken(t *testing.T) {
	env := newTestEnv(t)

	// Expired: issued by a service whose refresh lifetime is already over.
	expiredSvc := auth.NewTokenService([]byte("test-signing-secret"), 15*time.Minute, -time.Minute)
	expired, err := expiredSvc.IssueRefreshToken(auth.Payload{UserID: "u1", Email: "a@b.io"})
	if err != nil {
		t.Fatalf("issue expired token: %v", err)
	}

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"expired", expired, "TOKEN_EXPIRED"},
		{"garbage", "not.a.token", "INVALID_TOKEN"},
	}

	for _, tc := range tests {
		w := env.do(t, http.MethodPost, "/api/refresh", map[string]string{"refreshToken": tc.token}, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status %d want 401", tc.name, w.Code)
			continue
		}
		if got := errorCode(t, w); got != tc.code {
			t.Errorf("%s: code %q want %q", tc.name, got, tc.code)
		}
	}
}

func TestAuthedRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/credential"},
		{http.MethodPost, "/api/credential"},
		{http.MethodDelete, "/api/credential"},
		{http.MethodDelete, "/api/account"},
	}

	for _, r := range routes {
		// No header at all.
		w := env.do(t, r.method, r.path, nil, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status %d want 401", r.method, r.path, w.Code)
		}

		// A token signed with the wrong secret.
		otherSvc := auth.NewTokenService([]byte("other-secret"), time.Minute, time.Minute)
		forged, err := otherSvc.IssueAccessToken(auth.Payload{UserID: "u1"})
		if err != nil {
			t.Fatalf("issue forged token: %v", err)
		}
		w = env.do(t, r.method, r.path, nil, forged)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with forged token: status %d want 401", r.method, r.path, w.Code)
		}
	}
}

func TestCredentialLifecycle(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "alice@example.com", "Str0ngPass")
	access := session.AccessToken

	// Nothing stored yet.
	w := env.do(t, http.MethodGet, "/api/credential", nil, access)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body %s", w.Code, w.Body.String())
	}
	status := decodeBody[credentialStatusResponse](t, w)
	if status.Connected || status.Valid {
		t.Fatalf("expected disconnected state, got %+v", status)
	}

	// Connect.
	w = env.do(t, http.MethodPost, "/api/credential", map[string]string{"token": "provider-token"}, access)
	if w.Code != http.StatusOK {
		t.Fatalf("connect: status %d body %s", w.Code, w.Body.String())
	}

	// The stored secret is ciphertext, not the raw token.
	stored := env.creds.secrets[session.User.ID]
	if stored == "" || stored == "provider-token" {
		t.Fatalf("expected encrypted secret, got %q", stored)
	}

	// Status reflects the (accepting) probe.
	w = env.do(t, http.MethodGet, "/api/credential", nil, access)
	status = decodeBody[credentialStatusResponse](t, w)
	if !status.Connected || !status.Valid {
		t.Fatalf("expected connected and valid, got %+v", status)
	}

	// A rejecting probe flips valid but not connected.
	env.factory.valid = false
	w = env.do(t, http.MethodGet, "/api/credential", nil, access)
	status = decodeBody[credentialStatusResponse](t, w)
	if !status.Connected || status.Valid {
		t.Fatalf("expected connected but invalid, got %+v", status)
	}

	// Disconnect.
	w = env.do(t, http.MethodDelete, "/api/credential", nil, access)
	if w.Code != http.StatusNoContent {
		t.Fatalf("disconnect: status %d", w.Code)
	}
	if _, ok := env.creds.secrets[session.User.ID]; ok {
		t.Fatalf("secret still stored after disconnect")
	}
}

func TestConnect_EmptyToken(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "alice@example.com", "Str0ngPass")

	w := env.do(t, http.MethodPost, "/api/credential", map[string]string{"token": ""}, session.AccessToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d want 400", w.Code)
	}
	if got := errorCode(t, w); got != "INVALID_REQUEST" {
		t.Fatalf("code %q want INVALID_REQUEST", got)
	}
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	session := env.register(t, "alice@example.com", "Str0ngPass")

	env.dbMock.ExpectBegin()
	env.dbMock.ExpectCommit()

	w := env.do(t, http.MethodDelete, "/api/account", nil, session.AccessToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}

	if _, err := env.users.GetByID(context.Background(), session.User.ID); err == nil {
		t.Fatalf("user still present after account deletion")
	}
	if err := env.dbMock.ExpectationsWereMet(); err != nil {
		t.Fatalf("tx expectations: %v", err)
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/login",
		credentialsRequest{Email: "nobody@example.com", Password: "Whatever1"}, "")

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"error_code", "error_message"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("envelope missing %q: %s", key, w.Body.String())
		}
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
}
