package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"account_service/internal/auth"
	"account_service/internal/lib/cookies"
	jwtlib "account_service/internal/lib/jwt"
	"account_service/internal/models"
	"account_service/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type memUser struct {
	user              models.User
	verificationToken string
	reset             models.PendingReset
	refreshHash       string
}

type memStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*memUser
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[uuid.UUID]*memUser)}
}

func (s *memStore) SaveUser(_ context.Context, email, name string, passHash []byte, verificationToken string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.byID {
		if u.user.Email == email {
			return uuid.Nil, storage.ErrUserExists
		}
	}

	id := uuid.New()
	s.byID[id] = &memUser{
		user: models.User{
			ID:        id,
			Email:     email,
			Name:      name,
			PassHash:  passHash,
			CreatedAt: time.Now(),
		},
		verificationToken: verificationToken,
	}

	return id, nil
}

func (s *memStore) SetVerificationToken(_ context.Context, userID uuid.UUID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok || u.user.IsVerified {
		return storage.ErrUserNotFound
	}
	u.verificationToken = token

	return nil
}

func (s *memStore) SetResetToken(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.reset = models.PendingReset{Token: token, ExpiresAt: expiresAt}

	return nil
}

func (s *memStore) ConsumeVerificationToken(_ context.Context, token string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.byID {
		if u.verificationToken != "" && u.verificationToken == token {
			u.user.IsVerified = true
			u.verificationToken = ""
			return id, nil
		}
	}

	return uuid.Nil, storage.ErrTokenNotFound
}

func (s *memStore) ConsumePasswordReset(_ context.Context, token string, now time.Time, newPassHash []byte) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.byID {
		if u.reset.Token == token && u.reset.Active(now) {
			u.user.PassHash = newPassHash
			u.reset = models.PendingReset{}
			return id, nil
		}
	}

	return uuid.Nil, storage.ErrTokenNotFound
}

func (s *memStore) UserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.byID {
		if u.user.Email == email {
			return u.user, nil
		}
	}

	return models.User{}, storage.ErrUserNotFound
}

func (s *memStore) UserByID(_ context.Context, id uuid.UUID) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.byID[id]; ok {
		return u.user, nil
	}

	return models.User{}, storage.ErrUserNotFound
}

func (s *memStore) SetRefreshHash(_ context.Context, userID uuid.UUID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.refreshHash = hash

	return nil
}

func (s *memStore) SwapRefreshHash(_ context.Context, userID uuid.UUID, oldHash, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok || u.refreshHash != oldHash {
		return storage.ErrSessionNotFound
	}
	u.refreshHash = newHash

	return nil
}

func (s *memStore) ClearRefreshHash(_ context.Context, userID uuid.UUID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok || u.refreshHash == "" || u.refreshHash != hash {
		return storage.ErrSessionNotFound
	}
	u.refreshHash = ""

	return nil
}

type memDenylist struct {
	mu     sync.Mutex
	denied map[string]bool
}

func newMemDenylist() *memDenylist {
	return &memDenylist{denied: make(map[string]bool)}
}

func (d *memDenylist) DenyAccessToken(_ context.Context, tokenHash string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.denied[tokenHash] = true

	return nil
}

func (d *memDenylist) IsAccessTokenDenied(_ context.Context, tokenHash string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.denied[tokenHash], nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	messages []models.Message
}

func (p *capturingPublisher) SendMessage(_ context.Context, msg models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, msg)

	return nil
}

func (p *capturingPublisher) lastToken(t *testing.T) string {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()

	require.NotEmpty(t, p.messages)
	link := p.messages[len(p.messages)-1].Link
	parts := strings.Split(link, "/")

	return parts[len(parts)-1]
}

// --- helpers ---

const strongPassword = "correct-horse9-Battery!"

func newTestRouter(t *testing.T) (http.Handler, *capturingPublisher) {
	t.Helper()

	store := newMemStore()
	pub := &capturingPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := jwtlib.NewManager("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	authService := auth.New(log, store, store, store, newMemDenylist(), tokens, 10*time.Minute)

	return NewRouter(log, validator.New(), authService, pub, "http://localhost:8080"), pub
}

func do(t *testing.T, h http.Handler, method, path, body string, reqCookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range reqCookies {
		if c.Value != "" {
			req.AddCookie(c)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

// --- tests ---

func TestFullAccountLifecycle(t *testing.T) {
	h, pub := newTestRouter(t)

	// Register.
	rec := do(t, h, http.MethodPost, "/register",
		fmt.Sprintf(`{"name":"A","email":"a@x.com","password":"%s"}`, strongPassword), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Login before verification is rejected.
	loginBody := fmt.Sprintf(`{"email":"a@x.com","password":"%s"}`, strongPassword)
	rec = do(t, h, http.MethodPost, "/login", loginBody, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Verify with the emailed token.
	token := pub.lastToken(t)
	rec = do(t, h, http.MethodGet, "/verify/"+token, "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// The token is single-use.
	rec = do(t, h, http.MethodGet, "/verify/"+token, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Login issues the cookie pair.
	rec = do(t, h, http.MethodPost, "/login", loginBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loginCookies := rec.Result().Cookies()
	require.Len(t, loginCookies, 2)

	// /me returns the profile without the password and rotates cookies.
	rec = do(t, h, http.MethodGet, "/me", "", loginCookies)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "a@x.com", body["email"])
	assert.NotContains(t, rec.Body.String(), "password")
	rotated := rec.Result().Cookies()
	require.Len(t, rotated, 2)

	// The pre-rotation refresh token is stale: strip the access cookie
	// so the gate has to fall back to it.
	var staleRefresh []*http.Cookie
	for _, c := range loginCookies {
		if c.Name == cookies.RefreshTokenCookie {
			staleRefresh = append(staleRefresh, c)
		}
	}
	rec = do(t, h, http.MethodGet, "/me", "", staleRefresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout with the current pair clears the cookies.
	rec = do(t, h, http.MethodGet, "/logout", "", rotated)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	}

	// The pre-logout pair is dead.
	rec = do(t, h, http.MethodGet, "/me", "", rotated)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logging out again with the same pair is rejected.
	rec = do(t, h, http.MethodGet, "/logout", "", rotated)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	h, pub := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/register",
		fmt.Sprintf(`{"name":"A","email":"a@x.com","password":"%s"}`, strongPassword), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/verify/"+pub.lastToken(t), "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Unknown email fails.
	rec = do(t, h, http.MethodPost, "/forget-password", `{"email":"nobody@x.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/forget-password", `{"email":"a@x.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resetToken := pub.lastToken(t)

	// Mismatched confirmation fails without burning the token.
	rec = do(t, h, http.MethodPost, "/reset-password/"+resetToken,
		`{"password":"brand-new-Password7$","password_confirm":"different-Password8$"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/reset-password/"+resetToken,
		`{"password":"brand-new-Password7$","password_confirm":"brand-new-Password7$"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The token is single-use.
	rec = do(t, h, http.MethodPost, "/reset-password/"+resetToken,
		`{"password":"brand-new-Password7$","password_confirm":"brand-new-Password7$"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Old password is gone, new one logs in.
	rec = do(t, h, http.MethodPost, "/login",
		fmt.Sprintf(`{"email":"a@x.com","password":"%s"}`, strongPassword), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/login",
		`{"email":"a@x.com","password":"brand-new-Password7$"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	h, _ := newTestRouter(t)

	// Missing fields.
	rec := do(t, h, http.MethodPost, "/register", `{"email":"a@x.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed email.
	rec = do(t, h, http.MethodPost, "/register",
		fmt.Sprintf(`{"name":"A","email":"not-an-email","password":"%s"}`, strongPassword), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Duplicate email, case-insensitive.
	rec = do(t, h, http.MethodPost, "/register",
		fmt.Sprintf(`{"name":"A","email":"a@x.com","password":"%s"}`, strongPassword), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/register",
		fmt.Sprintf(`{"name":"B","email":"A@X.com","password":"%s"}`, strongPassword), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeRequiresSession(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/me", "", []*http.Cookie{
		{Name: cookies.AccessTokenCookie, Value: "forged"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResendVerificationIsOpaque(t *testing.T) {
	h, pub := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/register",
		fmt.Sprintf(`{"name":"A","email":"a@x.com","password":"%s"}`, strongPassword), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	firstToken := pub.lastToken(t)

	// Resend replaces the pending token.
	rec = do(t, h, http.MethodPost, "/verify/resend", `{"email":"a@x.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	newToken := pub.lastToken(t)
	require.NotEqual(t, firstToken, newToken)

	rec = do(t, h, http.MethodGet, "/verify/"+firstToken, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/verify/"+newToken, "", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Unknown and already-verified emails get the same answer.
	rec = do(t, h, http.MethodPost, "/verify/resend", `{"email":"nobody@x.com"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/verify/resend", `{"email":"a@x.com"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
