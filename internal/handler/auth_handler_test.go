package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/pkg/config"
	"github.com/noah-isme/auth-api/pkg/response"
)

type fakeUserRepo struct {
	user *models.User
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.user == nil || !strings.EqualFold(f.user.Email, email) {
		return nil, sql.ErrNoRows
	}
	return f.user, nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return f.user, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	user.ID = "new-user"
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	return nil
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (f *fakeUserRepo) UpdateLoginAttempts(ctx context.Context, id string, failed int, lockedUntil *time.Time) error {
	return nil
}

func (f *fakeUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type fakeTokenStore struct {
	tokens map[string]*models.RefreshToken
	owner  *models.User
}

func (f *fakeTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	if f.tokens == nil {
		f.tokens = make(map[string]*models.RefreshToken)
	}
	token.ID = "rt-" + token.Token[:8]
	f.tokens[token.Token] = token
	return nil
}

func (f *fakeTokenStore) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := f.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	rt.User = f.owner
	return rt, nil
}

func (f *fakeTokenStore) Revoke(ctx context.Context, token, revokedBy, reason string) (bool, error) {
	rt, ok := f.tokens[token]
	if !ok || rt.RevokedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	rt.RevokedAt = &now
	return true, nil
}

func (f *fakeTokenStore) RevokeAllForUser(ctx context.Context, userID, revokedBy, reason string) (int64, error) {
	var n int64
	now := time.Now().UTC()
	for _, rt := range f.tokens {
		if rt.UserID == userID && rt.RevokedAt == nil {
			rt.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenStore) ListActiveForUser(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	return nil, nil
}

type fakeRoleRepo struct{}

func (f *fakeRoleRepo) FindByName(ctx context.Context, name string) (*models.Role, error) {
	return &models.Role{ID: "role-" + name, Name: name, Active: true}, nil
}

func (f *fakeRoleRepo) Assign(ctx context.Context, userID, roleID string) error {
	return nil
}

func (f *fakeRoleRepo) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	return []string{models.RoleUser}, nil
}

func newTestRouter(t *testing.T, users *fakeUserRepo, tokens *fakeTokenStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := service.NewTokenIssuer(config.JWTConfig{
		Secret:     "handler-secret",
		Issuer:     "auth-api",
		Audience:   []string{"auth-api"},
		Expiration: time.Hour,
	})
	authSvc := service.NewAuthService(users, tokens, &fakeRoleRepo{}, issuer, nil, nil, nil, service.AuthConfig{
		RefreshTokenExpiry: 7 * 24 * time.Hour,
	})
	h := NewAuthHandler(authSvc, nil)

	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh-token", h.Refresh)
	return r
}

func loginUser(password string) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return &models.User{
		ID:             "u1",
		Email:          "user@example.com",
		PasswordHash:   string(hash),
		FirstName:      "Jane",
		LastName:       "Doe",
		Active:         true,
		EmailConfirmed: true,
	}
}

func TestAuthHandlerLoginEnvelope(t *testing.T) {
	users := &fakeUserRepo{user: loginUser("password123")}
	r := newTestRouter(t, users, &fakeTokenStore{owner: users.user})

	body := strings.NewReader(`{"email":"user@example.com","password":"password123"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.IsSuccess)

	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["accessToken"])
	assert.NotEmpty(t, data["refreshToken"])
	assert.Equal(t, "Bearer", data["tokenType"])
}

func TestAuthHandlerLoginWrongPassword(t *testing.T) {
	users := &fakeUserRepo{user: loginUser("password123")}
	r := newTestRouter(t, users, &fakeTokenStore{owner: users.user})

	body := strings.NewReader(`{"email":"user@example.com","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.IsSuccess)
	assert.Equal(t, "invalid email or password", env.Message)
}

func TestAuthHandlerLoginMalformedBody(t *testing.T) {
	users := &fakeUserRepo{user: loginUser("password123")}
	r := newTestRouter(t, users, &fakeTokenStore{owner: users.user})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerRefreshRotation(t *testing.T) {
	users := &fakeUserRepo{user: loginUser("password123")}
	tokens := &fakeTokenStore{owner: users.user, tokens: map[string]*models.RefreshToken{
		"seed-refresh-token": {
			ID:        "rt1",
			UserID:    "u1",
			Token:     "seed-refresh-token",
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		},
	}}
	r := newTestRouter(t, users, tokens)

	body := strings.NewReader(`{"refreshToken":"seed-refresh-token"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// Replaying the consumed token fails.
	body = strings.NewReader(`{"refreshToken":"seed-refresh-token"}`)
	req = httptest.NewRequest(http.MethodPost, "/auth/refresh-token", body)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerRegisterCreated(t *testing.T) {
	r := newTestRouter(t, &fakeUserRepo{}, &fakeTokenStore{})

	body := strings.NewReader(`{"email":"new@example.com","firstName":"New","lastName":"User","password":"password123","confirmPassword":"password123"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/register", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.IsSuccess)
	assert.NotContains(t, rec.Body.String(), "password")
}
