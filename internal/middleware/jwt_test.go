package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/pkg/config"
)

func testAuthService() *service.AuthService {
	issuer := service.NewTokenIssuer(config.JWTConfig{
		Secret:     "middleware-secret",
		Issuer:     "auth-api",
		Audience:   []string{"auth-api"},
		Expiration: time.Hour,
	})
	return service.NewAuthService(nil, nil, nil, issuer, nil, nil, nil, service.AuthConfig{})
}

func issueToken(t *testing.T, roles []string) string {
	t.Helper()
	issuer := service.NewTokenIssuer(config.JWTConfig{
		Secret:     "middleware-secret",
		Issuer:     "auth-api",
		Audience:   []string{"auth-api"},
		Expiration: time.Hour,
	})
	token, _, err := issuer.IssueAccessToken(&models.User{ID: "u1", Email: "user@example.com"}, roles)
	require.NoError(t, err)
	return token
}

func protectedRouter(svc *service.AuthService, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(svc)}, guards...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/protected/:id", handlers...)
	return r
}

func TestJWTMissingHeader(t *testing.T) {
	r := protectedRouter(testAuthService())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected/u1", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMalformedHeader(t *testing.T) {
	r := protectedRouter(testAuthService())

	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTValidToken(t *testing.T) {
	r := protectedRouter(testAuthService())

	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, []string{models.RoleUser}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTTamperedToken(t *testing.T) {
	r := protectedRouter(testAuthService())

	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, nil)+"x")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRBACAllowsMatchingRole(t *testing.T) {
	r := protectedRouter(testAuthService(), RBAC(models.RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/protected/other", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, []string{models.RoleAdmin}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRBACForbidsMissingRole(t *testing.T) {
	r := protectedRouter(testAuthService(), RBAC(models.RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/protected/other", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, []string{models.RoleUser}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRBACSelfAccess(t *testing.T) {
	r := protectedRouter(testAuthService(), RBAC(SelfAccess, models.RoleAdmin))

	// The token's subject is u1; access to /protected/u1 is allowed.
	req := httptest.NewRequest(http.MethodGet, "/protected/u1", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, []string{models.RoleUser}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another user's resource stays forbidden.
	req = httptest.NewRequest(http.MethodGet, "/protected/u2", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, []string{models.RoleUser}))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
