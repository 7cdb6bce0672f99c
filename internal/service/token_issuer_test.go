package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/pkg/config"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(config.JWTConfig{
		Secret:     "round-trip-secret",
		Issuer:     "auth-api",
		Audience:   []string{"auth-api"},
		Expiration: time.Hour,
	})

	user := &models.User{ID: "u1", Email: "user@example.com", FirstName: "Jane", LastName: "Doe"}
	token, expiresAt, err := issuer.IssueAccessToken(user, []string{models.RoleUser, models.RoleAdmin})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), expiresAt, time.Minute)

	claims, err := issuer.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "Jane Doe", claims.FullName)
	assert.True(t, claims.HasRole(models.RoleAdmin))
	assert.NotEmpty(t, claims.ID)
}

func TestTokenIssuerRejectsWrongSecret(t *testing.T) {
	a := NewTokenIssuer(config.JWTConfig{Secret: "secret-a", Issuer: "auth-api", Audience: []string{"auth-api"}, Expiration: time.Hour})
	b := NewTokenIssuer(config.JWTConfig{Secret: "secret-b", Issuer: "auth-api", Audience: []string{"auth-api"}, Expiration: time.Hour})

	token, _, err := a.IssueAccessToken(&models.User{ID: "u1"}, nil)
	require.NoError(t, err)

	_, err = b.ParseAccessToken(token)
	require.Error(t, err)
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer(config.JWTConfig{
		Secret:     "expiry-secret",
		Issuer:     "auth-api",
		Audience:   []string{"auth-api"},
		Expiration: -time.Minute,
	})

	token, _, err := issuer.IssueAccessToken(&models.User{ID: "u1"}, nil)
	require.NoError(t, err)

	_, err = issuer.ParseAccessToken(token)
	require.Error(t, err)
}

func TestTokenIssuerRejectsWrongIssuer(t *testing.T) {
	a := NewTokenIssuer(config.JWTConfig{Secret: "shared", Issuer: "other-service", Audience: []string{"auth-api"}, Expiration: time.Hour})
	b := NewTokenIssuer(config.JWTConfig{Secret: "shared", Issuer: "auth-api", Audience: []string{"auth-api"}, Expiration: time.Hour})

	token, _, err := a.IssueAccessToken(&models.User{ID: "u1"}, nil)
	require.NoError(t, err)

	_, err = b.ParseAccessToken(token)
	require.Error(t, err)
}

func TestNewRefreshTokenValueUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		v, err := NewRefreshTokenValue()
		require.NoError(t, err)
		assert.NotEmpty(t, v)
		_, dup := seen[v]
		require.False(t, dup)
		seen[v] = struct{}{}
	}
}
