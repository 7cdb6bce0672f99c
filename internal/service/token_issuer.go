package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/pkg/config"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

const refreshTokenBytes = 64

// TokenIssuer builds claim sets and signs short-lived access tokens. Access
// tokens are stateless: validity is a function of signature and expiry only,
// never of the refresh token store.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience jwt.ClaimStrings
	ttl      time.Duration
}

// NewTokenIssuer constructs a TokenIssuer from the JWT configuration.
func NewTokenIssuer(cfg config.JWTConfig) *TokenIssuer {
	return &TokenIssuer{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.Expiration,
	}
}

// BuildClaims assembles the identity assertion for a verified user: id,
// email, display name, one entry per role, and a fresh jti. The claim set
// reflects the role set at call time; later role changes do not affect
// already-issued tokens.
func (i *TokenIssuer) BuildClaims(user *models.User, roles []string, now time.Time) *models.JWTClaims {
	if roles == nil {
		roles = []string{}
	}
	return &models.JWTClaims{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName(),
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   user.ID,
			Audience:  i.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
}

// IssueAccessToken signs an HS256 access token for the user and returns the
// compact form with its expiry.
func (i *TokenIssuer) IssueAccessToken(user *models.User, roles []string) (string, time.Time, error) {
	claims := i.BuildClaims(user, roles, time.Now().UTC())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// ParseAccessToken validates signature, algorithm, issuer, audience and
// expiry, returning the embedded claims.
func (i *TokenIssuer) ParseAccessToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithIssuer(i.issuer)}
	if len(i.audience) > 0 {
		opts = append(opts, jwt.WithAudience(i.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

// NewRefreshTokenValue generates the opaque refresh token value: 64 random
// bytes, base64-encoded.
func NewRefreshTokenValue() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
