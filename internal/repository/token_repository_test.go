package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/auth-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func tokenRows(tokens ...*models.RefreshToken) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "created_at", "expires_at", "created_by", "revoked_at", "revoked_by", "revoked_reason"})
	for _, tok := range tokens {
		rows.AddRow(tok.ID, tok.UserID, tok.Token, tok.CreatedAt, tok.ExpiresAt, tok.CreatedBy, tok.RevokedAt, tok.RevokedBy, tok.RevokedReason)
	}
	return rows
}

func userRows(users ...*models.User) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "first_name", "last_name", "phone_number", "active", "email_confirmed", "failed_logins", "locked_until", "last_login", "created_at", "updated_at"})
	for _, u := range users {
		rows.AddRow(u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.PhoneNumber, u.Active, u.EmailConfirmed, u.FailedLogins, u.LockedUntil, u.LastLogin, u.CreatedAt, u.UpdatedAt)
	}
	return rows
}

func TestTokenRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token := &models.RefreshToken{
		UserID:    "u1",
		Token:     "opaque-value",
		ExpiresAt: time.Now().UTC().Add(7 * 24 * time.Hour),
		CreatedBy: "127.0.0.1",
	}
	require.NoError(t, repo.Create(context.Background(), token))
	require.NotEmpty(t, token.ID)
	require.False(t, token.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryFindResolvesOwner(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	now := time.Now().UTC()
	stored := &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "opaque", CreatedAt: now, ExpiresAt: now.Add(time.Hour), CreatedBy: "API"}
	owner := &models.User{ID: "u1", Email: "user@example.com", Active: true, CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token = $1")).
		WithArgs("opaque").
		WillReturnRows(tokenRows(stored))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(userRows(owner))

	found, err := repo.Find(context.Background(), "opaque")
	require.NoError(t, err)
	require.Equal(t, "rt1", found.ID)
	require.NotNil(t, found.User)
	require.Equal(t, "user@example.com", found.User.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryFindUnknown(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "missing")
	require.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRevokeWins(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := repo.Revoke(context.Background(), "opaque", "127.0.0.1", models.RevokeReasonRotated)
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRevokeAlreadyRevoked(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	// The conditional update touches no rows when revoked_at is already set.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.Revoke(context.Background(), "opaque", "127.0.0.1", models.RevokeReasonRotated)
	require.NoError(t, err)
	require.False(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.RevokeAllForUser(context.Background(), "u1", "API", models.RevokeReasonLogout)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryListActiveForUser(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NULL")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(tokenRows(
			&models.RefreshToken{ID: "rt2", UserID: "u1", Token: "newer", CreatedAt: now, ExpiresAt: now.Add(time.Hour), CreatedBy: "API"},
			&models.RefreshToken{ID: "rt1", UserID: "u1", Token: "older", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour), CreatedBy: "API"},
		))

	tokens, err := repo.ListActiveForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.Equal(t, "rt2", tokens[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryPurgeExpired(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE expires_at <= $1 OR revoked_at IS NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 5))

	count, err := repo.PurgeExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), count)

	// Re-running after everything is gone removes nothing.
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE expires_at <= $1 OR revoked_at IS NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	count, err = repo.PurgeExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
	require.NoError(t, mock.ExpectationsWereMet())
}
