package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/auth-api/internal/models"
)

const tokenColumns = `id, user_id, token, created_at, expires_at, created_by, revoked_at, revoked_by, revoked_reason`

// TokenRepository is the refresh token store. Tokens are immutable after
// insert except for the revocation fields, which are stamped at most once.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create persists a refresh token entry. A duplicate token value violates the
// unique constraint and surfaces as a write failure.
func (r *TokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at, created_by, revoked_at, revoked_by, revoked_reason)
		VALUES (:id, :user_id, :token, :created_at, :expires_at, :created_by, :revoked_at, :revoked_by, :revoked_reason)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// Find returns a refresh token by its opaque value with the owning user
// resolved. sql.ErrNoRows passes through when the token is unknown.
func (r *TokenRepository) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token = $1 LIMIT 1`, tokenColumns)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}

	userQuery := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, userQuery, rt.UserID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("resolve refresh token owner: %w", err)
	}
	rt.User = &user

	return &rt, nil
}

// Revoke stamps the revocation fields on a still-active token. The update is
// conditional on revoked_at being unset, so concurrent revocations of the
// same token resolve to exactly one winner; the returned bool reports whether
// this call won. Revoking an already-inactive token is a no-op.
func (r *TokenRepository) Revoke(ctx context.Context, token, revokedBy, reason string) (bool, error) {
	now := time.Now().UTC()
	const query = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by = $3, revoked_reason = $4
		WHERE token = $1 AND revoked_at IS NULL AND expires_at > $2`
	res, err := r.db.ExecContext(ctx, query, token, now, revokedBy, reason)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token affected rows: %w", err)
	}
	return affected == 1, nil
}

// RevokeAllForUser bulk-revokes every currently-active token owned by the
// user. Row-level idempotence makes concurrent execution safe.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID, revokedBy, reason string) (int64, error) {
	now := time.Now().UTC()
	const query = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by = $3, revoked_reason = $4
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`
	res, err := r.db.ExecContext(ctx, query, userID, now, revokedBy, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens affected rows: %w", err)
	}
	return affected, nil
}

// ListActiveForUser returns the user's active tokens, newest first.
func (r *TokenRepository) ListActiveForUser(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2 ORDER BY created_at DESC`, tokenColumns)
	var tokens []models.RefreshToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("list active refresh tokens: %w", err)
	}
	return tokens, nil
}

// PurgeExpired deletes tokens that are expired or already revoked. Deletion is
// idempotent; running it concurrently or repeatedly removes each row once.
func (r *TokenRepository) PurgeExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at <= $1 OR revoked_at IS NOT NULL`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens affected rows: %w", err)
	}
	return affected, nil
}
