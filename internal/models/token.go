package models

import "time"

// Revocation reasons recorded on refresh tokens.
const (
	RevokeReasonRotated         = "Replaced by new token"
	RevokeReasonLogout          = "User logout"
	RevokeReasonPasswordChanged = "Password changed"
)

// RefreshToken represents a persisted, single-use refresh token. The token
// value is opaque (64 random bytes, base64). Revocation fields are written at
// most once; revocation is monotonic.
type RefreshToken struct {
	ID            string     `db:"id"`
	UserID        string     `db:"user_id"`
	Token         string     `db:"token"`
	CreatedAt     time.Time  `db:"created_at"`
	ExpiresAt     time.Time  `db:"expires_at"`
	CreatedBy     string     `db:"created_by"`
	RevokedAt     *time.Time `db:"revoked_at"`
	RevokedBy     *string    `db:"revoked_by"`
	RevokedReason *string    `db:"revoked_reason"`

	// Owning user, eagerly resolved on lookup.
	User *User `db:"-"`
}

// IsExpired reports whether the token passed its natural expiry.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token can still be redeemed: not revoked and
// not expired.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && !t.IsExpired(now)
}

// SessionInfo is the metadata projection of an active refresh token. The
// opaque value itself is never echoed back.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedBy string    `json:"createdBy"`
}

// NewSessionInfo projects a RefreshToken onto its session metadata.
func NewSessionInfo(t *RefreshToken) SessionInfo {
	return SessionInfo{
		ID:        t.ID,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
		CreatedBy: t.CreatedBy,
	}
}
