package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/repository"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdateLoginAttempts(ctx context.Context, id string, failed int, lockedUntil *time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// refreshTokenStore is the persistence contract for the refresh token
// lifecycle.
type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, token, revokedBy, reason string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, revokedBy, reason string) (int64, error)
	ListActiveForUser(ctx context.Context, userID string) ([]models.RefreshToken, error)
}

type roleMembershipRepository interface {
	FindByName(ctx context.Context, name string) (*models.Role, error)
	Assign(ctx context.Context, userID, roleID string) error
	RoleNamesForUser(ctx context.Context, userID string) ([]string, error)
}

// AuthConfig defines policy knobs for authentication flows.
type AuthConfig struct {
	RefreshTokenExpiry time.Duration
	MaxFailedLogins    int
	LockoutDuration    time.Duration
}

// AuthService coordinates the token lifecycle: issue on login, rotate on
// refresh, revoke on logout and password change.
type AuthService struct {
	users     authUserRepository
	tokens    refreshTokenStore
	roles     roleMembershipRepository
	issuer    *TokenIssuer
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens refreshTokenStore, roles roleMembershipRepository, issuer *TokenIssuer, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.MaxFailedLogins <= 0 {
		config.MaxFailedLogins = 5
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		roles:     roles,
		issuer:    issuer,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// Register creates a new account with the default role assigned. The caller
// logs in afterwards; no tokens are issued here.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid registration payload")
	}

	email := strings.ToLower(req.Email)
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:          email,
		PasswordHash:   string(hash),
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		PhoneNumber:    req.PhoneNumber,
		Active:         true,
		EmailConfirmed: true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.ErrEmailTaken
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to create user")
	}

	if err := s.assignDefaultRole(ctx, user.ID); err != nil {
		s.logger.Warn("failed to assign default role", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.Roles = []string{models.RoleUser}
	}

	s.audit(ctx, &user.ID, models.AuditActionRegister, "auth", &user.ID, req.IP, req.UserAgent)

	info := models.NewUserInfo(user)
	return &info, nil
}

// Login authenticates a user and returns an issued token pair. Absent,
// inactive and wrong-password cases share one generic failure so the response
// reveals nothing about whether the email exists.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.observeLogin("invalid_credentials")
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active {
		s.observeLogin("invalid_credentials")
		return nil, appErrors.ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if user.IsLocked(now) {
		s.observeLogin("locked")
		return nil, appErrors.ErrAccountLocked
	}

	if !user.EmailConfirmed {
		s.observeLogin("not_activated")
		return nil, appErrors.ErrAccountNotActivated
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordFailedLogin(ctx, user, now)
		s.observeLogin("invalid_credentials")
		return nil, appErrors.ErrInvalidCredentials
	}

	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := s.users.UpdateLoginAttempts(ctx, user.ID, 0, nil); err != nil {
			s.logger.Warn("failed to reset login attempts", zap.Error(err))
		}
	}

	pair, err := s.issueTokenPair(ctx, user, req.IP)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, &user.ID, models.AuditActionLogin, "auth", &user.ID, req.IP, req.UserAgent)
	s.observeLogin("success")

	return &models.LoginResponse{
		TokenPair: *pair,
		User:      models.NewUserInfo(user),
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// access+refresh pair is issued for the same user. A replayed token is no
// longer active and is rejected, which enforces the single-use property.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid refresh payload")
	}

	stored, err := s.tokens.Find(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidRefreshToken
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := time.Now().UTC()
	if !stored.IsActive(now) {
		return nil, appErrors.ErrInvalidRefreshToken
	}

	user := stored.User
	if user == nil {
		return nil, appErrors.ErrInvalidRefreshToken
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "user account is deactivated")
	}

	revokedBy := req.IP
	if revokedBy == "" {
		revokedBy = "API"
	}
	won, err := s.tokens.Revoke(ctx, stored.Token, revokedBy, models.RevokeReasonRotated)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to revoke refresh token")
	}
	if !won {
		// Lost a concurrent rotation of the same token value.
		return nil, appErrors.ErrInvalidRefreshToken
	}

	pair, err := s.issueTokenPair(ctx, user, req.IP)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &user.ID, models.AuditActionTokenRefresh, "auth", &user.ID, req.IP, req.UserAgent)
	if s.metrics != nil {
		s.metrics.ObserveTokenRotated()
	}

	return pair, nil
}

// Logout revokes every active refresh token for the user. Already-issued
// access tokens stay valid until their own expiry.
func (s *AuthService) Logout(ctx context.Context, userID, clientIP, userAgent string) error {
	revokedBy := clientIP
	if revokedBy == "" {
		revokedBy = "API"
	}
	revoked, err := s.tokens.RevokeAllForUser(ctx, userID, revokedBy, models.RevokeReasonLogout)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to revoke refresh tokens")
	}

	s.audit(ctx, &userID, models.AuditActionLogout, "auth", &userID, clientIP, userAgent)
	if s.metrics != nil {
		s.metrics.ObserveTokensRevoked(models.RevokeReasonLogout, revoked)
	}
	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every active refresh token, forcing re-authentication everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "current password does not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, userID, string(hash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update password")
	}

	revoked, err := s.tokens.RevokeAllForUser(ctx, userID, "API", models.RevokeReasonPasswordChanged)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to revoke refresh tokens")
	}

	s.audit(ctx, &userID, models.AuditActionPasswordChange, "auth", &userID, "", "")
	if s.metrics != nil {
		s.metrics.ObserveTokensRevoked(models.RevokeReasonPasswordChanged, revoked)
	}
	return nil
}

// Sessions lists the caller's active refresh tokens as metadata, newest
// first. Token values are never echoed back.
func (s *AuthService) Sessions(ctx context.Context, userID string) ([]models.SessionInfo, error) {
	tokens, err := s.tokens.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	sessions := make([]models.SessionInfo, 0, len(tokens))
	for i := range tokens {
		sessions = append(sessions, models.NewSessionInfo(&tokens[i]))
	}
	return sessions, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	return s.issuer.ParseAccessToken(tokenString)
}

func (s *AuthService) issueTokenPair(ctx context.Context, user *models.User, clientIP string) (*models.TokenPair, error) {
	roles, err := s.roles.RoleNamesForUser(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roles")
	}
	user.Roles = roles

	accessToken, expiresAt, err := s.issuer.IssueAccessToken(user, roles)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshValue, err := NewRefreshTokenValue()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	createdBy := clientIP
	if createdBy == "" {
		createdBy = "API"
	}
	now := time.Now().UTC()
	refreshToken := &models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshValue,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		CreatedBy: createdBy,
	}

	if err := s.tokens.Create(ctx, refreshToken); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist refresh token")
	}

	if s.metrics != nil {
		s.metrics.ObserveTokenIssued()
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		ExpiresAt:    expiresAt,
		TokenType:    "Bearer",
	}, nil
}

func (s *AuthService) assignDefaultRole(ctx context.Context, userID string) error {
	role, err := s.roles.FindByName(ctx, models.RoleUser)
	if err != nil {
		return fmt.Errorf("find default role: %w", err)
	}
	if err := s.roles.Assign(ctx, userID, role.ID); err != nil {
		return fmt.Errorf("assign default role: %w", err)
	}
	return nil
}

func (s *AuthService) recordFailedLogin(ctx context.Context, user *models.User, now time.Time) {
	failed := user.FailedLogins + 1
	var lockedUntil *time.Time
	if failed >= s.config.MaxFailedLogins {
		until := now.Add(s.config.LockoutDuration)
		lockedUntil = &until
		failed = 0
		s.logger.Info("account locked after repeated failures", zap.String("user_id", user.ID))
	}
	if err := s.users.UpdateLoginAttempts(ctx, user.ID, failed, lockedUntil); err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
}

func (s *AuthService) audit(ctx context.Context, userID *string, action, resource string, resourceID *string, ip, userAgent string) {
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) observeLogin(result string) {
	if s.metrics != nil {
		s.metrics.ObserveLogin(result)
	}
}

// validationError converts validator failures into the uniform validation
// error carrying field-level messages.
func validationError(err error, message string) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s: failed on '%s'", fe.Field(), fe.Tag()))
		}
		return appErrors.WithFields(appErrors.Clone(appErrors.ErrValidation, message), fields)
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
