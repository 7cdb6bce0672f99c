package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/repository"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userRoleReader interface {
	RoleNamesForUser(ctx context.Context, userID string) ([]string, error)
}

type userCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// UpdateUserRequest payload for profile updates.
type UpdateUserRequest struct {
	FirstName   string `json:"firstName" validate:"required"`
	LastName    string `json:"lastName" validate:"required"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,e164"`
	Active      *bool  `json:"active"`
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	roles     userRoleReader
	cache     userCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService. cache may be nil.
func NewUserService(repo userRepository, roles userRoleReader, cache userCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, roles: roles, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns a page of users with role names attached.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) (*models.UserPage, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	items := make([]models.UserInfo, 0, len(users))
	for i := range users {
		user := &users[i]
		names, err := s.roles.RoleNamesForUser(ctx, user.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roles")
		}
		user.Roles = names
		items = append(items, models.NewUserInfo(user))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	return &models.UserPage{
		Items: items,
		Pagination: models.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
		},
	}, nil
}

// Get returns a user by ID, served from cache when possible.
func (s *UserService) Get(ctx context.Context, id string) (*models.UserInfo, error) {
	if s.cache != nil {
		var cached models.UserInfo
		if err := s.cache.Get(ctx, repository.UserKey(id), &cached); err == nil {
			return &cached, nil
		}
	}

	user, err := s.loadWithRoles(ctx, id)
	if err != nil {
		return nil, err
	}

	info := models.NewUserInfo(user)
	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.UserKey(id), info, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache user", zap.Error(err))
		}
	}
	return &info, nil
}

// GetByEmail returns a user by email address.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.UserInfo, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	names, err := s.roles.RoleNamesForUser(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roles")
	}
	user.Roles = names
	info := models.NewUserInfo(user)
	return &info, nil
}

// Update modifies the user's profile fields.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.RequestMeta) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid update payload")
	}

	user, err := s.loadWithRoles(ctx, id)
	if err != nil {
		return nil, err
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"firstName": user.FirstName, "lastName": user.LastName, "active": user.Active})

	user.FirstName = req.FirstName
	user.LastName = req.LastName
	user.PhoneNumber = req.PhoneNumber
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update user")
	}

	s.invalidate(ctx, id)

	newPayload, _ := json.Marshal(map[string]interface{}{"firstName": user.FirstName, "lastName": user.LastName, "active": user.Active})
	s.auditChange(ctx, actorID, models.AuditActionUserUpdate, user.ID, oldPayload, newPayload, meta)

	info := models.NewUserInfo(user)
	return &info, nil
}

// SetActive activates or deactivates an account. Deactivation blocks future
// login and refresh but leaves already-issued access tokens untouched.
func (s *UserService) SetActive(ctx context.Context, id string, active bool, actorID string, meta models.RequestMeta) error {
	user, err := s.loadWithRoles(ctx, id)
	if err != nil {
		return err
	}

	if user.Active == active {
		return nil
	}

	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update active flag")
	}

	s.invalidate(ctx, id)

	oldPayload, _ := json.Marshal(map[string]interface{}{"active": user.Active})
	newPayload, _ := json.Marshal(map[string]interface{}{"active": active})
	s.auditChange(ctx, actorID, models.AuditActionUserUpdate, user.ID, oldPayload, newPayload, meta)
	return nil
}

// Delete removes the user permanently; dependent refresh tokens and role
// memberships cascade in the database.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	user, err := s.loadWithRoles(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to delete user")
	}

	s.invalidate(ctx, id)

	oldPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email})
	s.auditChange(ctx, actorID, models.AuditActionUserDelete, user.ID, oldPayload, nil, meta)
	return nil
}

func (s *UserService) loadWithRoles(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	names, err := s.roles.RoleNamesForUser(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roles")
	}
	user.Roles = names
	return user, nil
}

func (s *UserService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, repository.UserKey(id)); err != nil {
		s.logger.Warn("failed to invalidate user cache", zap.Error(err))
	}
}

func (s *UserService) auditChange(ctx context.Context, actorID, action, resourceID string, oldValues, newValues []byte, meta models.RequestMeta) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
