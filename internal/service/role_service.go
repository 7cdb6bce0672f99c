package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/repository"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

type roleRepository interface {
	FindByID(ctx context.Context, id string) (*models.Role, error)
	FindByName(ctx context.Context, name string) (*models.Role, error)
	List(ctx context.Context, activeOnly bool) ([]models.Role, error)
	Create(ctx context.Context, role *models.Role) error
	Update(ctx context.Context, role *models.Role) error
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, userID, roleID string) error
	Unassign(ctx context.Context, userID, roleID string) (bool, error)
	RolesForUser(ctx context.Context, userID string) ([]models.Role, error)
}

type roleUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateRoleRequest payload for creating roles.
type CreateRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=256"`
	Active      *bool  `json:"active"`
}

// UpdateRoleRequest payload for updating roles.
type UpdateRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=256"`
	Active      *bool  `json:"active"`
}

// RoleService maintains named roles and user-role membership.
type RoleService struct {
	repo      roleRepository
	users     roleUserReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRoleService creates an instance of RoleService.
func NewRoleService(repo roleRepository, users roleUserReader, validate *validator.Validate, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RoleService{repo: repo, users: users, validator: validate, logger: logger}
}

// List returns roles ordered by name.
func (s *RoleService) List(ctx context.Context, activeOnly bool) ([]models.RoleInfo, error) {
	roles, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roles")
	}
	infos := make([]models.RoleInfo, 0, len(roles))
	for i := range roles {
		infos = append(infos, models.NewRoleInfo(&roles[i]))
	}
	return infos, nil
}

// Get returns a role by ID.
func (s *RoleService) Get(ctx context.Context, id string) (*models.RoleInfo, error) {
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}
	info := models.NewRoleInfo(role)
	return &info, nil
}

// Create adds a new role with a unique name.
func (s *RoleService) Create(ctx context.Context, req CreateRoleRequest, actorID string, meta models.RequestMeta) (*models.RoleInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid create role payload")
	}

	role := &models.Role{
		Name:   req.Name,
		Active: true,
	}
	if req.Description != "" {
		role.Description = &req.Description
	}
	if req.Active != nil {
		role.Active = *req.Active
	}

	if err := s.repo.Create(ctx, role); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "role name already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to create role")
	}

	s.auditRole(ctx, actorID, role.ID, nil, role, meta)

	info := models.NewRoleInfo(role)
	return &info, nil
}

// Update modifies a role's name, description and active flag.
func (s *RoleService) Update(ctx context.Context, id string, req UpdateRoleRequest, actorID string, meta models.RequestMeta) (*models.RoleInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid update role payload")
	}

	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}

	old := *role

	role.Name = req.Name
	role.Description = nil
	if req.Description != "" {
		role.Description = &req.Description
	}
	if req.Active != nil {
		role.Active = *req.Active
	}

	if err := s.repo.Update(ctx, role); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "role name already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update role")
	}

	s.auditRole(ctx, actorID, role.ID, &old, role, meta)

	info := models.NewRoleInfo(role)
	return &info, nil
}

// Delete removes a role; memberships cascade.
func (s *RoleService) Delete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to delete role")
	}

	s.auditRole(ctx, actorID, role.ID, role, nil, meta)
	return nil
}

// AssignToUser adds the user to the named role.
func (s *RoleService) AssignToUser(ctx context.Context, userID, roleName string, actorID string, meta models.RequestMeta) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	role, err := s.repo.FindByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}

	if err := s.repo.Assign(ctx, user.ID, role.ID); err != nil {
		if repository.IsUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "user already has this role")
		}
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to assign role")
	}

	s.auditMembership(ctx, actorID, user.ID, role.Name, "assigned", meta)
	return nil
}

// RemoveFromUser removes the user from the named role.
func (s *RoleService) RemoveFromUser(ctx context.Context, userID, roleName string, actorID string, meta models.RequestMeta) error {
	role, err := s.repo.FindByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role")
	}

	removed, err := s.repo.Unassign(ctx, userID, role.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to remove role")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "user does not have this role")
	}

	s.auditMembership(ctx, actorID, userID, role.Name, "removed", meta)
	return nil
}

// RolesForUser returns the roles a user belongs to.
func (s *RoleService) RolesForUser(ctx context.Context, userID string) ([]models.RoleInfo, error) {
	roles, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user roles")
	}
	infos := make([]models.RoleInfo, 0, len(roles))
	for i := range roles {
		infos = append(infos, models.NewRoleInfo(&roles[i]))
	}
	return infos, nil
}

func (s *RoleService) auditRole(ctx context.Context, actorID, roleID string, old, updated *models.Role, meta models.RequestMeta) {
	var oldValues, newValues []byte
	if old != nil {
		oldValues, _ = json.Marshal(map[string]interface{}{"name": old.Name, "active": old.Active})
	}
	if updated != nil {
		newValues, _ = json.Marshal(map[string]interface{}{"name": updated.Name, "active": updated.Active})
	}
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionRoleChange,
		Resource:   "roles",
		ResourceID: &roleID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record role audit log", zap.Error(err))
	}
}

func (s *RoleService) auditMembership(ctx context.Context, actorID, userID, roleName, change string, meta models.RequestMeta) {
	payload, _ := json.Marshal(map[string]interface{}{"role": roleName, "change": change})
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionRoleChange,
		Resource:   "user_roles",
		ResourceID: &userID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record membership audit log", zap.Error(err))
	}
}
