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

const roleColumns = `id, name, description, active, created_at`

// RoleRepository provides database access for roles and role membership.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new instance of RoleRepository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// FindByID returns a role by identifier.
func (r *RoleRepository) FindByID(ctx context.Context, id string) (*models.Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE id = $1 LIMIT 1`, roleColumns)
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find role by id: %w", err)
	}
	return &role, nil
}

// FindByName returns a role by its unique name.
func (r *RoleRepository) FindByName(ctx context.Context, name string) (*models.Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE name = $1 LIMIT 1`, roleColumns)
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find role by name: %w", err)
	}
	return &role, nil
}

// List returns all roles ordered by name, optionally only active ones.
func (r *RoleRepository) List(ctx context.Context, activeOnly bool) ([]models.Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles ORDER BY name ASC`, roleColumns)
	if activeOnly {
		query = fmt.Sprintf(`SELECT %s FROM roles WHERE active = TRUE ORDER BY name ASC`, roleColumns)
	}
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// Create inserts a new role. Duplicate names violate the unique constraint and
// surface unchanged for conflict mapping.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO roles (id, name, description, active, created_at) VALUES (:id, :name, :description, :active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, role); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// Update updates the role's mutable fields.
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	const query = `UPDATE roles SET name = :name, description = :description, active = :active WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, role); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// Delete removes a role. Memberships cascade.
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM roles WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

// Assign adds the user to the role. Duplicate memberships violate the primary
// key and surface unchanged for conflict mapping.
func (r *RoleRepository) Assign(ctx context.Context, userID, roleID string) error {
	const query = `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID, time.Now().UTC()); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// Unassign removes the user from the role, reporting whether a membership row
// existed.
func (r *RoleRepository) Unassign(ctx context.Context, userID, roleID string) (bool, error) {
	const query = `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`
	res, err := r.db.ExecContext(ctx, query, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("unassign role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unassign role affected rows: %w", err)
	}
	return affected > 0, nil
}

// RolesForUser returns the roles the user belongs to, ordered by name.
func (r *RoleRepository) RolesForUser(ctx context.Context, userID string) ([]models.Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name ASC`, prefixColumns("r", roleColumns))
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query, userID); err != nil {
		return nil, fmt.Errorf("roles for user: %w", err)
	}
	return roles, nil
}

// RoleNamesForUser returns just the role names for claims assembly.
func (r *RoleRepository) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name ASC`
	var names []string
	if err := r.db.SelectContext(ctx, &names, query, userID); err != nil {
		return nil, fmt.Errorf("role names for user: %w", err)
	}
	return names, nil
}
