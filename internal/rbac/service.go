package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/prenda-erp/prenda-erp/internal/platform/cache"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = fmt.Errorf("%w: rbac", shared.ErrNotFound)

// Store is the persistence required by Service.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
	ListRolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error
	AssignRole(ctx context.Context, userID uuid.UUID, roleID int64) error
	RemoveRole(ctx context.Context, userID uuid.UUID, roleID int64) error
	UserEffectivePermissions(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Service orchestrates RBAC operations.
type Service struct {
	store Store
	cache *cache.JSON
}

// NewService constructs a Service. A nil cache reads permissions from the store every time.
func NewService(store Store, permCache *cache.JSON) *Service {
	return &Service{store: store, cache: permCache}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole loads a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: rbac: role name required", shared.ErrValidation)
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// Seed upserts the builtin permissions.
func (s *Service) Seed(ctx context.Context) error {
	for _, p := range Builtin {
		if _, err := s.store.UpsertPermission(ctx, p.Name, p.Description); err != nil {
			return err
		}
	}
	return nil
}

// SetRolePermissions replaces permissions for a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	current, err := s.store.ListRolePermissionIDs(ctx, roleID)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, id := range current {
		existing[id] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			if err := s.store.AttachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	for id := range existing {
		if _, ok := keep[id]; !ok {
			if err := s.store.DetachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// AssignRole assigns a role to the given user.
func (s *Service) AssignRole(ctx context.Context, userID uuid.UUID, roleID int64) error {
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.evict(ctx, userID)
}

// RemoveRole removes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID uuid.UUID, roleID int64) error {
	if err := s.store.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.evict(ctx, userID)
}

// EffectivePermissions returns deduplicated, lowercased permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var cached []string
	if err := s.cache.Get(ctx, userID.String(), &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, err
	}
	rows, err := s.store.UserEffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	perms := make([]string, 0, len(rows))
	for _, p := range rows {
		p = strings.ToLower(strings.TrimSpace(p))
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		perms = append(perms, p)
	}
	_ = s.cache.Set(ctx, userID.String(), perms)
	return perms, nil
}

// HasPermission reports whether the user holds perm.
func (s *Service) HasPermission(ctx context.Context, userID uuid.UUID, perm string) (bool, error) {
	if strings.TrimSpace(perm) == "" {
		return false, nil
	}
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return hasAnyPermission(granted, normalizePermissions([]string{perm})), nil
}

func (s *Service) evict(ctx context.Context, userID uuid.UUID) error {
	return s.cache.Delete(ctx, userID.String())
}
