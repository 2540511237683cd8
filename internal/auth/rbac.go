package auth

import (
	"context"
	"fmt"
	"strings"
)

// RBACService manages users, the role catalog and role assignments. The
// catalog itself is static reference data; what changes at runtime is who
// holds which role.
type RBACService struct {
	store    Store
	recorder Recorder
}

// NewRBACService constructs an RBACService.
func NewRBACService(store Store, recorder Recorder) (*RBACService, error) {
	if store == nil {
		return nil, fmt.Errorf("rbac store is required")
	}
	return &RBACService{store: store, recorder: recorder}, nil
}

// CreateUser registers a new principal in ACTIVE status.
func (s *RBACService) CreateUser(ctx context.Context, username, email, password, customerID string) (*User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       StatusActive,
		CustomerID:   strings.TrimSpace(customerID),
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, "rbac.user.create", user.ID, map[string]string{"username": username})
	return user, nil
}

// ListRoles returns the role catalog.
func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.Roles().List(ctx)
}

// AssignRole grants a role, addressed by name, to a user.
func (s *RBACService) AssignRole(ctx context.Context, userID, roleName string) error {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(strings.ToUpper(roleName))
	if userID == "" || roleName == "" {
		return fmt.Errorf("%w: user_id and role are required", ErrInvalidInput)
	}
	role, err := s.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.store.Roles().Assign(ctx, Assignment{UserID: userID, RoleID: role.ID}); err != nil {
		return err
	}
	s.audit(ctx, "rbac.role.assign", userID, map[string]string{"role": roleName})
	return nil
}

// RemoveRole withdraws a role assignment.
func (s *RBACService) RemoveRole(ctx context.Context, userID, roleName string) error {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(strings.ToUpper(roleName))
	if userID == "" || roleName == "" {
		return fmt.Errorf("%w: user_id and role are required", ErrInvalidInput)
	}
	role, err := s.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.store.Roles().Remove(ctx, userID, role.ID); err != nil {
		return err
	}
	s.audit(ctx, "rbac.role.remove", userID, map[string]string{"role": roleName})
	return nil
}

// SetRolePermissions replaces a role's grants. Keys outside the builtin
// catalog are rejected by the store's foreign key into permissions.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleName string, keys []string) error {
	roleName = strings.TrimSpace(strings.ToUpper(roleName))
	if roleName == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	role, err := s.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.store.Permissions().SetForRole(ctx, role.ID, dedupeStrings(keys)); err != nil {
		return err
	}
	s.audit(ctx, "rbac.role.permissions", "", map[string]string{
		"role":  roleName,
		"count": fmt.Sprintf("%d", len(keys)),
	})
	return nil
}

// UserPermissions returns the effective permission set of a user.
func (s *RBACService) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Permissions().PermissionsForUser(ctx, userID)
}

func (s *RBACService) audit(ctx context.Context, event, actorID string, meta map[string]string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, AuditEntry{
		Event:    event,
		ActorID:  actorID,
		Outcome:  OutcomeSuccess,
		Metadata: meta,
	})
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
