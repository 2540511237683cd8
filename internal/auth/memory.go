package auth

import (
	"context"
	"sync"
	"time"

	"corebank.io/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It backs
// local development and tests; production deployments use PGStore.
// Mutations take the store lock so the rotation and lockout guarantees
// hold the same way the conditional SQL updates do.
type InMemory struct {
	mu sync.Mutex

	users       map[string]*User
	roles       map[string]Role
	assignments map[string]map[string]bool // userID -> roleID set
	perms       map[string]Permission      // key -> permission
	rolePerms   map[string][]string        // roleID -> permission keys
	tokens      map[string]*RefreshToken
	audits      []AuditEntry
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:       make(map[string]*User),
		roles:       make(map[string]Role),
		assignments: make(map[string]map[string]bool),
		perms:       make(map[string]Permission),
		rolePerms:   make(map[string][]string),
		tokens:      make(map[string]*RefreshToken),
	}
}

var _ Store = (*InMemory)(nil)

// AuditEvents returns a snapshot of the appended audit entries in order.
func (m *InMemory) AuditEvents() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audits))
	copy(out, m.audits)
	return out
}

func (m *InMemory) Users() UserStore                 { return (*memUserStore)(m) }
func (m *InMemory) Roles() RoleStore                 { return (*memRoleStore)(m) }
func (m *InMemory) Permissions() PermissionStore     { return (*memPermissionStore)(m) }
func (m *InMemory) RefreshTokens() RefreshTokenStore { return (*memTokenStore)(m) }
func (m *InMemory) Audit() AuditStore                { return (*memAuditStore)(m) }

type memUserStore InMemory

func (m *memUserStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrAlreadyExists
		}
	}
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUserStore) Find(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memUserStore) RecordLoginFailure(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.FailedLogins++
	return u.FailedLogins, nil
}

func (m *memUserStore) ResetLoginFailures(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLogins = 0
	if !at.IsZero() {
		u.LastLoginAt = at
	}
	return nil
}

func (m *memUserStore) SetStatus(ctx context.Context, userID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

type memRoleStore InMemory

func (m *memRoleStore) Ensure(ctx context.Context, roles []Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range roles {
		if _, ok := m.findByNameLocked(role.Name); ok {
			continue
		}
		if role.ID == "" {
			role.ID = ids.New()
		}
		m.roles[role.ID] = role
	}
	return nil
}

func (m *memRoleStore) findByNameLocked(name string) (Role, bool) {
	for _, role := range m.roles {
		if role.Name == name {
			return role, true
		}
	}
	return Role{}, false
}

func (m *memRoleStore) List(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	return out, nil
}

func (m *memRoleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.findByNameLocked(name)
	if !ok {
		return nil, ErrNotFound
	}
	return &role, nil
}

func (m *memRoleStore) Assign(ctx context.Context, assignment Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.assignments[assignment.UserID]
	if !ok {
		set = make(map[string]bool)
		m.assignments[assignment.UserID] = set
	}
	set[assignment.RoleID] = true
	return nil
}

func (m *memRoleStore) Remove(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments[userID], roleID)
	return nil
}

func (m *memRoleStore) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for roleID := range m.assignments[userID] {
		out = append(out, Assignment{UserID: userID, RoleID: roleID})
	}
	return out, nil
}

func (m *memRoleStore) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for roleID := range m.assignments[userID] {
		if role, ok := m.roles[roleID]; ok {
			names = append(names, role.Name)
		}
	}
	return names, nil
}

type memPermissionStore InMemory

func (m *memPermissionStore) Ensure(ctx context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.perms[p.Key]; ok {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		m.perms[p.Key] = p
	}
	return nil
}

func (m *memPermissionStore) List(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPermissionStore) SetForRole(ctx context.Context, roleID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolePerms[roleID] = append([]string(nil), keys...)
	return nil
}

func (m *memPermissionStore) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, key := range m.rolePerms[roleID] {
		if p, ok := m.perms[key]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPermissionStore) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var keys []string
	for roleID := range m.assignments[userID] {
		for _, key := range m.rolePerms[roleID] {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

type memTokenStore InMemory

func (m *memTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	cp := *tok
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *memTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memTokenStore) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	if tok.Revoked {
		return ErrTokenRevoked
	}
	tok.Revoked = true
	return nil
}

func (m *memTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tok := range m.tokens {
		if tok.UserID == userID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *memTokenStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, tok := range m.tokens {
		if tok.ExpiresAt.Before(olderThan) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

type memAuditStore InMemory

func (m *memAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, *entry)
	return nil
}
