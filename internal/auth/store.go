package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Implementations map infrastructure failures to ErrStoreUnavailable so the
// service layer can distinguish transient faults from terminal denials.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore
	Audit() AuditStore
}

// UserStore manages principals and the lockout counters attached to them.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// RecordLoginFailure atomically increments the failed-login counter and
	// returns the new value. Concurrent failures must never undercount.
	RecordLoginFailure(ctx context.Context, userID string) (int, error)

	// ResetLoginFailures zeroes the counter and stamps the last login.
	ResetLoginFailures(ctx context.Context, userID string, at time.Time) error

	SetStatus(ctx context.Context, userID, status string) error
}

// RoleStore manages the role catalog and user assignments.
type RoleStore interface {
	Ensure(ctx context.Context, roles []Role) error
	List(ctx context.Context) ([]Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	Assign(ctx context.Context, assignment Assignment) error
	Remove(ctx context.Context, userID, roleID string) error
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
	RoleNamesForUser(ctx context.Context, userID string) ([]string, error)
}

// PermissionStore manages the permission catalog and role grants.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	SetForRole(ctx context.Context, roleID string, keys []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
}

// RefreshTokenStore manages the refresh-record lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)

	// Revoke marks the record revoked only when it is currently not revoked.
	// It returns ErrTokenRevoked when another caller won the race and
	// ErrNotFound when no such record exists. This conditional update is
	// what serializes concurrent rotation attempts on the same token.
	Revoke(ctx context.Context, id string) error

	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	DeleteExpired(ctx context.Context, olderThan time.Time) (int, error)
}

// AuditStore appends immutable entries. Entries are never updated or
// deleted by the application.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
