package auth

import "time"

// Account statuses. LOCKED is a one-way transition made by the lockout
// policy or an administrator; only UnlockAccount reverses it.
const (
	StatusActive              = "ACTIVE"
	StatusLocked              = "LOCKED"
	StatusSuspended           = "SUSPENDED"
	StatusPendingVerification = "PENDING_VERIFICATION"
)

// User represents a principal able to authenticate against the service.
// Users are never hard-deleted; status transitions preserve audit continuity.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	FailedLogins int       `json:"-"`
	LastLoginAt  time.Time `json:"last_login_at,omitempty"`
	CustomerID   string    `json:"customer_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups permissions. Roles are static reference data seeded once.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission is a fine-grained capability keyed as "resource.action".
// "resource.*" grants every action on a resource, "resource.action.own"
// restricts the grant to records owned by the caller, and "*" is the
// full-access marker carried by administrative roles.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Assignment links a user to a role.
type Assignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshToken is the persisted record backing one refresh credential.
// The token itself is a signed JWT whose jti equals ID; the record is the
// revocation authority.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
	Client    string    `json:"client,omitempty"`
}

// AuditEntry is an append-only record of a security-relevant event.
type AuditEntry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Event      string            `json:"event"`
	ActorID    string            `json:"actor_id,omitempty"`
	Outcome    string            `json:"outcome"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
}

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)
