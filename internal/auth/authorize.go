package auth

import "strings"

// Principal is an authenticated caller with a resolved permission snapshot.
// The snapshot is embedded in the access token at issuance time, so
// permission changes take effect on the next token refresh.
type Principal struct {
	UserID      string
	Username    string
	Email       string
	CustomerID  string
	Roles       []string
	Permissions map[string]struct{}
}

// NewPrincipal builds a principal from a user and the union of permissions
// granted by its roles.
func NewPrincipal(user *User, roles []string, perms []string) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, key := range perms {
		set[key] = struct{}{}
	}
	return Principal{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		CustomerID:  user.CustomerID,
		Roles:       roles,
		Permissions: set,
	}
}

// HasPermission reports whether the snapshot contains the exact key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// PermissionList returns the snapshot as a sorted-insensitive slice for
// serialization into token claims and login responses.
func (p Principal) PermissionList() []string {
	out := make([]string, 0, len(p.Permissions))
	for key := range p.Permissions {
		out = append(out, key)
	}
	return out
}

// Scope narrows a permission check to a specific record, identified by the
// principal id (or linked customer id) that owns it.
type Scope struct {
	OwnerID string
}

// Authorize decides whether the principal may perform the action named by
// perm ("resource.action"), optionally narrowed to a scope. It is pure:
// no store access, no side effects. Absence of an explicit grant is always
// a denial.
func Authorize(p Principal, perm string, scope *Scope) error {
	if perm == "" {
		return ErrPermissionDenied
	}

	// Full-access marker short-circuits regardless of scope.
	if p.HasPermission(PermFullAccess) {
		return nil
	}

	// Exact grant covers any scope.
	if p.HasPermission(perm) {
		return nil
	}

	// Resource wildcard: "accounts.*" covers "accounts.read" etc.
	if resource, _, ok := strings.Cut(perm, "."); ok {
		if p.HasPermission(resource + ".*") {
			return nil
		}
	}

	// Ownership-scoped grant: "accounts.read.own" covers "accounts.read"
	// only when the target record belongs to the caller.
	if p.HasPermission(perm + ".own") {
		if scope == nil || scope.OwnerID == "" {
			return ErrPermissionDenied
		}
		if scope.OwnerID == p.UserID || (p.CustomerID != "" && scope.OwnerID == p.CustomerID) {
			return nil
		}
	}

	return ErrPermissionDenied
}
