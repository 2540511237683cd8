package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"corebank.io/internal/ids"
	"corebank.io/internal/obs"
)

const (
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultLockoutThreshold = 5
)

// Recorder receives audit events. Implementations must never fail the
// caller; see internal/audit.
type Recorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Service implements credential verification, the lockout policy, token
// issuance and the refresh-session lifecycle.
type Service struct {
	store    Store
	issuer   *Issuer
	recorder Recorder
	now      func() time.Time

	issuerName       string
	accessTTL        time.Duration
	refreshTTL       time.Duration
	lockoutThreshold int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures the access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithLockoutThreshold configures how many consecutive failed logins lock
// an account.
func WithLockoutThreshold(n int) ServiceOption {
	return func(s *Service) error {
		if n < 1 {
			return errors.New("auth: lockout threshold must be at least 1")
		}
		s.lockoutThreshold = n
		return nil
	}
}

// WithIssuerName overrides the token issuer claim.
func WithIssuerName(name string) ServiceOption {
	return func(s *Service) error {
		s.issuerName = strings.TrimSpace(name)
		return nil
	}
}

// WithRecorder attaches the audit recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) error {
		s.recorder = r
		return nil
	}
}

// NewService constructs a Service signing tokens with the given secret.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:            store,
		now:              time.Now,
		issuerName:       "corebank",
		accessTTL:        defaultAccessTTL,
		refreshTTL:       defaultRefreshTTL,
		lockoutThreshold: defaultLockoutThreshold,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	issuer, err := NewIssuer(secret, svc.issuerName, svc.accessTTL, svc.refreshTTL, svc.now)
	if err != nil {
		return nil, err
	}
	svc.issuer = issuer
	return svc, nil
}

// EnsureCatalog seeds the builtin roles, permissions and role grants.
// Safe to call on every startup; existing rows are left untouched.
func (s *Service) EnsureCatalog(ctx context.Context) error {
	if err := s.store.Permissions().Ensure(ctx, BuiltinPermissions); err != nil {
		return fmt.Errorf("ensure permissions: %w", err)
	}
	if err := s.store.Roles().Ensure(ctx, BuiltinRoles); err != nil {
		return fmt.Errorf("ensure roles: %w", err)
	}
	for name, keys := range DefaultRoleGrants {
		role, err := s.store.Roles().FindByName(ctx, name)
		if err != nil {
			return fmt.Errorf("find role %s: %w", name, err)
		}
		if err := s.store.Permissions().SetForRole(ctx, role.ID, keys); err != nil {
			return fmt.Errorf("grant role %s: %w", name, err)
		}
	}
	return nil
}

// TokenPair holds freshly issued credentials.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LoginResult is returned to route collaborators on successful login.
type LoginResult struct {
	Pair        TokenPair
	Principal   Principal
	Roles       []string
	Permissions []string
}

// Login verifies credentials, applies the lockout policy and issues a
// fresh token pair.
func (s *Service) Login(ctx context.Context, username, password, client string) (LoginResult, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		obs.ObserveLoginAttempt("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := s.store.Users().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn comparable time so unknown usernames are not cheaper
			// to probe than wrong passwords.
			verifyDummy(password)
			s.record(ctx, AuditEntry{
				Event:    "auth.login",
				Outcome:  OutcomeFailure,
				Metadata: map[string]string{"username": username, "reason": "unknown_user"},
			})
			obs.ObserveLoginAttempt("invalid_credentials")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	// Inactive accounts are rejected before the password comparison so the
	// response does not leak whether the password would have matched.
	switch user.Status {
	case StatusActive:
	case StatusLocked:
		s.recordFor(ctx, user.ID, "auth.login", OutcomeFailure, map[string]string{"reason": "locked"})
		obs.ObserveLoginAttempt("locked")
		return LoginResult{}, ErrAccountLocked
	default:
		s.recordFor(ctx, user.ID, "auth.login", OutcomeFailure, map[string]string{"reason": "inactive", "status": user.Status})
		obs.ObserveLoginAttempt("inactive")
		return LoginResult{}, ErrAccountInactive
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return LoginResult{}, s.loginFailure(ctx, user)
	}

	if err := s.store.Users().ResetLoginFailures(ctx, user.ID, s.now().UTC()); err != nil {
		return LoginResult{}, err
	}

	principal, err := s.principal(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	pair, err := s.mintPair(ctx, principal, client)
	if err != nil {
		return LoginResult{}, err
	}

	s.recordFor(ctx, user.ID, "auth.login", OutcomeSuccess, map[string]string{"username": user.Username})
	obs.ObserveLoginAttempt("success")
	return LoginResult{
		Pair:        pair,
		Principal:   principal,
		Roles:       principal.Roles,
		Permissions: principal.PermissionList(),
	}, nil
}

// loginFailure applies the atomic counter increment and the threshold
// transition to LOCKED.
func (s *Service) loginFailure(ctx context.Context, user *User) error {
	failures, err := s.store.Users().RecordLoginFailure(ctx, user.ID)
	if err != nil {
		return err
	}
	if failures >= s.lockoutThreshold {
		if err := s.store.Users().SetStatus(ctx, user.ID, StatusLocked); err != nil {
			return err
		}
		// Defense in depth: a freshly locked account keeps no standing
		// refresh sessions either.
		if _, err := s.store.RefreshTokens().RevokeAllForUser(ctx, user.ID); err != nil {
			return err
		}
		s.recordFor(ctx, user.ID, "auth.lockout", OutcomeSuccess, map[string]string{
			"failures": fmt.Sprintf("%d", failures),
		})
		obs.ObserveLockout()
		obs.ObserveLoginAttempt("locked")
		return ErrAccountLocked
	}
	s.recordFor(ctx, user.ID, "auth.login", OutcomeFailure, map[string]string{
		"reason":   "bad_password",
		"failures": fmt.Sprintf("%d", failures),
	})
	obs.ObserveLoginAttempt("invalid_credentials")
	return ErrInvalidCredentials
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued. Exactly one of two concurrent calls with the same
// token succeeds; the loser observes the already-revoked record.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	userID, jti, err := s.issuer.VerifyRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}

	record, err := s.store.RefreshTokens().Find(ctx, jti)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Principal{}, ErrSessionNotFound
		}
		return TokenPair{}, Principal{}, err
	}
	if record.UserID != userID {
		return TokenPair{}, Principal{}, ErrTokenMalformed
	}
	if record.Revoked {
		// Replay of a rotated-out token. Treat it as a compromise signal
		// and drop every other session belonging to the principal.
		if _, err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
			return TokenPair{}, Principal{}, err
		}
		s.recordFor(ctx, userID, "auth.session.replay", OutcomeDenied, map[string]string{"token_id": jti})
		return TokenPair{}, Principal{}, ErrTokenRevoked
	}
	if s.now().After(record.ExpiresAt) {
		return TokenPair{}, Principal{}, ErrTokenExpired
	}

	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	switch user.Status {
	case StatusActive:
	case StatusLocked:
		return TokenPair{}, Principal{}, ErrAccountLocked
	default:
		return TokenPair{}, Principal{}, ErrAccountInactive
	}

	// Conditional revoke serializes concurrent rotations of this token.
	if err := s.store.RefreshTokens().Revoke(ctx, jti); err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Principal{}, ErrSessionNotFound
		}
		return TokenPair{}, Principal{}, err
	}

	principal, err := s.principal(ctx, user)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	pair, err := s.mintPair(ctx, principal, record.Client)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}

	s.recordFor(ctx, userID, "auth.session.rotate", OutcomeSuccess, map[string]string{"token_id": jti})
	return pair, principal, nil
}

// Logout revokes the session behind the refresh token. Revoking an already
// revoked, unknown or garbled token succeeds: a session that no longer
// exists is exactly the state logout asks for.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	userID, jti, err := s.issuer.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	if err := s.store.RefreshTokens().Revoke(ctx, jti); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTokenRevoked) {
			return nil
		}
		return err
	}
	s.recordFor(ctx, userID, "auth.session.revoke", OutcomeSuccess, map[string]string{"token_id": jti})
	return nil
}

// RevokeAllSessions drops every active refresh session for the principal.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	n, err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.recordFor(ctx, userID, "auth.session.revoke_all", OutcomeSuccess, map[string]string{
		"revoked": fmt.Sprintf("%d", n),
	})
	return n, nil
}

// PruneExpiredSessions removes refresh records whose lifetime ended before
// the retention grace elapsed. Expiry is enforced at verification time, so
// this only reclaims storage; it never changes an authorization outcome.
func (s *Service) PruneExpiredSessions(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	return s.store.RefreshTokens().DeleteExpired(ctx, cutoff)
}

// AuthenticateToken validates an access token and returns the principal
// reconstructed from its embedded snapshot. Stateless: no store access.
func (s *Service) AuthenticateToken(token string) (Principal, error) {
	return s.issuer.VerifyAccessToken(token)
}

// Authorize runs the pure evaluation and appends the audit entry for every
// denial before the error is returned. Route guards and inline checks both
// go through here so no denial escapes the trail.
func (s *Service) Authorize(ctx context.Context, p Principal, perm string, scope *Scope) error {
	err := Authorize(p, perm, scope)
	if err != nil {
		meta := map[string]string{"permission": perm}
		if scope != nil && scope.OwnerID != "" {
			meta["scope_owner"] = scope.OwnerID
		}
		s.recordFor(ctx, p.UserID, "authz.denied", OutcomeDenied, meta)
	}
	return err
}

// LockAccount is the administrative one-way lock. It also revokes all
// outstanding refresh sessions; standing access tokens die by expiry.
func (s *Service) LockAccount(ctx context.Context, userID, reason string) error {
	if _, err := s.store.Users().Find(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Users().SetStatus(ctx, userID, StatusLocked); err != nil {
		return err
	}
	if _, err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	s.recordFor(ctx, userID, "auth.account.lock", OutcomeSuccess, map[string]string{"reason": reason})
	return nil
}

// UnlockAccount reverses a lock and clears the failure counter.
func (s *Service) UnlockAccount(ctx context.Context, userID, reason string) error {
	if _, err := s.store.Users().Find(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Users().SetStatus(ctx, userID, StatusActive); err != nil {
		return err
	}
	if err := s.store.Users().ResetLoginFailures(ctx, userID, time.Time{}); err != nil {
		return err
	}
	s.recordFor(ctx, userID, "auth.account.unlock", OutcomeSuccess, map[string]string{"reason": reason})
	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every standing refresh session.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		s.recordFor(ctx, userID, "auth.password.change", OutcomeFailure, map[string]string{"reason": "bad_password"})
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if _, err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	s.recordFor(ctx, userID, "auth.password.change", OutcomeSuccess, nil)
	return nil
}

// Principal resolves a user's effective permission set from the store.
func (s *Service) principal(ctx context.Context, user *User) (Principal, error) {
	roles, err := s.store.Roles().RoleNamesForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	perms, err := s.store.Permissions().PermissionsForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, roles, perms), nil
}

func (s *Service) mintPair(ctx context.Context, principal Principal, client string) (TokenPair, error) {
	recordID := ids.New()
	refreshToken, refreshExp, err := s.issuer.IssueRefreshToken(principal.UserID, recordID)
	if err != nil {
		return TokenPair{}, err
	}
	rec := &RefreshToken{
		ID:        recordID,
		UserID:    principal.UserID,
		ExpiresAt: refreshExp,
		CreatedAt: s.now().UTC(),
		Client:    client,
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	accessToken, accessExp, err := s.issuer.IssueAccessToken(principal, uuid.NewString())
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) record(ctx context.Context, entry AuditEntry) {
	if s.recorder == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	s.recorder.Record(ctx, entry)
}

func (s *Service) recordFor(ctx context.Context, actorID, event, outcome string, meta map[string]string) {
	s.record(ctx, AuditEntry{
		Event:    event,
		ActorID:  actorID,
		Outcome:  outcome,
		Metadata: meta,
	})
}
