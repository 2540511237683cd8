package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "unit-test-signing-secret"

// recordingRecorder writes straight through to the store for assertions.
type recordingRecorder struct {
	store AuditStore
}

func (r *recordingRecorder) Record(ctx context.Context, entry AuditEntry) {
	_ = r.store.Append(ctx, &entry)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *InMemory, *testClock) {
	t.Helper()
	store := NewInMemory()
	clock := newTestClock()
	opts = append([]ServiceOption{
		WithClock(clock.Now),
		WithRecorder(&recordingRecorder{store: store.Audit()}),
	}, opts...)
	svc, err := NewService(store, testSecret, opts...)
	require.NoError(t, err)
	require.NoError(t, svc.EnsureCatalog(context.Background()))
	return svc, store, clock
}

// seedUser creates an active user with the given roles assigned. MinCost
// keeps the hashing out of the test runtime.
func seedUser(t *testing.T, store *InMemory, username, password string, roles ...string) *User {
	t.Helper()
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &User{
		Username:     username,
		Email:        username + "@corebank.test",
		PasswordHash: string(hash),
		Status:       StatusActive,
		CustomerID:   "cust-" + username,
	}
	require.NoError(t, store.Users().Create(ctx, user))
	for _, name := range roles {
		role, err := store.Roles().FindByName(ctx, name)
		require.NoError(t, err)
		require.NoError(t, store.Roles().Assign(ctx, Assignment{UserID: user.ID, RoleID: role.ID}))
	}
	return user
}

func TestLoginIssuesSnapshotTokens(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	// Username matching is trimmed and case-insensitive.
	res, err := svc.Login(ctx, "  Alice  ", "opensesame1", "tests")
	require.NoError(t, err)
	require.Equal(t, []string{RoleCustomer}, res.Roles)
	require.Contains(t, res.Permissions, PermAccountsReadOwn)
	require.Contains(t, res.Permissions, PermTransactionsReadOwn)
	require.NotContains(t, res.Permissions, PermAccountsRead)

	// The access token carries the snapshot, so verification is stateless.
	principal, err := svc.AuthenticateToken(res.Pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.Principal.UserID, principal.UserID)
	require.True(t, principal.HasPermission(PermAccountsReadOwn))
	require.False(t, principal.HasPermission(PermAccountsRead))
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Login(context.Background(), "nobody", "whatever", "tests")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	_, err := svc.Login(ctx, "alice", "wrong", "tests")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	stored, err := store.Users().Find(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.FailedLogins)
	require.Equal(t, StatusActive, stored.Status)
}

func TestLockoutAtThreshold(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	// An earlier session must not survive the lockout.
	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := svc.Login(ctx, "alice", "wrong", "tests")
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}
	_, err = svc.Login(ctx, "alice", "wrong", "tests")
	require.ErrorIs(t, err, ErrAccountLocked)

	stored, err := store.Users().Find(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, StatusLocked, stored.Status)

	// Locked means locked, even with the right password.
	_, err = svc.Login(ctx, "alice", "opensesame1", "tests")
	require.ErrorIs(t, err, ErrAccountLocked)

	_, _, err = svc.Refresh(ctx, res.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestAdminLoginScenario(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedUser(t, store, "admin", "topsecret-admin", RoleAdmin)
	ctx := context.Background()

	res, err := svc.Login(ctx, "admin", "topsecret-admin", "tests")
	require.NoError(t, err)
	require.Contains(t, res.Roles, RoleAdmin)
	require.NotEmpty(t, res.Permissions)
	require.Contains(t, res.Permissions, PermFullAccess)
	require.Contains(t, res.Permissions, PermCardsAll)

	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, "admin", "not-the-password", "tests")
		require.Error(t, err, "attempt %d", i+1)
	}
	_, err = svc.Login(ctx, "admin", "topsecret-admin", "tests")
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Login(ctx, "alice", "wrong", "tests")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	// The counter restarted from zero, so four more misses stay below the
	// threshold.
	for i := 0; i < 4; i++ {
		_, err := svc.Login(ctx, "alice", "wrong", "tests")
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()
	require.NoError(t, store.Users().SetStatus(ctx, user.ID, StatusSuspended))

	_, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestUnlockRestoresAccess(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	require.NoError(t, svc.LockAccount(ctx, user.ID, "fraud review"))
	_, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.ErrorIs(t, err, ErrAccountLocked)

	require.NoError(t, svc.UnlockAccount(ctx, user.ID, "review cleared"))
	_, err = svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	stored, err := store.Users().Find(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.FailedLogins)
}

func TestRefreshRotatesSession(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	pair, principal, err := svc.Refresh(ctx, res.Pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, res.Principal.UserID, principal.UserID)
	require.NotEqual(t, res.Pair.RefreshToken, pair.RefreshToken)

	// Replaying the rotated-out token fails and, as a compromise signal,
	// takes the rest of the user's sessions down with it.
	_, _, err = svc.Refresh(ctx, res.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	n, err := store.RefreshTokens().RevokeAllForUser(ctx, principal.UserID)
	require.NoError(t, err)
	require.Zero(t, n, "no active sessions should remain after replay")
}

func TestRefreshPicksUpRoleChanges(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)
	require.False(t, res.Principal.HasPermission(PermAccountsRead))

	manager, err := store.Roles().FindByName(ctx, RoleManager)
	require.NoError(t, err)
	require.NoError(t, store.Roles().Assign(ctx, Assignment{UserID: user.ID, RoleID: manager.ID}))

	_, principal, err := svc.Refresh(ctx, res.Pair.RefreshToken)
	require.NoError(t, err)
	require.True(t, principal.HasPermission(PermAccountsRead))
}

func TestRefreshExpiredSession(t *testing.T) {
	svc, store, clock := newTestService(t, WithRefreshTTL(time.Hour))
	seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	_, _, err = svc.Refresh(ctx, res.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestAccessTokenExpiryBoundary(t *testing.T) {
	svc, store, clock := newTestService(t)
	seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	clock.Advance(defaultAccessTTL - time.Second)
	_, err = svc.AuthenticateToken(res.Pair.AccessToken)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	_, err = svc.AuthenticateToken(res.Pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefreshRejectsLockedAccount(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	// Flip the status directly; the session record itself is untouched.
	require.NoError(t, store.Users().SetStatus(ctx, user.ID, StatusLocked))
	_, _, err = svc.Refresh(ctx, res.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, res.Pair.RefreshToken))
	require.NoError(t, svc.Logout(ctx, res.Pair.RefreshToken))
	require.NoError(t, svc.Logout(ctx, "not-even-a-token"))

	_, _, err = svc.Refresh(ctx, res.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Refresh(ctx, res.Pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrTokenRevoked, "caller %d", i)
	}
	require.Equal(t, 1, wins, "exactly one concurrent refresh may win")
}

func TestRevokeAllSessions(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	first, err := svc.Login(ctx, "alice", "opensesame1", "web")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "alice", "opensesame1", "mobile")
	require.NoError(t, err)

	n, err := svc.RevokeAllSessions(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, _, err = svc.Refresh(ctx, first.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
	_, _, err = svc.Refresh(ctx, second.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestPruneExpiredSessions(t *testing.T) {
	svc, store, clock := newTestService(t, WithRefreshTTL(time.Hour))
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	_, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	n, err := svc.PruneExpiredSessions(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Zero(t, n, "live session must survive pruning")

	clock.Advance(time.Hour + 24*time.Hour + time.Second)
	n, err = svc.PruneExpiredSessions(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The record is gone entirely, not just revoked.
	left, err := store.RefreshTokens().RevokeAllForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, left)
}

func TestChangePassword(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, user.ID, "wrong", "n3w-passphrase")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "opensesame1", "n3w-passphrase"))

	_, err = svc.Login(ctx, "alice", "opensesame1", "tests")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "alice", "n3w-passphrase", "tests")
	require.NoError(t, err)

	// Standing sessions fall with the old password.
	_, _, err = svc.Refresh(ctx, res.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestEnsureCatalogIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureCatalog(ctx))

	roles, err := store.Roles().List(ctx)
	require.NoError(t, err)
	require.Len(t, roles, len(BuiltinRoles))

	perms, err := store.Permissions().List(ctx)
	require.NoError(t, err)
	require.Len(t, perms, len(BuiltinPermissions))
}

func TestAuthorizeDenialEmitsAuditEvent(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "opensesame1", "tests")
	require.NoError(t, err)

	err = svc.Authorize(ctx, res.Principal, PermRolesManage, nil)
	require.ErrorIs(t, err, ErrPermissionDenied)

	// An allowed check leaves no trace.
	require.NoError(t, svc.Authorize(ctx, res.Principal, PermAccountsRead, &Scope{OwnerID: user.ID}))

	var denial *AuditEntry
	for _, entry := range store.AuditEvents() {
		if entry.Event == "authz.denied" {
			e := entry
			denial = &e
		}
	}
	require.NotNil(t, denial, "expected an authz.denied audit entry")
	require.Equal(t, user.ID, denial.ActorID)
	require.Equal(t, OutcomeDenied, denial.Outcome)
	require.Equal(t, PermRolesManage, denial.Metadata["permission"])
}

func TestLockoutEmitsAuditEvent(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedUser(t, store, "alice", "opensesame1", RoleCustomer)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = svc.Login(ctx, "alice", "wrong", "tests")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	var sawLockout bool
	for _, entry := range store.audits {
		if entry.Event == "auth.lockout" {
			sawLockout = true
		}
	}
	require.True(t, sawLockout, "expected an auth.lockout audit entry")
}
