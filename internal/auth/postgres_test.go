package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPGStore(db), mock
}

func TestRevokeWinsWhenFlagClear(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`update refresh_tokens set revoked = true where id=\$1 and revoked = false`).
		WithArgs("tok_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RefreshTokens().Revoke(context.Background(), "tok_1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
}

func TestRevokeLosesWhenAlreadyRevoked(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`update refresh_tokens set revoked = true`).
		WithArgs("tok_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select revoked from refresh_tokens`).
		WithArgs("tok_1").
		WillReturnRows(sqlmock.NewRows([]string{"revoked"}).AddRow(true))

	err := store.RefreshTokens().Revoke(context.Background(), "tok_1")
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("got %v, want ErrTokenRevoked", err)
	}
}

func TestRevokeUnknownToken(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`update refresh_tokens set revoked = true`).
		WithArgs("tok_x").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select revoked from refresh_tokens`).
		WithArgs("tok_x").
		WillReturnError(sql.ErrNoRows)

	err := store.RefreshTokens().Revoke(context.Background(), "tok_x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRevokeAllForUserCounts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`update refresh_tokens set revoked = true where user_id=\$1`).
		WithArgs("usr_1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.RefreshTokens().RevokeAllForUser(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d revoked, want 3", n)
	}
}

func TestDeleteExpiredCounts(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`delete from refresh_tokens where expires_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.RefreshTokens().DeleteExpired(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d deleted, want 2", n)
	}
}

func TestRecordLoginFailureReturnsCounter(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`update users set failed_logins = failed_logins \+ 1`).
		WithArgs("usr_1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_logins"}).AddRow(3))

	n, err := store.Users().RecordLoginFailure(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if n != 3 {
		t.Fatalf("got counter %d, want 3", n)
	}
}

func TestRecordLoginFailureUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`update users set failed_logins`).
		WithArgs("usr_x").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Users().RecordLoginFailure(context.Background(), "usr_x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestFindByUsername(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "status",
		"failed_logins", "last_login_at", "customer_id", "created_at", "updated_at",
	}).AddRow("usr_1", "alice", "alice@corebank.test", "$2a$10$hash", "ACTIVE", 0, nil, "cust_1", now, now)
	mock.ExpectQuery(`select .+ from users where username=\$1`).
		WithArgs("alice").
		WillReturnRows(rows)

	user, err := store.Users().FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.ID != "usr_1" || user.CustomerID != "cust_1" || !user.LastLoginAt.IsZero() {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestFindByUsernameNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`select .+ from users where username=\$1`).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Users().FindByUsername(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSetForRoleRunsInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`delete from role_permissions where role_id=\$1`).
		WithArgs("role_1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`insert into role_permissions`).
		WithArgs("role_1", PermAccountsRead).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into role_permissions`).
		WithArgs("role_1", PermCardsRead).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Permissions().SetForRole(context.Background(), "role_1",
		[]string{PermAccountsRead, PermCardsRead})
	if err != nil {
		t.Fatalf("set for role: %v", err)
	}
}

func TestAuditAppend(t *testing.T) {
	store, mock := newMockStore(t)
	occurred := time.Now().UTC()
	mock.ExpectExec(`insert into audit_log`).
		WithArgs(sqlmock.AnyArg(), occurred, "auth.login", "usr_1", OutcomeSuccess,
			[]byte(`{"username":"alice"}`), "req_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Audit().Append(context.Background(), &AuditEntry{
		OccurredAt: occurred,
		Event:      "auth.login",
		ActorID:    "usr_1",
		Outcome:    OutcomeSuccess,
		Metadata:   map[string]string{"username": "alice"},
		RequestID:  "req_1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestMapStoreErrClassification(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	if got := mapStoreErr(dup); !errors.Is(got, ErrAlreadyExists) {
		t.Fatalf("unique violation: got %v", got)
	}
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "user_roles_user_id_fkey"}
	if got := mapStoreErr(fk); !errors.Is(got, ErrInvalidInput) {
		t.Fatalf("fk violation: got %v", got)
	}
	if got := mapStoreErr(errors.New("connection refused")); !errors.Is(got, ErrStoreUnavailable) {
		t.Fatalf("infrastructure failure: got %v", got)
	}
	if got := mapStoreErr(nil); got != nil {
		t.Fatalf("nil error: got %v", got)
	}
}
