package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"corebank.io/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL through database/sql with the
// pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) Roles() RoleStore                 { return &roleStore{db: s.db} }
func (s *PGStore) Permissions() PermissionStore     { return &permissionStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{db: s.db} }
func (s *PGStore) Audit() AuditStore                { return &auditStore{db: s.db} }

// mapStoreErr classifies driver failures. Constraint violations become
// terminal input errors; everything infrastructural becomes the retryable
// ErrStoreUnavailable so a slow database never masquerades as a denial.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return ErrAlreadyExists
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, username, email, password_hash, status, failed_logins, last_login_at, customer_id, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, username, email, password_hash, status, customer_id)
		 values($1,$2,$3,$4,$5,nullif($6,''))`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Status, u.CustomerID,
	)
	return mapStoreErr(err)
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u          User
		lastLogin  sql.NullTime
		customerID sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Status,
		&u.FailedLogins, &lastLogin, &customerID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapStoreErr(err)
	}
	if lastLogin.Valid {
		u.LastLoginAt = lastLogin.Time
	}
	if customerID.Valid {
		u.CustomerID = customerID.String
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username))
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash,
	)
	if err != nil {
		return mapStoreErr(err)
	}
	return requireRow(res)
}

// RecordLoginFailure is a single atomic increment; the returned counter is
// what the threshold decision runs on, so concurrent failures cannot
// undercount.
func (s *userStore) RecordLoginFailure(ctx context.Context, userID string) (int, error) {
	var failures int
	err := s.db.QueryRowContext(ctx,
		`update users set failed_logins = failed_logins + 1, updated_at=now()
		 where id=$1 returning failed_logins`,
		userID,
	).Scan(&failures)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return failures, nil
}

func (s *userStore) ResetLoginFailures(ctx context.Context, userID string, at time.Time) error {
	var lastLogin any
	if !at.IsZero() {
		lastLogin = at
	}
	res, err := s.db.ExecContext(ctx,
		`update users set failed_logins = 0, last_login_at = coalesce($2, last_login_at), updated_at=now()
		 where id=$1`,
		userID, lastLogin,
	)
	if err != nil {
		return mapStoreErr(err)
	}
	return requireRow(res)
}

func (s *userStore) SetStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`,
		userID, status,
	)
	if err != nil {
		return mapStoreErr(err)
	}
	return requireRow(res)
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Ensure(ctx context.Context, roles []Role) error {
	for _, role := range roles {
		if role.ID == "" {
			role.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into roles(id, name, description) values($1,$2,$3)
			 on conflict (name) do nothing`,
			role.ID, role.Name, role.Description,
		)
		if err != nil {
			return mapStoreErr(err)
		}
	}
	return nil
}

func (s *roleStore) List(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, created_at from roles order by name`)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, mapStoreErr(err)
		}
		roles = append(roles, role)
	}
	return roles, mapStoreErr(rows.Err())
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at from roles where name=$1`, name,
	).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &role, nil
}

func (s *roleStore) Assign(ctx context.Context, assignment Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_roles(user_id, role_id) values($1,$2) on conflict do nothing`,
		assignment.UserID, assignment.RoleID,
	)
	return mapStoreErr(err)
}

func (s *roleStore) Remove(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role_id=$2`,
		userID, roleID,
	)
	return mapStoreErr(err)
}

func (s *roleStore) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id, role_id, created_at from user_roles where user_id=$1`, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var result []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.CreatedAt); err != nil {
			return nil, mapStoreErr(err)
		}
		result = append(result, a)
	}
	return result, mapStoreErr(rows.Err())
}

func (s *roleStore) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.name from roles r
		 join user_roles ur on ur.role_id = r.id
		 where ur.user_id=$1 order by r.name`, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapStoreErr(err)
		}
		names = append(names, name)
	}
	return names, mapStoreErr(rows.Err())
}

// Permission store ---------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, key, description) values($1,$2,$3)
			 on conflict (key) do nothing`,
			p.ID, p.Key, p.Description,
		)
		if err != nil {
			return mapStoreErr(err)
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, key, description, created_at from permissions order by key`)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, mapStoreErr(err)
		}
		perms = append(perms, p)
	}
	return perms, mapStoreErr(rows.Err())
}

func (s *permissionStore) SetForRole(ctx context.Context, roleID string, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapStoreErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return mapStoreErr(err)
	}
	for _, key := range keys {
		_, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id)
			 select $1, id from permissions where key=$2`, roleID, key,
		)
		if err != nil {
			return mapStoreErr(err)
		}
	}
	return mapStoreErr(tx.Commit())
}

func (s *permissionStore) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.key, p.description, p.created_at from permissions p
		 join role_permissions rp on rp.permission_id = p.id
		 where rp.role_id=$1 order by p.key`, roleID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, mapStoreErr(err)
		}
		perms = append(perms, p)
	}
	return perms, mapStoreErr(rows.Err())
}

func (s *permissionStore) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select distinct p.key from permissions p
		 join role_permissions rp on rp.permission_id = p.id
		 join user_roles ur on ur.role_id = rp.role_id
		 where ur.user_id=$1 order by p.key`, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, mapStoreErr(err)
		}
		keys = append(keys, key)
	}
	return keys, mapStoreErr(rows.Err())
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, expires_at, client)
		 values($1,$2,$3,nullif($4,''))`,
		tok.ID, tok.UserID, tok.ExpiresAt, tok.Client,
	)
	return mapStoreErr(err)
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	var (
		tok    RefreshToken
		client sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`select id, user_id, expires_at, created_at, revoked, client
		 from refresh_tokens where id=$1`, id,
	).Scan(&tok.ID, &tok.UserID, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked, &client)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if client.Valid {
		tok.Client = client.String
	}
	return &tok, nil
}

// Revoke flips the revoked flag only when it is currently clear. Of two
// concurrent rotations exactly one sees rows_affected=1; the other finds
// the row already revoked and fails with ErrTokenRevoked.
func (s *refreshTokenStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked = true where id=$1 and revoked = false`, id)
	if err != nil {
		return mapStoreErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapStoreErr(err)
	}
	if n == 1 {
		return nil
	}

	var revoked bool
	err = s.db.QueryRowContext(ctx,
		`select revoked from refresh_tokens where id=$1`, id).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapStoreErr(err)
	}
	return ErrTokenRevoked
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked = true where user_id=$1 and revoked = false`, userID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return int(n), nil
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, olderThan)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return int(n), nil
}

// Audit store --------------------------------------------------------------

type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	meta, _ := json.Marshal(entry.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, event, actor_id, outcome, metadata, request_id)
		 values($1,$2,$3,nullif($4,''),$5,$6,nullif($7,''))`,
		entry.ID, entry.OccurredAt, entry.Event, entry.ActorID, entry.Outcome, meta, entry.RequestID,
	)
	return mapStoreErr(err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapStoreErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
