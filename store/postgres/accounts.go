package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	identity "github.com/clinicore/identity"
)

const uniqueViolation = "23505"

var accountColumns = []string{
	"id",
	"email",
	"fullname",
	"date_of_birth",
	"role",
	"department_id",
	"password_hash",
	"status",
	"pending_code",
	"pending_code_expires_at",
	"failed_attempts",
	"refresh_token_hash",
	"created_at",
	"updated_at",
}

// AccountStore implements identity.AccountStore on the accounts table.
type AccountStore struct {
	exec    DB
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{
		exec:    db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// WithTx returns a store bound to tx.
func (s *AccountStore) WithTx(tx pgx.Tx) *AccountStore {
	if tx == nil {
		return s
	}
	return &AccountStore{exec: tx, builder: s.builder, now: s.now}
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (identity.Account, error) {
	stmt, args, err := s.builder.
		Select(accountColumns...).
		From("accounts").
		Where(squirrel.Expr("lower(email) = ?", strings.ToLower(strings.TrimSpace(email)))).
		ToSql()
	if err != nil {
		return identity.Account{}, fmt.Errorf("build select account by email sql: %w", err)
	}
	return scanAccount(s.exec.QueryRow(ctx, stmt, args...))
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (identity.Account, error) {
	stmt, args, err := s.builder.
		Select(accountColumns...).
		From("accounts").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return identity.Account{}, fmt.Errorf("build select account sql: %w", err)
	}
	return scanAccount(s.exec.QueryRow(ctx, stmt, args...))
}

func (s *AccountStore) Create(ctx context.Context, a identity.Account) (identity.Account, error) {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	var code, codeExpires any
	if a.PendingCode != nil {
		code = a.PendingCode.Value
		codeExpires = a.PendingCode.ExpiresAt
	}

	stmt, args, err := s.builder.Insert("accounts").
		Columns(accountColumns...).
		Values(
			a.ID,
			a.Email,
			a.FullName,
			a.DateOfBirth,
			a.Role,
			nullable(a.DepartmentID),
			a.PasswordHash,
			string(a.Status),
			code,
			codeExpires,
			a.FailedAttempts,
			nullable(a.RefreshTokenHash),
			a.CreatedAt,
			a.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return identity.Account{}, fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := s.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return identity.Account{}, identity.ErrStoreDuplicate
		}
		return identity.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

// Update applies upd in one statement. The Expect* guards become WHERE
// predicates; when no row matches, a follow-up lookup tells a missing
// account from a failed guard.
func (s *AccountStore) Update(ctx context.Context, id string, upd identity.AccountUpdate) (identity.Account, error) {
	q := s.builder.Update("accounts").Set("updated_at", s.now())

	if upd.Status != nil {
		q = q.Set("status", string(*upd.Status))
	}
	if upd.PasswordHash != nil {
		q = q.Set("password_hash", *upd.PasswordHash)
	}
	switch {
	case upd.SetPendingCode != nil:
		q = q.Set("pending_code", upd.SetPendingCode.Value).
			Set("pending_code_expires_at", upd.SetPendingCode.ExpiresAt)
	case upd.ClearPendingCode:
		q = q.Set("pending_code", nil).Set("pending_code_expires_at", nil)
	}
	if upd.ResetFailedAttempts {
		q = q.Set("failed_attempts", 0)
	}
	if upd.RefreshTokenHash != nil {
		q = q.Set("refresh_token_hash", nullable(*upd.RefreshTokenHash))
	}

	q = q.Where(squirrel.Eq{"id": id})
	guarded := false
	if upd.ExpectPendingCode != "" {
		q = q.Where(squirrel.Eq{"pending_code": upd.ExpectPendingCode})
		guarded = true
	}
	if upd.ExpectRefreshTokenHash != "" {
		q = q.Where(squirrel.Eq{"refresh_token_hash": upd.ExpectRefreshTokenHash})
		guarded = true
	}
	if upd.ExpectPasswordHash != "" {
		q = q.Where(squirrel.Eq{"password_hash": upd.ExpectPasswordHash})
		guarded = true
	}

	stmt, args, err := q.Suffix("RETURNING " + strings.Join(accountColumns, ", ")).ToSql()
	if err != nil {
		return identity.Account{}, fmt.Errorf("build update account sql: %w", err)
	}

	updated, err := scanAccount(s.exec.QueryRow(ctx, stmt, args...))
	if !errors.Is(err, identity.ErrStoreNotFound) || !guarded {
		return updated, err
	}

	if _, err := s.FindByID(ctx, id); err != nil {
		return identity.Account{}, err
	}
	return identity.Account{}, identity.ErrStalePrecondition
}

func (s *AccountStore) Delete(ctx context.Context, id string) error {
	stmt, args, err := s.builder.Delete("accounts").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete account sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrStoreNotFound
	}
	return nil
}

// RecordFailedLogin increments the counter of an ACTIVE account in place.
// Postgres evaluates every SET expression against the old row, so the CASE
// sees the pre-update counter. Any other status yields ErrStalePrecondition.
func (s *AccountStore) RecordFailedLogin(ctx context.Context, id string, threshold int) (identity.Account, error) {
	stmt, args, err := s.builder.Update("accounts").
		Set("failed_attempts", squirrel.Expr("failed_attempts + 1")).
		Set("status", squirrel.Expr(
			"CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE status END",
			threshold, string(identity.StatusLocked),
		)).
		Set("updated_at", s.now()).
		Where(squirrel.Eq{"id": id, "status": string(identity.StatusActive)}).
		Suffix("RETURNING " + strings.Join(accountColumns, ", ")).
		ToSql()
	if err != nil {
		return identity.Account{}, fmt.Errorf("build record failed login sql: %w", err)
	}

	updated, err := scanAccount(s.exec.QueryRow(ctx, stmt, args...))
	if !errors.Is(err, identity.ErrStoreNotFound) {
		return updated, err
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return identity.Account{}, err
	}
	return identity.Account{}, identity.ErrStalePrecondition
}

func scanAccount(row pgx.Row) (identity.Account, error) {
	var (
		a           identity.Account
		status      string
		department  *string
		code        *string
		codeExpires *time.Time
		refreshHash *string
	)

	if err := row.Scan(
		&a.ID,
		&a.Email,
		&a.FullName,
		&a.DateOfBirth,
		&a.Role,
		&department,
		&a.PasswordHash,
		&status,
		&code,
		&codeExpires,
		&a.FailedAttempts,
		&refreshHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Account{}, identity.ErrStoreNotFound
		}
		return identity.Account{}, fmt.Errorf("scan account: %w", err)
	}

	a.Status = identity.AccountStatus(status)
	a.DepartmentID = deref(department)
	a.RefreshTokenHash = deref(refreshHash)
	if code != nil && *code != "" {
		pc := identity.PendingCode{Value: *code}
		if codeExpires != nil {
			pc.ExpiresAt = *codeExpires
		}
		a.PendingCode = &pc
	}
	return a, nil
}
