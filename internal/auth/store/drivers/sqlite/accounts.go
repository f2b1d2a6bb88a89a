package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/idx"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `
	id, email, name, role,
	password_hash, password_changed_at, password_history,
	failed_logins, last_attempt_at, failure_log, first_login, active_state, deactivate_at,
	otp_hash, otp_issued_at, otp_attempts, otp_resends,
	reset_token_hash, reset_requested_at, reset_attempts, last_reset_at,
	session_token, created_at, updated_at`

func (r *accountsRepo) GetByID(ctx context.Context, id idx.ID) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT`+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	return scanAccount(row)
}

func (r *accountsRepo) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	// email is COLLATE NOCASE in the schema, so the comparison is
	// case-insensitive without lowering here.
	row := r.db.QueryRowContext(ctx,
		`SELECT`+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

func (r *accountsRepo) GetByResetTokenHash(ctx context.Context, hash string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT`+accountColumns+` FROM accounts WHERE reset_token_hash = ?`, hash)
	return scanAccount(row)
}

func (r *accountsRepo) Create(ctx context.Context, a domain.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, name, role, password_hash, password_changed_at,
			password_history, first_login, active_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(),
		a.Email,
		a.Name,
		string(a.Role),
		a.PasswordHash,
		mapOptionalTime(a.PasswordChangedAt),
		marshalStrings(a.PasswordHistory),
		a.FirstLogin,
		string(a.ActiveState),
	)
	return mapConstraint(err)
}

func (r *accountsRepo) Update(ctx context.Context, a domain.Account) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			name = ?,
			role = ?,
			password_hash = ?,
			password_changed_at = ?,
			password_history = ?,
			failed_logins = ?,
			last_attempt_at = ?,
			failure_log = ?,
			first_login = ?,
			active_state = ?,
			deactivate_at = ?,
			otp_hash = ?,
			otp_issued_at = ?,
			otp_attempts = ?,
			otp_resends = ?,
			reset_token_hash = ?,
			reset_requested_at = ?,
			reset_attempts = ?,
			last_reset_at = ?,
			session_token = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		a.Name,
		string(a.Role),
		a.PasswordHash,
		mapOptionalTime(a.PasswordChangedAt),
		marshalStrings(a.PasswordHistory),
		a.FailedLogins,
		mapOptionalTime(a.LastAttemptAt),
		marshalTimes(a.FailureLog),
		a.FirstLogin,
		string(a.ActiveState),
		mapOptionalTime(a.DeactivateAt),
		mapOptionalString(a.OTPHash),
		mapOptionalTime(a.OTPIssuedAt),
		a.OTPAttempts,
		a.OTPResends,
		mapOptionalString(a.ResetTokenHash),
		mapOptionalTime(a.ResetRequestedAt),
		a.ResetAttempts,
		mapOptionalTime(a.LastResetAt),
		mapOptionalString(a.SessionToken),
		a.ID.String(),
	)
	if err != nil {
		return mapConstraint(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *accountsRepo) ListByRole(ctx context.Context, role domain.Role) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+accountColumns+` FROM accounts WHERE role = ? ORDER BY created_at`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *accountsRepo) Delete(ctx context.Context, id idx.ID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id.String())
	return err
}

func (r *accountsRepo) ClearExpiredChallenges(ctx context.Context, otpBefore, resetBefore time.Time) (int64, error) {
	var total int64

	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			otp_hash = NULL,
			otp_issued_at = NULL,
			otp_attempts = 0,
			otp_resends = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE otp_hash IS NOT NULL AND otp_issued_at <= ?`,
		otpBefore)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	total += n

	res, err = r.db.ExecContext(ctx, `
		UPDATE accounts SET
			reset_token_hash = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE reset_token_hash IS NOT NULL AND reset_requested_at <= ?`,
		resetBefore)
	if err != nil {
		return total, err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return total, err
	}
	return total + n, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (domain.Account, error) {
	var (
		a                 domain.Account
		id, role, state   string
		passwordHistory   string
		failureLog        string
		passwordChangedAt sql.NullTime
		lastAttemptAt     sql.NullTime
		deactivateAt      sql.NullTime
		otpHash           sql.NullString
		otpIssuedAt       sql.NullTime
		resetTokenHash    sql.NullString
		resetRequestedAt  sql.NullTime
		lastResetAt       sql.NullTime
		sessionToken      sql.NullString
	)

	err := row.Scan(
		&id, &a.Email, &a.Name, &role,
		&a.PasswordHash, &passwordChangedAt, &passwordHistory,
		&a.FailedLogins, &lastAttemptAt, &failureLog, &a.FirstLogin, &state, &deactivateAt,
		&otpHash, &otpIssuedAt, &a.OTPAttempts, &a.OTPResends,
		&resetTokenHash, &resetRequestedAt, &a.ResetAttempts, &lastResetAt,
		&sessionToken, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.ID = idx.ID(id)
	a.Role = domain.Role(role)
	a.ActiveState = domain.ActiveState(state)
	a.PasswordHistory = unmarshalStrings(passwordHistory)
	a.FailureLog = unmarshalTimes(failureLog)
	a.PasswordChangedAt = mapNullTimePtr(passwordChangedAt)
	a.LastAttemptAt = mapNullTimePtr(lastAttemptAt)
	a.DeactivateAt = mapNullTimePtr(deactivateAt)
	a.OTPHash = mapNullStringPtr(otpHash)
	a.OTPIssuedAt = mapNullTimePtr(otpIssuedAt)
	a.ResetTokenHash = mapNullStringPtr(resetTokenHash)
	a.ResetRequestedAt = mapNullTimePtr(resetRequestedAt)
	a.LastResetAt = mapNullTimePtr(lastResetAt)
	a.SessionToken = mapNullStringPtr(sessionToken)

	return a, nil
}
