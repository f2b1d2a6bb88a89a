package sqlite

import (
	"context"
	"database/sql"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/pkg/idx"
)

type activityRepo struct {
	db dbtx
}

func (r *activityRepo) Append(ctx context.Context, e domain.ActivityEntry) error {
	if e.ID.IsZero() {
		e.ID = idx.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, account_id, role, status, activity_type, description)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(),
		e.AccountID.String(),
		string(e.Role),
		string(e.Status),
		e.Type,
		e.Description,
	)
	return err
}

func (r *activityRepo) ListByAccount(ctx context.Context, accountID idx.ID, limit int) ([]domain.ActivityEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, role, status, activity_type, description, created_at
		FROM activity_logs
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		accountID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanActivityEntries(rows)
}

func (r *activityRepo) ListRecent(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, role, status, activity_type, description, created_at
		FROM activity_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanActivityEntries(rows)
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanActivityEntries(rows rowsScanner) ([]domain.ActivityEntry, error) {
	var entries []domain.ActivityEntry
	for rows.Next() {
		var (
			e           domain.ActivityEntry
			id, account string
			role        string
			status      string
			description sql.NullString
		)
		if err := rows.Scan(&id, &account, &role, &status, &e.Type, &description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = idx.ID(id)
		e.AccountID = idx.ID(account)
		e.Role = domain.Role(role)
		e.Status = domain.ActivityStatus(status)
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
