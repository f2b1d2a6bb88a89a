package store

import (
	"context"
	"errors"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/pkg/idx"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today)
// implement it. Account mutations must go through WithTx so each logical
// operation is a single atomic read-modify-write; partial writes (an OTP hash
// without its session token, say) must never be observable.
type Store interface {
	Accounts() Accounts
	Activity() Activity

	ApplyMigrations() error

	// Tx starts a read/write transaction scoped Store. The caller MUST call
	// Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing on nil and rolling
	// back on error. This is the recommended way to mutate accounts.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// GetByID returns an account by id.
	GetByID(ctx context.Context, id idx.ID) (domain.Account, error)

	// GetByEmail looks an account up case-insensitively.
	GetByEmail(ctx context.Context, email string) (domain.Account, error)

	// GetByResetTokenHash finds the account holding a reset-token digest.
	GetByResetTokenHash(ctx context.Context, hash string) (domain.Account, error)

	// Create inserts a new account (id provided by the app via ULID).
	Create(ctx context.Context, a domain.Account) error

	// Update writes every mutable security field and bumps updated_at.
	Update(ctx context.Context, a domain.Account) error

	// ListByRole returns all accounts with the given role, for bulk admin
	// operations.
	ListByRole(ctx context.Context, role domain.Role) ([]domain.Account, error)

	// Delete removes an account; activity entries cascade per schema.
	Delete(ctx context.Context, id idx.ID) error

	// ClearExpiredChallenges drops OTP state issued at or before otpBefore
	// and reset tokens requested at or before resetBefore, returning how
	// many rows were touched.
	ClearExpiredChallenges(ctx context.Context, otpBefore, resetBefore time.Time) (int64, error)
}

// Activity is the append-only audit trail. The auth core never mutates or
// deletes entries.
type Activity interface {
	Append(ctx context.Context, e domain.ActivityEntry) error

	// ListByAccount returns the newest entries for one account.
	ListByAccount(ctx context.Context, accountID idx.ID, limit int) ([]domain.ActivityEntry, error)

	// ListRecent returns the newest entries across all accounts.
	ListRecent(ctx context.Context, limit int) ([]domain.ActivityEntry, error)
}
