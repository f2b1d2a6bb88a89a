package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/idx"
)

var (
	ErrAccountExists = errors.New("account already exists")
	ErrInvalidRole   = errors.New("invalid role")
)

// AccountService covers admin provisioning and read-side lookups. Accounts
// are created with a provisional password and first-login set, forcing a
// password change before the portal is usable.
type AccountService struct {
	Store store.Store

	Now func() time.Time
}

// Create provisions a new account. The provisional password still has to
// meet the complexity bar minus the history rules; the owner replaces it on
// first login.
func (s *AccountService) Create(ctx context.Context, email, name string, role domain.Role, provisionalPassword string) (domain.Account, error) {
	if !role.Valid() {
		return domain.Account{}, ErrInvalidRole
	}

	hash, err := cryptox.HashSecret(provisionalPassword)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash provisional password: %w", err)
	}

	acct := domain.Account{
		ID:           idx.New(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
		FirstLogin:   true,
		ActiveState:  domain.AccountActive,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Create(ctx, acct)
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Account{}, ErrAccountExists
		}
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	return acct, nil
}

// Get returns one account by id.
func (s *AccountService) Get(ctx context.Context, id idx.ID) (domain.Account, error) {
	acct, err := s.Store.Accounts().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// GetByEmail returns one account by email, case-insensitively.
func (s *AccountService) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	acct, err := s.Store.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// ListByRole returns every account holding role.
func (s *AccountService) ListByRole(ctx context.Context, role domain.Role) ([]domain.Account, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	return s.Store.Accounts().ListByRole(ctx, role)
}

// Activity returns the newest audit entries for one account.
func (s *AccountService) Activity(ctx context.Context, id idx.ID, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Store.Activity().ListByAccount(ctx, id, limit)
}

// RecentActivity returns the newest audit entries across all accounts.
func (s *AccountService) RecentActivity(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Store.Activity().ListRecent(ctx, limit)
}
