package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/notify"
	"github.com/campusworks/portalauth/internal/auth/session"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/idx"
	"github.com/campusworks/portalauth/pkg/slogx"
)

// defaultDeactivationGrace is how long a pending deactivation stays
// reversible before the job fires.
const defaultDeactivationGrace = 5 * time.Minute

// Scheduler arms a one-shot deferred job per key. Arming an already-armed
// key replaces the previous job.
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func())
	Cancel(key string)
}

// TimerScheduler backs Scheduler with time.AfterFunc. Pending timers are
// dropped (not fired) on Close.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[string]*time.Timer)}
}

func (s *TimerScheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

func (s *TimerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Close stops every pending timer.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

// DeactivationService handles deferred account deactivation: an admin marks
// the account pending, the owner gets a warning, and a one-shot job flips it
// inactive after the grace period unless it was reactivated first.
type DeactivationService struct {
	Store     store.Store
	Sessions  *session.Manager
	Notifier  notify.Notifier
	Scheduler Scheduler

	Now func() time.Time

	Grace time.Duration
}

// Deactivate marks the account pending and arms the deferred job. Calling it
// on an already-pending account re-arms the timer; an inactive account is a
// no-op.
func (s *DeactivationService) Deactivate(ctx context.Context, accountID idx.ID) error {
	now := nowOr(s.Now)
	grace := durOr(s.Grace, defaultDeactivationGrace)

	acct, err := s.Store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}
	if acct.ActiveState == domain.AccountInactive {
		return nil
	}

	fireAt := now.Add(grace)
	acct.ActiveState = domain.AccountPendingDeactivation
	acct.DeactivateAt = &fireAt

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("mark pending deactivation: %w", err)
	}

	s.Scheduler.Schedule(string(acct.ID), grace, func() {
		s.finalize(context.Background(), acct.ID)
	})

	s.notify(ctx, notify.KindDeactivationWarning, acct.Email, map[string]string{
		"deactivate_at": fireAt.UTC().Format(time.RFC3339),
	})
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityDeactivation, "scheduled")
	return nil
}

// finalize is the deferred job. It re-reads the account and only flips it
// inactive if the deactivation is still pending and due, which makes a stale
// timer firing after a reactivation harmless.
func (s *DeactivationService) finalize(ctx context.Context, accountID idx.ID) {
	now := nowOr(s.Now)
	log := slogx.FromContext(ctx)

	acct, err := s.Store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("deactivation job failed to load account", "account_id", accountID, "error", err)
		}
		return
	}

	if acct.ActiveState != domain.AccountPendingDeactivation {
		return
	}
	if acct.DeactivateAt != nil && now.Before(*acct.DeactivateAt) {
		return
	}

	acct.ActiveState = domain.AccountInactive
	acct.DeactivateAt = nil
	acct.SessionToken = nil
	acct.ClearOTPState()
	acct.OTPIssuedAt = nil

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		log.Error("deactivation job failed to update account", "account_id", accountID, "error", err)
		return
	}

	s.Sessions.DeleteByAccount(acct.ID)
	s.notify(ctx, notify.KindAccountDeactivated, acct.Email, nil)
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityDeactivation, "completed")
	log.Info("account deactivated", "account_id", acct.ID)
}

// Reactivate returns a pending or inactive account to active and clears its
// lockout counters. Any armed deactivation job is cancelled.
func (s *DeactivationService) Reactivate(ctx context.Context, accountID idx.ID) error {
	acct, err := s.Store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}
	if acct.ActiveState == domain.AccountActive {
		return nil
	}

	s.Scheduler.Cancel(string(acct.ID))

	acct.ActiveState = domain.AccountActive
	acct.DeactivateAt = nil
	acct.FailedLogins = 0
	acct.FailureLog = nil

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("reactivate account: %w", err)
	}

	s.notify(ctx, notify.KindAccountReactivated, acct.Email, nil)
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityReactivation, "")
	return nil
}

// DeactivateRole schedules deactivation for every account holding role,
// typically at end of term. Failures are collected per account so one bad
// row does not strand the rest.
func (s *DeactivationService) DeactivateRole(ctx context.Context, role domain.Role) (int, error) {
	accounts, err := s.Store.Accounts().ListByRole(ctx, role)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}

	var scheduled int
	var errs []error
	for _, acct := range accounts {
		if acct.ActiveState != domain.AccountActive {
			continue
		}
		if err := s.Deactivate(ctx, acct.ID); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", acct.ID, err))
			continue
		}
		scheduled++
	}
	return scheduled, errors.Join(errs...)
}

// Rearm re-arms timers for deactivations that were pending when the process
// last stopped. Called once on startup.
func (s *DeactivationService) Rearm(ctx context.Context) error {
	now := nowOr(s.Now)

	for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleStaff, domain.RoleStudent} {
		accounts, err := s.Store.Accounts().ListByRole(ctx, role)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, acct := range accounts {
			if acct.ActiveState != domain.AccountPendingDeactivation || acct.DeactivateAt == nil {
				continue
			}
			delay := acct.DeactivateAt.Sub(now)
			if delay < 0 {
				delay = 0
			}
			id := acct.ID
			s.Scheduler.Schedule(string(id), delay, func() {
				s.finalize(context.Background(), id)
			})
		}
	}
	return nil
}

func (s *DeactivationService) notify(ctx context.Context, kind notify.Kind, recipient string, data map[string]string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Send(ctx, kind, recipient, data); err != nil {
		slogx.FromContext(ctx).Warn("notification failed", "kind", string(kind), "error", err)
	}
}
