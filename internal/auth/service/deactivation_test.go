package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/notify"
)

func TestDeactivateSchedulesJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	require.NoError(t, e.deactivation.Deactivate(ctx, acct.ID))

	row := e.account(t, acct.ID)
	require.Equal(t, domain.AccountPendingDeactivation, row.ActiveState)
	require.NotNil(t, row.DeactivateAt)
	require.True(t, row.DeactivateAt.Equal(e.clock.Now().Add(5*time.Minute)))
	require.Len(t, e.notifier.ByKind(notify.KindDeactivationWarning), 1)

	// Pending accounts can still log in until the job fires.
	_, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)
}

func TestDeactivationJobCompletes(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	require.NoError(t, e.deactivation.Deactivate(ctx, acct.ID))

	e.clock.Advance(5 * time.Minute)
	require.True(t, e.sched.Fire(string(acct.ID)))

	row := e.account(t, acct.ID)
	require.Equal(t, domain.AccountInactive, row.ActiveState)
	require.Nil(t, row.DeactivateAt)
	require.Nil(t, row.SessionToken)
	require.Len(t, e.notifier.ByKind(notify.KindAccountDeactivated), 1)

	// Live sessions died with the account.
	_, ok := e.sessions.Get(sid)
	require.False(t, ok)
}

func TestDeactivationJobIdempotentAfterReactivation(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	require.NoError(t, e.deactivation.Deactivate(ctx, acct.ID))
	require.NoError(t, e.deactivation.Reactivate(ctx, acct.ID))

	// Reactivation cancelled the job; nothing left to fire.
	require.False(t, e.sched.Fire(string(acct.ID)))

	// Even a stale timer that somehow fired would see the account no
	// longer pending and leave it alone.
	e.clock.Advance(10 * time.Minute)
	e.deactivation.finalize(ctx, acct.ID)
	require.Equal(t, domain.AccountActive, e.account(t, acct.ID).ActiveState)
}

func TestDeactivationJobNotDueYet(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	require.NoError(t, e.deactivation.Deactivate(ctx, acct.ID))

	// Fired early (clock not advanced): the account stays pending.
	e.deactivation.finalize(ctx, acct.ID)
	require.Equal(t, domain.AccountPendingDeactivation, e.account(t, acct.ID).ActiveState)
}

func TestReactivateClearsLockout(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	row := e.account(t, acct.ID)
	row.ActiveState = domain.AccountInactive
	row.FailedLogins = 10
	row.FailureLog = []time.Time{e.clock.Now()}
	require.NoError(t, e.store.Accounts().Update(ctx, row))

	require.NoError(t, e.deactivation.Reactivate(ctx, acct.ID))

	row = e.account(t, acct.ID)
	require.Equal(t, domain.AccountActive, row.ActiveState)
	require.Zero(t, row.FailedLogins)
	require.Empty(t, row.FailureLog)
	require.Len(t, e.notifier.ByKind(notify.KindAccountReactivated), 1)

	// Already-active accounts are a no-op.
	require.NoError(t, e.deactivation.Reactivate(ctx, acct.ID))
	require.Len(t, e.notifier.ByKind(notify.KindAccountReactivated), 1)
}

func TestDeactivateRole(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	a := e.createAccount(t, "s1@example.edu")
	b := e.createAccount(t, "s2@example.edu")
	staff := e.createAccount(t, "staff@example.edu")
	row := e.account(t, staff.ID)
	row.Role = domain.RoleStaff
	require.NoError(t, e.store.Accounts().Update(ctx, row))

	scheduled, err := e.deactivation.DeactivateRole(ctx, domain.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, 2, scheduled)

	require.Equal(t, domain.AccountPendingDeactivation, e.account(t, a.ID).ActiveState)
	require.Equal(t, domain.AccountPendingDeactivation, e.account(t, b.ID).ActiveState)
	require.Equal(t, domain.AccountActive, e.account(t, staff.ID).ActiveState)
}

func TestRearmResumesPendingDeactivations(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	// Simulate a pending deactivation left over from a previous process.
	due := e.clock.Now().Add(-time.Minute)
	row := e.account(t, acct.ID)
	row.ActiveState = domain.AccountPendingDeactivation
	row.DeactivateAt = &due
	require.NoError(t, e.store.Accounts().Update(ctx, row))

	require.NoError(t, e.deactivation.Rearm(ctx))
	require.True(t, e.sched.Fire(string(acct.ID)))

	require.Equal(t, domain.AccountInactive, e.account(t, acct.ID).ActiveState)
}
