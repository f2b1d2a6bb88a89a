package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusworks/portalauth/internal/auth/domain"
)

func TestGuardTouchesActiveSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	e.clock.Advance(30 * time.Second)

	st, err := e.guard.Guard(ctx, sid)
	require.NoError(t, err)
	require.False(t, st.MustReauthenticate)
	require.Equal(t, e.clock.Now(), st.LastActivity)
}

func TestGuardFlagsReauthentication(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	// Past the reauth threshold but under the idle timeout: still valid,
	// flag raised, activity NOT refreshed.
	e.clock.Advance(90 * time.Second)

	st, err := e.guard.Guard(ctx, sid)
	require.NoError(t, err)
	require.True(t, st.MustReauthenticate)
	require.NotEqual(t, e.clock.Now(), st.LastActivity)
}

func TestGuardExpiresIdleSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	e.clock.Advance(2 * time.Minute)

	_, err := e.guard.Guard(ctx, sid)
	require.ErrorIs(t, err, ErrSessionExpired)

	// Hard logout: session gone and row token nulled.
	_, ok := e.sessions.Get(sid)
	require.False(t, ok)
	require.Nil(t, e.account(t, acct.ID).SessionToken)
}

func TestGuardRejectsChallengeSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)

	_, err = e.guard.Guard(ctx, res.SessionID)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestGuardDetectsTokenMismatch(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	row := e.account(t, acct.ID)
	stale := "c3RhbGU=:Y3Q=:dGFn"
	row.SessionToken = &stale
	require.NoError(t, e.store.Accounts().Update(ctx, row))

	_, err := e.guard.Guard(ctx, sid)
	require.ErrorIs(t, err, ErrSessionMismatch)

	_, ok := e.sessions.Get(sid)
	require.False(t, ok)
}

func TestGuardEndsSessionOfInactiveAccount(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	row := e.account(t, acct.ID)
	row.ActiveState = domain.AccountInactive
	require.NoError(t, e.store.Accounts().Update(ctx, row))

	_, err := e.guard.Guard(ctx, sid)
	require.ErrorIs(t, err, ErrAccountInactive)

	_, ok := e.sessions.Get(sid)
	require.False(t, ok)
}

func TestReauthenticateClearsFlagAndRotates(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	e.clock.Advance(90 * time.Second)
	st, err := e.guard.Guard(ctx, sid)
	require.NoError(t, err)
	require.True(t, st.MustReauthenticate)
	oldToken := st.Token

	require.NoError(t, e.guard.Reauthenticate(ctx, sid, testPassword))

	st, ok := e.sessions.Get(sid)
	require.True(t, ok)
	require.False(t, st.MustReauthenticate)
	require.NotEqual(t, oldToken, st.Token)
	require.Equal(t, *e.account(t, acct.ID).SessionToken, st.Token)

	// The session is fresh again.
	got, err := e.guard.Guard(ctx, sid)
	require.NoError(t, err)
	require.False(t, got.MustReauthenticate)
}

func TestReauthenticateWrongPassword(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	err := e.guard.Reauthenticate(ctx, sid, "Wrong-Password1!")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// The session survives a wrong reauth password.
	_, ok := e.sessions.Get(sid)
	require.True(t, ok)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")
	sid := e.loginVerified(t, "student@example.edu")

	require.NoError(t, e.guard.Logout(ctx, sid))

	_, ok := e.sessions.Get(sid)
	require.False(t, ok)
	require.Nil(t, e.account(t, acct.ID).SessionToken)

	// Idempotent.
	require.NoError(t, e.guard.Logout(ctx, sid))
}
