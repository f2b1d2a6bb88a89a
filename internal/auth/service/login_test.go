package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/notify"
	"github.com/campusworks/portalauth/pkg/captcha"
)

func TestLoginIssuesChallenge(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	require.Equal(t, "s*****t@example.edu", res.CensoredEmail)

	// Challenge phase: session exists but is not authenticated yet.
	st, ok := e.sessions.Get(res.SessionID)
	require.True(t, ok)
	require.False(t, st.Authenticated)
	require.Equal(t, acct.ID, st.AccountID)

	// Token is double-stored: row and session must agree.
	row := e.account(t, acct.ID)
	require.NotNil(t, row.SessionToken)
	require.Equal(t, *row.SessionToken, st.Token)
	require.NotNil(t, row.OTPHash)

	// The passcode went out by mail, never in the response.
	otp := e.lastOTP(t)
	require.Len(t, otp, 6)
}

func TestLoginUnknownEmail(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	_, err := e.login.Login(context.Background(), "nobody@example.edu", testPassword, "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginWrongPassword(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	row := e.account(t, acct.ID)
	require.Equal(t, 1, row.FailedLogins)
	require.Len(t, row.FailureLog, 1)
	require.NotNil(t, row.LastAttemptAt)
}

func TestLoginSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	for i := 0; i < 4; i++ {
		_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The correct password wipes the ledger even though the OTP is never
	// entered; an abandoned challenge must not leave the account one
	// failure from lockout.
	_, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)

	row := e.account(t, acct.ID)
	require.Zero(t, row.FailedLogins)
	require.Empty(t, row.FailureLog)

	_, err = e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.NotErrorIs(t, err, ErrAccountLocked)
	require.Equal(t, 1, e.account(t, acct.ID).FailedLogins)
}

func TestLoginReportsRemainingAttempts(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	e.createAccount(t, "student@example.edu")

	_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
	var badCreds *InvalidCredentialsError
	require.ErrorAs(t, err, &badCreds)
	require.Equal(t, 4, badCreds.Remaining)

	// Unknown addresses get the same shape with a full budget, so the
	// count cannot be used to probe for registered accounts.
	_, err = e.login.Login(ctx, "nobody@example.edu", testPassword, "")
	require.ErrorAs(t, err, &badCreds)
	require.Equal(t, 5, badCreds.Remaining)
}

func TestLoginCaptchaGate(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.login.Captcha = captcha.Static(false)
	e.createAccount(t, "student@example.edu")

	_, err := e.login.Login(context.Background(), "student@example.edu", testPassword, "token")
	require.ErrorIs(t, err, ErrCaptchaFailed)
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	for i := 0; i < 4; i++ {
		_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Fifth failure locks and notifies the owner.
	_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
	require.ErrorIs(t, err, ErrAccountLocked)
	require.Len(t, e.notifier.ByKind(notify.KindSuspiciousLogin), 1)

	// While locked even the correct password is refused, and the counter
	// stays put.
	_, err = e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.ErrorIs(t, err, ErrAccountLocked)
	require.Equal(t, 5, e.account(t, acct.ID).FailedLogins)

	// Once the window passes the correct password works again.
	e.clock.Advance(11 * time.Minute)
	_, err = e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)
}

func TestLoginPastThresholdCountsTowardDeactivation(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	for i := 0; i < 5; i++ {
		_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
		require.Error(t, err)
	}
	e.clock.Advance(11 * time.Minute)

	// Only the fifth failure arms the lockout window. Failures six through
	// nine fall through to the password check back-to-back and count down
	// toward deactivation instead of re-arming fresh lockouts.
	var badCreds *InvalidCredentialsError
	for i := 6; i <= 9; i++ {
		_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
		require.NotErrorIs(t, err, ErrAccountLocked)
		require.ErrorAs(t, err, &badCreds)
		require.Equal(t, 10-i, badCreds.Remaining)
	}
	require.Equal(t, 9, e.account(t, acct.ID).FailedLogins)

	_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
	require.ErrorIs(t, err, ErrAccountInactive)
	require.Equal(t, domain.AccountInactive, e.account(t, acct.ID).ActiveState)
}

func TestLoginDeactivatesAfterTenFailures(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	for i := 0; i < 10; i++ {
		// Step past each lockout window so attempts keep landing.
		e.clock.Advance(11 * time.Minute)
		_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
		require.Error(t, err)
	}

	row := e.account(t, acct.ID)
	require.Equal(t, domain.AccountInactive, row.ActiveState)
	require.Equal(t, 10, row.FailedLogins)
	require.Len(t, e.notifier.ByKind(notify.KindAccountDeactivated), 1)

	// Deactivated accounts are refused outright.
	_, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestLoginFailureLogCapped(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	for i := 0; i < 8; i++ {
		e.clock.Advance(11 * time.Minute)
		_, _ = e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
	}

	row := e.account(t, acct.ID)
	require.Len(t, row.FailureLog, domain.MaxFailureLog)
	require.Equal(t, 8, row.FailedLogins)
}

func TestLoginReplacesPriorSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	acct := e.createAccount(t, "student@example.edu")

	first := e.loginVerified(t, "student@example.edu")

	// A second login rotates the row token, killing the first session.
	res, err := e.login.Login(context.Background(), "student@example.edu", testPassword, "")
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)

	_, ok := e.sessions.Get(first)
	require.False(t, ok)

	row := e.account(t, acct.ID)
	st, ok := e.sessions.Get(res.SessionID)
	require.True(t, ok)
	require.Equal(t, *row.SessionToken, st.Token)
}

func TestCensorEmail(t *testing.T) {
	t.Parallel()

	require.Equal(t, "s*****t@example.edu", censorEmail("student@example.edu"))
	require.Equal(t, "**@example.edu", censorEmail("ab@example.edu"))
	require.Equal(t, "not-an-email", censorEmail("not-an-email"))
}
