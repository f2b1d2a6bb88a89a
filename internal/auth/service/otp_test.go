package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifyOTPAuthenticatesSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	// Leave a failure behind so the flow can clear it.
	_, err := e.login.Login(ctx, "student@example.edu", "Wrong-Password1!", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)
	challengeToken := e.account(t, acct.ID).SessionToken

	firstLogin, err := e.otp.Verify(ctx, res.SessionID, e.lastOTP(t))
	require.NoError(t, err)
	require.False(t, firstLogin)

	st, ok := e.sessions.Get(res.SessionID)
	require.True(t, ok)
	require.True(t, st.Authenticated)

	row := e.account(t, acct.ID)
	require.Nil(t, row.OTPHash)
	require.Zero(t, row.FailedLogins)
	require.Empty(t, row.FailureLog)

	// Verification rotated the token; row and session agree on the new one.
	require.NotNil(t, row.SessionToken)
	require.NotEqual(t, *challengeToken, *row.SessionToken)
	require.Equal(t, *row.SessionToken, st.Token)
}

func TestVerifyOTPReportsFirstLogin(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	acct, err := e.accounts.Create(ctx, "fresh@example.edu", "Fresh Account", "student", testPassword)
	require.NoError(t, err)
	require.True(t, acct.FirstLogin)

	res, err := e.login.Login(ctx, "fresh@example.edu", testPassword, "")
	require.NoError(t, err)

	firstLogin, err := e.otp.Verify(ctx, res.SessionID, e.lastOTP(t))
	require.NoError(t, err)
	require.True(t, firstLogin)
}

func TestVerifyOTPWrongCode(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)

	_, err = e.otp.Verify(ctx, res.SessionID, "zzzzzz")
	require.ErrorIs(t, err, ErrInvalidOTP)
	require.Equal(t, 1, e.account(t, acct.ID).OTPAttempts)

	// The right code still works afterwards.
	_, err = e.otp.Verify(ctx, res.SessionID, e.lastOTP(t))
	require.NoError(t, err)
}

func TestVerifyOTPThirdFailureAbandonsChallenge(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = e.otp.Verify(ctx, res.SessionID, "zzzzzz")
		require.ErrorIs(t, err, ErrInvalidOTP)
	}
	_, err = e.otp.Verify(ctx, res.SessionID, "zzzzzz")
	require.ErrorIs(t, err, ErrTooManyOTPAttempts)

	// Challenge is gone: session deleted, OTP state and token cleared.
	_, ok := e.sessions.Get(res.SessionID)
	require.False(t, ok)
	row := e.account(t, acct.ID)
	require.Nil(t, row.OTPHash)
	require.Nil(t, row.SessionToken)

	// Even the correct code cannot revive it.
	_, err = e.otp.Verify(ctx, res.SessionID, e.lastOTP(t))
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestVerifyOTPExpired(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)
	otp := e.lastOTP(t)

	e.clock.Advance(6 * time.Minute)

	_, err = e.otp.Verify(ctx, res.SessionID, otp)
	require.ErrorIs(t, err, ErrOTPExpired)

	// Expiry tears the challenge down, it does not merely refuse the code.
	_, ok := e.sessions.Get(res.SessionID)
	require.False(t, ok)
	row := e.account(t, acct.ID)
	require.Nil(t, row.OTPHash)
	require.Nil(t, row.SessionToken)

	// Retrying lands on a dead session, so the flow restarts from login.
	_, err = e.otp.Verify(ctx, res.SessionID, otp)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestVerifyOTPTokenMismatchKillsSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)
	otp := e.lastOTP(t)

	// Simulate the row token rotating out from under this session.
	row := e.account(t, acct.ID)
	stale := "c3RhbGU=:Y3Q=:dGFn"
	row.SessionToken = &stale
	require.NoError(t, e.store.Accounts().Update(ctx, row))

	_, err = e.otp.Verify(ctx, res.SessionID, otp)
	require.ErrorIs(t, err, ErrSessionMismatch)

	_, ok := e.sessions.Get(res.SessionID)
	require.False(t, ok)
}

func TestResendOTP(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)
	firstOTP := e.lastOTP(t)
	firstToken := *e.account(t, acct.ID).SessionToken

	censored, err := e.otp.Resend(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, "s*****t@example.edu", censored)

	// New code, rotated token, bumped resend counter.
	secondOTP := e.lastOTP(t)
	require.NotEqual(t, firstOTP, secondOTP)
	row := e.account(t, acct.ID)
	require.Equal(t, 1, row.OTPResends)
	require.NotEqual(t, firstToken, *row.SessionToken)

	// The old code is dead, the new one verifies.
	_, err = e.otp.Verify(ctx, res.SessionID, firstOTP)
	require.ErrorIs(t, err, ErrInvalidOTP)
	_, err = e.otp.Verify(ctx, res.SessionID, secondOTP)
	require.NoError(t, err)
}

func TestResendOTPCapped(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = e.otp.Resend(ctx, res.SessionID)
		require.NoError(t, err)
	}
	lastOTP := e.lastOTP(t)

	// The fourth resend kills the login attempt outright instead of leaving
	// a still-verifiable challenge behind.
	_, err = e.otp.Resend(ctx, res.SessionID)
	require.ErrorIs(t, err, ErrTooManyOTPResends)

	_, ok := e.sessions.Get(res.SessionID)
	require.False(t, ok)
	row := e.account(t, acct.ID)
	require.Nil(t, row.OTPHash)
	require.Nil(t, row.SessionToken)

	// The last issued code is dead with the session.
	_, err = e.otp.Verify(ctx, res.SessionID, lastOTP)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestResendOTPAfterChallengeExpiry(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	acct := e.createAccount(t, "student@example.edu")

	res, err := e.login.Login(ctx, "student@example.edu", testPassword, "")
	require.NoError(t, err)

	e.clock.Advance(6 * time.Minute)

	_, err = e.otp.Resend(ctx, res.SessionID)
	require.ErrorIs(t, err, ErrSessionExpired)

	// The whole challenge is torn down, not just refused.
	_, ok := e.sessions.Get(res.SessionID)
	require.False(t, ok)
	require.Nil(t, e.account(t, acct.ID).SessionToken)
}
