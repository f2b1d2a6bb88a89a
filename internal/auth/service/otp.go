package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/notify"
	"github.com/campusworks/portalauth/internal/auth/session"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/slogx"
)

const (
	defaultOTPTTL         = 5 * time.Minute
	defaultMaxOTPAttempts = 3
	defaultMaxOTPResends  = 3
)

// OTPService runs the second login factor. A challenge-phase session created
// by LoginService becomes authenticated only here, and the session token is
// rotated on both verify and resend.
type OTPService struct {
	Store    store.Store
	Sessions *session.Manager
	Notifier notify.Notifier
	Cipher   *cryptox.TokenCipher

	Now func() time.Time

	OTPTTL      time.Duration
	MaxAttempts int
	MaxResends  int
	OTPLength   int
}

// Verify checks the emailed passcode for the challenge session sid. On
// success the session turns authenticated, the lockout counters reset, and a
// rotated token replaces the login-time one. The returned flag reports
// whether the account still has its first-login password change pending.
func (s *OTPService) Verify(ctx context.Context, sid, code string) (bool, error) {
	now := nowOr(s.Now)

	st, acct, err := s.loadChallenge(ctx, sid)
	if err != nil {
		return false, err
	}

	// An expired passcode kills the whole attempt, not just this submit;
	// anything the client still holds (code, token, session) is worthless.
	if now.Sub(*acct.OTPIssuedAt) > durOr(s.OTPTTL, defaultOTPTTL) {
		return false, s.abandonChallenge(ctx, sid, acct, "passcode expired", ErrOTPExpired)
	}

	maxAttempts := intOr(s.MaxAttempts, defaultMaxOTPAttempts)
	if acct.OTPAttempts >= maxAttempts {
		return false, s.abandonChallenge(ctx, sid, acct, "too many passcode attempts", ErrTooManyOTPAttempts)
	}

	if err := cryptox.VerifySecret(code, *acct.OTPHash); err != nil {
		if !errors.Is(err, cryptox.ErrMismatch) {
			return false, fmt.Errorf("verify otp: %w", err)
		}
		acct.OTPAttempts++
		if acct.OTPAttempts >= maxAttempts {
			return false, s.abandonChallenge(ctx, sid, acct, "too many passcode attempts", ErrTooManyOTPAttempts)
		}
		uerr := s.Store.WithTx(ctx, func(tx store.Tx) error {
			return tx.Accounts().Update(ctx, acct)
		})
		if uerr != nil {
			return false, fmt.Errorf("record otp attempt: %w", uerr)
		}
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityVerifyOTP, "wrong passcode")
		return false, ErrInvalidOTP
	}

	token, err := newSessionToken(s.Cipher)
	if err != nil {
		return false, fmt.Errorf("rotate session token: %w", err)
	}

	acct.ClearOTPState()
	acct.OTPIssuedAt = nil
	acct.FailedLogins = 0
	acct.FailureLog = nil
	acct.SessionToken = &token

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return false, fmt.Errorf("store verified session: %w", err)
	}

	st.Token = token
	st.Authenticated = true
	st.LastActivity = now
	s.Sessions.Put(sid, st)

	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityVerifyOTP, "")
	slogx.FromContext(ctx).Info("login verified", "account_id", acct.ID)

	return st.PendingFirstLogin, nil
}

// Resend replaces the outstanding passcode and emails the new one. The
// session token rotates alongside so an intercepted earlier token dies with
// the old passcode.
func (s *OTPService) Resend(ctx context.Context, sid string) (string, error) {
	now := nowOr(s.Now)

	st, acct, err := s.loadChallenge(ctx, sid)
	if err != nil {
		return "", err
	}

	// A challenge too old to verify is too old to extend; start over.
	if now.Sub(st.ChallengeStartedAt) > durOr(s.OTPTTL, defaultOTPTTL) {
		return "", s.abandonChallenge(ctx, sid, acct, "challenge expired", ErrSessionExpired)
	}

	// Maxing out the resends invalidates the whole login attempt: the
	// outstanding code dies with the session and the user starts over.
	if acct.OTPResends >= intOr(s.MaxResends, defaultMaxOTPResends) {
		return "", s.abandonChallenge(ctx, sid, acct, "resend cap reached", ErrTooManyOTPResends)
	}

	otp, err := cryptox.GenerateOTP(intOr(s.OTPLength, defaultOTPLength))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	otpHash, err := cryptox.HashSecret(otp)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	token, err := newSessionToken(s.Cipher)
	if err != nil {
		return "", fmt.Errorf("rotate session token: %w", err)
	}

	acct.OTPHash = &otpHash
	acct.OTPIssuedAt = &now
	acct.OTPAttempts = 0
	acct.OTPResends++
	acct.SessionToken = &token

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return "", fmt.Errorf("store resent challenge: %w", err)
	}

	st.Token = token
	s.Sessions.Put(sid, st)

	if s.Notifier != nil {
		if nerr := s.Notifier.Send(ctx, notify.KindOTPIssued, acct.Email, map[string]string{"otp": otp}); nerr != nil {
			slogx.FromContext(ctx).Warn("notification failed", "kind", string(notify.KindOTPIssued), "error", nerr)
		}
	}
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityResendOTP, "")

	return censorEmail(acct.Email), nil
}

// loadChallenge resolves sid to its challenge-phase session and account,
// enforcing the double-store token equality before anything else.
func (s *OTPService) loadChallenge(ctx context.Context, sid string) (session.State, domain.Account, error) {
	st, ok := s.Sessions.Get(sid)
	if !ok {
		return session.State{}, domain.Account{}, ErrSessionExpired
	}
	if st.Authenticated {
		return session.State{}, domain.Account{}, ErrNoPendingChallenge
	}

	acct, err := s.Store.Accounts().GetByID(ctx, st.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Sessions.Delete(sid)
			return session.State{}, domain.Account{}, ErrSessionExpired
		}
		return session.State{}, domain.Account{}, fmt.Errorf("load account: %w", err)
	}

	if acct.SessionToken == nil || *acct.SessionToken != st.Token {
		s.Sessions.Delete(sid)
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivitySessionGuard, "challenge token mismatch")
		return session.State{}, domain.Account{}, ErrSessionMismatch
	}

	if acct.OTPHash == nil || acct.OTPIssuedAt == nil {
		return session.State{}, domain.Account{}, ErrNoPendingChallenge
	}
	return st, acct, nil
}

// abandonChallenge tears the whole challenge down: OTP state cleared, token
// nulled, session deleted. The client has to log in again from scratch.
func (s *OTPService) abandonChallenge(ctx context.Context, sid string, acct domain.Account, reason string, outcome error) error {
	acct.ClearOTPState()
	acct.OTPIssuedAt = nil
	acct.SessionToken = nil

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("abandon challenge: %w", err)
	}
	s.Sessions.Delete(sid)
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityVerifyOTP, reason)
	return outcome
}
