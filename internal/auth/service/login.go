package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/notify"
	"github.com/campusworks/portalauth/internal/auth/session"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/captcha"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/slogx"
)

// Default lockout tuning. An account locks after lockoutThreshold failed
// attempts inside lockoutWindow, and is deactivated outright once the
// cumulative counter reaches deactivateThreshold.
const (
	defaultLockoutThreshold    = 5
	defaultLockoutWindow       = 10 * time.Minute
	defaultDeactivateThreshold = 10
	defaultOTPLength           = 6
)

// LoginResult is what a successful first factor hands back to the handler:
// the browser session id and the masked address the passcode went to.
type LoginResult struct {
	SessionID     string
	CensoredEmail string
}

// LoginService runs the first login factor: captcha, password, lockout
// accounting, and on success issues the OTP challenge plus a fresh encrypted
// session token stored on both the account row and the browser session.
type LoginService struct {
	Store    store.Store
	Sessions *session.Manager
	Notifier notify.Notifier
	Captcha  captcha.Verifier
	Cipher   *cryptox.TokenCipher

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time

	LockoutThreshold    int
	LockoutWindow       time.Duration
	DeactivateThreshold int
	OTPLength           int
}

// Login checks the captcha and password for email. On success it opens a
// challenge-phase session and emails a passcode; the session only becomes
// usable after OTPService.Verify.
func (s *LoginService) Login(ctx context.Context, email, password, captchaToken string) (LoginResult, error) {
	now := nowOr(s.Now)
	log := slogx.FromContext(ctx)

	if s.Captcha != nil {
		ok, err := s.Captcha.Verify(ctx, captchaToken)
		if err != nil {
			return LoginResult{}, fmt.Errorf("verify captcha: %w", err)
		}
		if !ok {
			return LoginResult{}, ErrCaptchaFailed
		}
	}

	acct, err := s.Store.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Same error shape as a wrong password, full attempt budget
			// included, so the form cannot probe for registered addresses.
			return LoginResult{}, &InvalidCredentialsError{Remaining: intOr(s.LockoutThreshold, defaultLockoutThreshold)}
		}
		return LoginResult{}, fmt.Errorf("load account: %w", err)
	}

	if acct.ActiveState == domain.AccountInactive {
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityLogin, "inactive account")
		return LoginResult{}, ErrAccountInactive
	}

	threshold := intOr(s.LockoutThreshold, defaultLockoutThreshold)
	window := durOr(s.LockoutWindow, defaultLockoutWindow)

	// A locked account stays locked for the remainder of the window; the
	// attempt is refused before the password is even checked and the
	// counter does not move. Only the locking attempt itself arms the
	// window: past the threshold, attempts fall through to the password
	// check and keep counting toward deactivation.
	if acct.FailedLogins == threshold && acct.LastAttemptAt != nil && now.Sub(*acct.LastAttemptAt) < window {
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityLogin, "locked out")
		return LoginResult{}, ErrAccountLocked
	}

	if err := cryptox.VerifySecret(password, acct.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrMismatch) {
			return LoginResult{}, s.recordFailedAttempt(ctx, acct, now)
		}
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}

	return s.openChallenge(ctx, acct, now, log)
}

// recordFailedAttempt bumps the counters and decides between plain rejection,
// lockout, and deactivation. The returned error is what the caller surfaces.
func (s *LoginService) recordFailedAttempt(ctx context.Context, acct domain.Account, now time.Time) error {
	threshold := intOr(s.LockoutThreshold, defaultLockoutThreshold)
	deactivateAt := intOr(s.DeactivateThreshold, defaultDeactivateThreshold)

	acct.FailedLogins++
	acct.LastAttemptAt = &now
	acct.RecordFailure(now)

	remaining := threshold - acct.FailedLogins
	if remaining <= 0 {
		remaining = deactivateAt - acct.FailedLogins
	}

	var outcome error = &InvalidCredentialsError{Remaining: remaining}
	description := "invalid credentials"

	switch {
	case acct.FailedLogins >= deactivateAt:
		acct.ActiveState = domain.AccountInactive
		acct.SessionToken = nil
		outcome = ErrAccountInactive
		description = "deactivated after repeated failures"
	case acct.FailedLogins == threshold:
		outcome = ErrAccountLocked
		description = "locked out"
	}

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}

	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityLogin, description)

	switch outcome {
	case ErrAccountLocked:
		s.notify(ctx, notify.KindSuspiciousLogin, acct.Email, map[string]string{
			"failed_attempts": fmt.Sprint(acct.FailedLogins),
		})
	case ErrAccountInactive:
		s.Sessions.DeleteByAccount(acct.ID)
		s.notify(ctx, notify.KindAccountDeactivated, acct.Email, map[string]string{
			"reason": "repeated failed login attempts",
		})
	}
	return outcome
}

// openChallenge issues the OTP and the fresh session token, persisting both
// atomically before anything is revealed to the client.
func (s *LoginService) openChallenge(ctx context.Context, acct domain.Account, now time.Time, log *slog.Logger) (LoginResult, error) {
	otp, err := cryptox.GenerateOTP(intOr(s.OTPLength, defaultOTPLength))
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate otp: %w", err)
	}
	otpHash, err := cryptox.HashSecret(otp)
	if err != nil {
		return LoginResult{}, fmt.Errorf("hash otp: %w", err)
	}
	token, err := newSessionToken(s.Cipher)
	if err != nil {
		return LoginResult{}, fmt.Errorf("mint session token: %w", err)
	}

	acct.OTPHash = &otpHash
	acct.OTPIssuedAt = &now
	acct.OTPAttempts = 0
	acct.OTPResends = 0
	acct.SessionToken = &token

	// The correct password alone clears the lockout ledger; an abandoned
	// OTP afterwards must not leave the account a failure from locking.
	acct.FailedLogins = 0
	acct.FailureLog = nil

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("store challenge: %w", err)
	}

	// Any previous browser session is dead the moment the token rotates.
	s.Sessions.DeleteByAccount(acct.ID)

	sid, err := s.Sessions.Create(session.State{
		AccountID:          acct.ID,
		Email:              acct.Email,
		Role:               acct.Role,
		Token:              token,
		PendingFirstLogin:  acct.FirstLogin,
		ChallengeStartedAt: now,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	s.notify(ctx, notify.KindOTPIssued, acct.Email, map[string]string{"otp": otp})
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityLogin, "passcode issued")
	log.Info("login challenge opened", "account_id", acct.ID)

	return LoginResult{SessionID: sid, CensoredEmail: censorEmail(acct.Email)}, nil
}

func (s *LoginService) notify(ctx context.Context, kind notify.Kind, recipient string, data map[string]string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Send(ctx, kind, recipient, data); err != nil {
		slogx.FromContext(ctx).Warn("notification failed", "kind", string(kind), "error", err)
	}
}
