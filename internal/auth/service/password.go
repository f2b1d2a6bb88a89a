package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/notify"
	"github.com/campusworks/portalauth/internal/auth/session"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/captcha"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/slogx"
)

const (
	defaultPasswordMinAge   = 24 * time.Hour
	defaultPasswordMinLen   = 12
	defaultResetTokenTTL    = 20 * time.Minute
	defaultMaxResetRequests = 3
	defaultResetWindow      = time.Hour

	// forgotDelay pads every forgot-password response to the same latency so
	// timing cannot reveal whether the address has an account.
	forgotDelay = 2 * time.Second

	passwordSymbols = "!@#$%^&*()"
)

// Email-derived substrings of these lengths are forbidden in a new password.
const (
	emailFragmentMin = 2
	emailFragmentMax = 6
)

// PasswordService covers the password lifecycle: complexity policy,
// in-session change, and the forgot/reset flow.
type PasswordService struct {
	Store    store.Store
	Sessions *session.Manager
	Notifier notify.Notifier
	Captcha  captcha.Verifier
	Cipher   *cryptox.TokenCipher

	Now func() time.Time

	// Sleep is overridable for tests; nil means time.Sleep.
	Sleep func(time.Duration)

	MinAge    time.Duration
	MinLength int
	ResetTTL  time.Duration
	MaxResets int
	ResetURL  string // base URL the emailed reset link points at
}

// validateNewPassword applies the policy rules in their fixed order and
// returns the first violation.
func (s *PasswordService) validateNewPassword(acct domain.Account, password string, now time.Time) error {
	// The mandatory first-login change is exempt from the minimum age; the
	// current password was set by provisioning, not the owner.
	if !acct.FirstLogin && acct.PasswordChangedAt != nil && now.Sub(*acct.PasswordChangedAt) < durOr(s.MinAge, defaultPasswordMinAge) {
		return ErrPasswordChangeTooSoon
	}
	if len(password) < intOr(s.MinLength, defaultPasswordMinLen) {
		return ErrPasswordTooShort
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return ErrPasswordNoUppercase
	case !hasLower:
		return ErrPasswordNoLowercase
	case !hasDigit:
		return ErrPasswordNoDigit
	case !hasSymbol:
		return ErrPasswordNoSymbol
	}

	if err := cryptox.VerifySecret(password, acct.PasswordHash); err == nil {
		return ErrPasswordSameAsCurrent
	} else if !errors.Is(err, cryptox.ErrMismatch) {
		return fmt.Errorf("compare against current password: %w", err)
	}

	if containsEmailFragment(password, acct.Email) {
		return ErrPasswordContainsEmail
	}

	for _, old := range acct.PasswordHistory {
		err := cryptox.VerifySecret(password, old)
		if err == nil {
			return ErrPasswordInHistory
		}
		if !errors.Is(err, cryptox.ErrMismatch) {
			return fmt.Errorf("compare against password history: %w", err)
		}
	}
	return nil
}

// containsEmailFragment reports whether password contains any substring of
// the email local part with length emailFragmentMin..emailFragmentMax,
// case-insensitively.
func containsEmailFragment(password, email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return false
	}
	local := strings.ToLower(email[:at])
	lowered := strings.ToLower(password)

	for size := emailFragmentMin; size <= emailFragmentMax && size <= len(local); size++ {
		for i := 0; i+size <= len(local); i++ {
			if strings.Contains(lowered, local[i:i+size]) {
				return true
			}
		}
	}
	return false
}

// Change sets a new password for the session's account after re-checking the
// current one. The session token rotates and first-login clears, so the flow
// doubles as the mandatory first-login password change.
func (s *PasswordService) Change(ctx context.Context, sid, current, newPassword string) error {
	now := nowOr(s.Now)

	st, ok := s.Sessions.Get(sid)
	if !ok || !st.Authenticated {
		return ErrSessionExpired
	}

	acct, err := s.Store.Accounts().GetByID(ctx, st.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Sessions.Delete(sid)
			return ErrSessionExpired
		}
		return fmt.Errorf("load account: %w", err)
	}

	if acct.SessionToken == nil || *acct.SessionToken != st.Token {
		s.Sessions.Delete(sid)
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivitySessionGuard, "token mismatch")
		return ErrSessionMismatch
	}

	if err := cryptox.VerifySecret(current, acct.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrMismatch) {
			recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityChangePassword, "wrong current password")
			return ErrInvalidCredentials
		}
		return fmt.Errorf("verify current password: %w", err)
	}

	if err := s.validateNewPassword(acct, newPassword, now); err != nil {
		if errors.Is(err, ErrPasswordChangeTooSoon) {
			s.notifyWindowDenied(ctx, acct)
		}
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityChangePassword, err.Error())
		return err
	}

	if err := s.applyNewPassword(ctx, &acct, newPassword, now); err != nil {
		return err
	}

	// Rotate under the live session so the browser stays logged in.
	token, err := newSessionToken(s.Cipher)
	if err != nil {
		return fmt.Errorf("rotate session token: %w", err)
	}
	acct.SessionToken = &token

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("store new password: %w", err)
	}

	st.Token = token
	st.PendingFirstLogin = false
	st.LastActivity = now
	s.Sessions.Put(sid, st)

	s.notify(ctx, notify.KindPasswordChanged, acct.Email, nil)
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityChangePassword, "")
	return nil
}

// ForgotRequest starts the reset flow for email. Past the captcha gate the
// outcome is always a nil error with uniform latency: a bad address, a capped
// account, and a sent link are indistinguishable to the caller.
func (s *PasswordService) ForgotRequest(ctx context.Context, email, captchaToken string) error {
	now := nowOr(s.Now)

	if s.Captcha != nil {
		ok, err := s.Captcha.Verify(ctx, captchaToken)
		if err != nil {
			return fmt.Errorf("verify captcha: %w", err)
		}
		if !ok {
			return ErrCaptchaFailed
		}
	}

	defer s.sleep(forgotDelay)

	acct, err := s.Store.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load account: %w", err)
	}

	// First-login accounts have never set their own password; the reset
	// flow would bypass the mandatory change, so it is refused by mail.
	if acct.FirstLogin {
		s.notify(ctx, notify.KindForgotPasswordDenied, acct.Email, map[string]string{
			"reason": "initial password change still pending",
		})
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityForgotPassword, "first login pending")
		return nil
	}

	if acct.ResetRequestedAt != nil && now.Sub(*acct.ResetRequestedAt) < defaultResetWindow {
		if acct.ResetAttempts >= intOr(s.MaxResets, defaultMaxResetRequests) {
			recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityForgotPassword, "request cap reached")
			return nil
		}
		acct.ResetAttempts++
	} else {
		acct.ResetAttempts = 1
	}

	raw, err := cryptox.GenerateToken(cryptox.ResetTokenSize)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	digest := cryptox.FingerprintToken(raw)
	acct.ResetTokenHash = &digest
	acct.ResetRequestedAt = &now

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.notify(ctx, notify.KindForgotPasswordLink, acct.Email, map[string]string{
		"reset_link": s.ResetURL + "?token=" + raw,
	})
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityForgotPassword, "")
	return nil
}

// Reset consumes a reset link. The token is single-use, the link expires
// after ResetTTL, and a successful reset reactivates the account and clears
// its lockout counters.
func (s *PasswordService) Reset(ctx context.Context, rawToken, newPassword string) error {
	now := nowOr(s.Now)

	digest := cryptox.FingerprintToken(rawToken)
	acct, err := s.Store.Accounts().GetByResetTokenHash(ctx, digest)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("load account: %w", err)
	}

	if acct.ResetRequestedAt == nil || now.Sub(*acct.ResetRequestedAt) > durOr(s.ResetTTL, defaultResetTokenTTL) {
		acct.ResetTokenHash = nil
		if uerr := s.Store.WithTx(ctx, func(tx store.Tx) error {
			return tx.Accounts().Update(ctx, acct)
		}); uerr != nil {
			return fmt.Errorf("expire reset token: %w", uerr)
		}
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityResetPassword, "link expired")
		return ErrResetTokenExpired
	}

	if err := s.validateNewPassword(acct, newPassword, now); err != nil {
		if errors.Is(err, ErrPasswordChangeTooSoon) {
			s.notifyWindowDenied(ctx, acct)
		}
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityResetPassword, err.Error())
		return err
	}

	wasInactive := acct.ActiveState == domain.AccountInactive

	if err := s.applyNewPassword(ctx, &acct, newPassword, now); err != nil {
		return err
	}

	// Single use: the digest is gone whether or not the mail is re-read.
	acct.ResetTokenHash = nil
	acct.ResetAttempts = 0
	acct.LastResetAt = &now

	// A reset proves control of the mailbox; lockout state and any pending
	// deactivation are wiped and the account comes back active.
	acct.ActiveState = domain.AccountActive
	acct.DeactivateAt = nil
	acct.FailedLogins = 0
	acct.FailureLog = nil

	// Whoever held the old session does not hold the new password.
	acct.SessionToken = nil

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("store reset password: %w", err)
	}

	s.Sessions.DeleteByAccount(acct.ID)

	s.notify(ctx, notify.KindPasswordChanged, acct.Email, nil)
	if wasInactive {
		s.notify(ctx, notify.KindAccountReactivated, acct.Email, nil)
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityReactivation, "via password reset")
	}
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityResetPassword, "")
	slogx.FromContext(ctx).Info("password reset completed", "account_id", acct.ID)
	return nil
}

// applyNewPassword hashes and installs the new password on acct, pushing the
// old hash into the history. The caller persists acct.
func (s *PasswordService) applyNewPassword(_ context.Context, acct *domain.Account, newPassword string, now time.Time) error {
	hash, err := cryptox.HashSecret(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	acct.PushPasswordHistory(acct.PasswordHash)
	acct.PasswordHash = hash
	acct.PasswordChangedAt = &now
	acct.FirstLogin = false
	return nil
}

// notifyWindowDenied tells the owner a change was refused by the minimum-age
// rule and when the next one becomes possible.
func (s *PasswordService) notifyWindowDenied(ctx context.Context, acct domain.Account) {
	data := map[string]string{}
	if acct.PasswordChangedAt != nil {
		next := acct.PasswordChangedAt.Add(durOr(s.MinAge, defaultPasswordMinAge))
		data["next_eligible_at"] = next.Format(time.RFC3339)
	}
	s.notify(ctx, notify.KindResetWindowDenied, acct.Email, data)
}

func (s *PasswordService) notify(ctx context.Context, kind notify.Kind, recipient string, data map[string]string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Send(ctx, kind, recipient, data); err != nil {
		slogx.FromContext(ctx).Warn("notification failed", "kind", string(kind), "error", err)
	}
}

func (s *PasswordService) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}
