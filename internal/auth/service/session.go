package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/session"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/slogx"
)

// Session guard tuning. Idle past IdleTimeout ends the session outright;
// idle past ReauthAfter (but under the timeout) keeps it alive with the
// reauthentication flag raised until the password is re-entered.
const (
	defaultIdleTimeout = 2 * time.Minute
	defaultReauthAfter = 1 * time.Minute
)

// SessionService guards authenticated sessions on every portal request and
// handles reauthentication and logout.
type SessionService struct {
	Store    store.Store
	Sessions *session.Manager
	Cipher   *cryptox.TokenCipher

	Now func() time.Time

	IdleTimeout time.Duration
	ReauthAfter time.Duration
}

// Guard validates the session for sid and returns its current state. Checks
// run in strict order: token equality against the account row first (a
// mismatch is treated as a hijack and destroys the session), then the idle
// timeout, then the reauthentication window. A session inside the reauth
// window stays valid but is NOT touched, so it still times out if the
// password never arrives.
func (s *SessionService) Guard(ctx context.Context, sid string) (session.State, error) {
	now := nowOr(s.Now)

	st, ok := s.Sessions.Get(sid)
	if !ok {
		return session.State{}, ErrSessionExpired
	}
	if !st.Authenticated {
		// Challenge-phase sessions never reach the portal proper.
		return session.State{}, ErrSessionExpired
	}

	acct, err := s.Store.Accounts().GetByID(ctx, st.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Sessions.Delete(sid)
			return session.State{}, ErrSessionExpired
		}
		return session.State{}, fmt.Errorf("load account: %w", err)
	}

	if acct.SessionToken == nil || *acct.SessionToken != st.Token {
		s.Sessions.Delete(sid)
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivitySessionGuard, "token mismatch")
		slogx.FromContext(ctx).Warn("session token mismatch", "account_id", acct.ID)
		return session.State{}, ErrSessionMismatch
	}

	if acct.ActiveState == domain.AccountInactive {
		if err := s.endSession(ctx, sid, acct); err != nil {
			return session.State{}, err
		}
		return session.State{}, ErrAccountInactive
	}

	idle := now.Sub(st.LastActivity)

	if idle >= durOr(s.IdleTimeout, defaultIdleTimeout) {
		if err := s.endSession(ctx, sid, acct); err != nil {
			return session.State{}, err
		}
		recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivitySessionGuard, "idle timeout")
		return session.State{}, ErrSessionExpired
	}

	if idle > durOr(s.ReauthAfter, defaultReauthAfter) {
		st.MustReauthenticate = true
		s.Sessions.Put(sid, st)
		return st, nil
	}

	st.LastActivity = now
	s.Sessions.Put(sid, st)
	return st, nil
}

// Reauthenticate re-checks the password for a flagged session, rotating the
// token and clearing the flag on success.
func (s *SessionService) Reauthenticate(ctx context.Context, sid, password string) error {
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

	if err := cryptox.VerifySecret(password, acct.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrMismatch) {
			recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityFail, domain.ActivityReauthenticate, "wrong password")
			return ErrInvalidCredentials
		}
		return fmt.Errorf("verify password: %w", err)
	}

	token, err := newSessionToken(s.Cipher)
	if err != nil {
		return fmt.Errorf("rotate session token: %w", err)
	}
	acct.SessionToken = &token

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("store rotated token: %w", err)
	}

	st.Token = token
	st.MustReauthenticate = false
	st.LastActivity = now
	s.Sessions.Put(sid, st)

	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityReauthenticate, "")
	return nil
}

// Logout ends the session and invalidates the account's token. Unknown sids
// are a no-op; logout is idempotent.
func (s *SessionService) Logout(ctx context.Context, sid string) error {
	st, ok := s.Sessions.Get(sid)
	if !ok {
		return nil
	}

	acct, err := s.Store.Accounts().GetByID(ctx, st.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Sessions.Delete(sid)
			return nil
		}
		return fmt.Errorf("load account: %w", err)
	}

	if err := s.endSession(ctx, sid, acct); err != nil {
		return err
	}
	recordActivity(ctx, s.Store, acct.ID, acct.Role, domain.ActivityPass, domain.ActivityLogout, "")
	return nil
}

// endSession deletes the browser session and nulls the account's token so
// the pair can never diverge into a half-dead state.
func (s *SessionService) endSession(ctx context.Context, sid string, acct domain.Account) error {
	s.Sessions.Delete(sid)

	if acct.SessionToken == nil {
		return nil
	}
	acct.SessionToken = nil
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return fmt.Errorf("invalidate session token: %w", err)
	}
	return nil
}
