package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/service"
	"github.com/campusworks/portalauth/internal/auth/session"
	"github.com/campusworks/portalauth/pkg/httpx"
)

// SessionCookie is the browser cookie carrying the session id. The cookie
// only identifies the session; all security state lives server-side.
const SessionCookie = "portal_sid"

type ctxKey int

const sessionKey ctxKey = iota

// sessionFromContext returns the guarded session placed by SessionGuard.
func sessionFromContext(ctx context.Context) (string, session.State, bool) {
	v, ok := ctx.Value(sessionKey).(guardedSession)
	if !ok {
		return "", session.State{}, false
	}
	return v.sid, v.state, true
}

type guardedSession struct {
	sid   string
	state session.State
}

// SessionGuard authenticates the request's session cookie and runs the
// session checks (token equality, idle timeout, reauthentication window)
// before the handler sees the request. A session flagged for
// reauthentication is refused here; only the reauthenticate endpoint itself
// skips this middleware.
func SessionGuard(svc *service.SessionService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "no active session")
				return
			}

			st, err := svc.Guard(r.Context(), cookie.Value)
			if err != nil {
				clearSessionCookie(w)
				writeServiceError(w, err)
				return
			}

			if st.MustReauthenticate {
				httpx.WriteError(w, http.StatusUnauthorized, "reauthentication_required",
					"session idle too long, re-enter password")
				return
			}

			// First-login accounts only get the password-change endpoint.
			if st.PendingFirstLogin && r.URL.Path != "/v1/auth/password/change" {
				httpx.WriteError(w, http.StatusForbidden, "password_change_required",
					"initial password change is pending")
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, guardedSession{sid: cookie.Value, state: st})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole refuses requests whose guarded session does not hold role.
// Must sit inside SessionGuard.
func RequireRole(role domain.Role) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, st, ok := sessionFromContext(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "no active session")
				return
			}
			if st.Role != role {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setSessionCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionID pulls the cookie value without running the guard, for endpoints
// that do their own session handling (logout, otp, reauthenticate).
func sessionID(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// writeServiceError maps flow errors onto HTTP error responses. Unknown
// errors become an opaque 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var badCreds *service.InvalidCredentialsError

	switch {
	case errors.As(err, &badCreds):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials",
			fmt.Sprintf("email or password is incorrect, %d attempts remaining", badCreds.Remaining))
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
	case errors.Is(err, service.ErrCaptchaFailed):
		httpx.WriteError(w, http.StatusBadRequest, "captcha_failed", "captcha verification failed")
	case errors.Is(err, service.ErrAccountLocked):
		httpx.WriteError(w, http.StatusForbidden, "account_locked", "too many failed attempts, try again later")
	case errors.Is(err, service.ErrAccountInactive):
		httpx.WriteError(w, http.StatusForbidden, "account_inactive", "account is deactivated")
	case errors.Is(err, service.ErrInvalidOTP):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_otp", "passcode is incorrect")
	case errors.Is(err, service.ErrOTPExpired):
		httpx.WriteError(w, http.StatusUnauthorized, "otp_expired", "passcode has expired, log in again")
	case errors.Is(err, service.ErrNoPendingChallenge):
		httpx.WriteError(w, http.StatusBadRequest, "no_pending_challenge", "no login challenge in progress")
	case errors.Is(err, service.ErrTooManyOTPAttempts):
		httpx.WriteError(w, http.StatusForbidden, "too_many_attempts", "too many passcode attempts, log in again")
	case errors.Is(err, service.ErrTooManyOTPResends):
		httpx.WriteError(w, http.StatusTooManyRequests, "too_many_resends", "passcode resend limit reached, log in again")
	case errors.Is(err, service.ErrSessionExpired):
		httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "session has expired")
	case errors.Is(err, service.ErrSessionMismatch):
		httpx.WriteError(w, http.StatusUnauthorized, "session_invalid", "session is no longer valid")
	case errors.Is(err, service.ErrResetTokenInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "reset_invalid", "reset link is invalid")
	case errors.Is(err, service.ErrResetTokenExpired):
		httpx.WriteError(w, http.StatusBadRequest, "reset_expired", "reset link has expired")
	case errors.Is(err, service.ErrAccountNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "account not found")
	case errors.Is(err, service.ErrAccountExists):
		httpx.WriteError(w, http.StatusConflict, "already_exists", "an account with that email already exists")
	case errors.Is(err, service.ErrInvalidRole):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_role", "unknown role")
	case isPasswordPolicyError(err):
		httpx.WriteError(w, http.StatusBadRequest, "password_policy", err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
	}
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isPasswordPolicyError(err error) bool {
	for _, policyErr := range []error{
		service.ErrPasswordChangeTooSoon,
		service.ErrPasswordTooShort,
		service.ErrPasswordNoUppercase,
		service.ErrPasswordNoLowercase,
		service.ErrPasswordNoDigit,
		service.ErrPasswordNoSymbol,
		service.ErrPasswordSameAsCurrent,
		service.ErrPasswordContainsEmail,
		service.ErrPasswordInHistory,
	} {
		if errors.Is(err, policyErr) {
			return true
		}
	}
	return false
}
