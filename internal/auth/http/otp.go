package http

import (
	"net/http"
	"strings"

	"github.com/campusworks/portalauth/internal/auth/service"
	"github.com/campusworks/portalauth/pkg/httpx"
)

// OTPHandler serves the second login factor:
// POST /v1/auth/otp/verify and POST /v1/auth/otp/resend.
type OTPHandler struct {
	OTPService *service.OTPService
}

func (h *OTPHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "no active session")
		return
	}
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	code := strings.TrimSpace(r.Form.Get("otp"))
	if code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "otp is required")
		return
	}

	firstLogin, err := h.OTPService.Verify(r.Context(), sid, code)
	if err != nil {
		if clearsSession(err) {
			clearSessionCookie(w)
		}
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":                   "authenticated",
		"password_change_required": firstLogin,
	})
}

func (h *OTPHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "no active session")
		return
	}

	censored, err := h.OTPService.Resend(r.Context(), sid)
	if err != nil {
		if clearsSession(err) {
			clearSessionCookie(w)
		}
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "otp_resent",
		"sent_to": censored,
	})
}

// clearsSession reports whether err means the server-side session is gone
// and the cookie should go with it.
func clearsSession(err error) bool {
	return errorIsAny(err,
		service.ErrSessionExpired,
		service.ErrSessionMismatch,
		service.ErrTooManyOTPAttempts,
		service.ErrTooManyOTPResends,
		service.ErrOTPExpired,
		service.ErrAccountInactive,
	)
}
