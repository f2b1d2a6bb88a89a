package http

import (
	"net/http"
	"strings"

	"github.com/campusworks/portalauth/internal/auth/service"
	"github.com/campusworks/portalauth/pkg/httpx"
)

// PasswordHandler serves the password lifecycle endpoints.
type PasswordHandler struct {
	PasswordService *service.PasswordService
	SessionService  *service.SessionService
}

// HandleChange serves POST /v1/auth/password/change. The session guard runs
// here rather than as middleware because a flagged or first-login session is
// still allowed to change its password.
func (h *PasswordHandler) HandleChange(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "no active session")
		return
	}

	if _, err := h.SessionService.Guard(r.Context(), sid); err != nil {
		clearSessionCookie(w)
		writeServiceError(w, err)
		return
	}

	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	current := r.Form.Get("current_password")
	next := r.Form.Get("new_password")
	if current == "" || next == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "current_password and new_password are required")
		return
	}

	if err := h.PasswordService.Change(r.Context(), sid, current, next); err != nil {
		if clearsSession(err) {
			clearSessionCookie(w)
		}
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

// HandleForgot serves POST /v1/auth/password/forgot. The response is the
// same whatever happened; outcomes are only ever visible in the mailbox.
func (h *PasswordHandler) HandleForgot(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	email := strings.TrimSpace(r.Form.Get("email"))
	if email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}
	captchaToken := r.Form.Get("captcha_token")

	if err := h.PasswordService.ForgotRequest(r.Context(), email, captchaToken); err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "accepted",
		"detail": "if that address has an account, a reset link has been sent",
	})
}

// HandleReset serves POST /v1/auth/password/reset.
func (h *PasswordHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := strings.TrimSpace(r.Form.Get("token"))
	next := r.Form.Get("new_password")
	if token == "" || next == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token and new_password are required")
		return
	}

	if err := h.PasswordService.Reset(r.Context(), token, next); err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}
