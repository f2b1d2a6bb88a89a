package http

import (
	"net/http"
	"strings"

	"github.com/campusworks/portalauth/internal/auth/service"
	"github.com/campusworks/portalauth/pkg/httpx"
)

// LoginHandler serves POST /v1/auth/login.
// Accepts application/x-www-form-urlencoded with email, password and the
// captcha response token.
type LoginHandler struct {
	LoginService *service.LoginService
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "expected form-encoded body")
		return
	}
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	email := strings.TrimSpace(r.Form.Get("email"))
	password := r.Form.Get("password")
	captchaToken := r.Form.Get("captcha_token")

	if email == "" || password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res, err := h.LoginService.Login(r.Context(), email, password, captchaToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	setSessionCookie(w, res.SessionID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "otp_required",
		"sent_to": res.CensoredEmail,
	})
}
