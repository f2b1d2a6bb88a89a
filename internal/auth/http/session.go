package http

import (
	"net/http"

	"github.com/campusworks/portalauth/internal/auth/service"
	"github.com/campusworks/portalauth/pkg/httpx"
)

// SessionHandler serves session introspection, reauthentication and logout.
type SessionHandler struct {
	SessionService *service.SessionService
}

// HandleGet serves GET /v1/auth/session. The portal calls it on navigation;
// the response tells the client whether to show the reauthentication prompt.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "no active session")
		return
	}

	st, err := h.SessionService.Guard(r.Context(), sid)
	if err != nil {
		clearSessionCookie(w)
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"email":                     st.Email,
		"role":                      string(st.Role),
		"reauthentication_required": st.MustReauthenticate,
		"password_change_required":  st.PendingFirstLogin,
	})
}

// HandleReauthenticate serves POST /v1/auth/reauthenticate.
func (h *SessionHandler) HandleReauthenticate(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "no active session")
		return
	}
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	password := r.Form.Get("password")
	if password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "password is required")
		return
	}

	if err := h.SessionService.Reauthenticate(r.Context(), sid, password); err != nil {
		if clearsSession(err) {
			clearSessionCookie(w)
		}
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "reauthenticated"})
}

// HandleLogout serves POST /v1/auth/logout. Always succeeds; logging out of
// a dead session is not an error.
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sid := sessionID(r); sid != "" {
		if err := h.SessionService.Logout(r.Context(), sid); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	clearSessionCookie(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}
