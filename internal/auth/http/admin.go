package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/service"
	"github.com/campusworks/portalauth/pkg/httpx"
	"github.com/campusworks/portalauth/pkg/idx"
)

// AdminHandler serves the /v1/admin account-management endpoints. All of
// them sit behind SessionGuard plus RequireRole("admin").
type AdminHandler struct {
	AccountService      *service.AccountService
	DeactivationService *service.DeactivationService
}

// accountResponse is the admin-facing view of an account. Hashes, tokens
// and OTP state never leave the server.
type accountResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	ActiveState  string     `json:"active_state"`
	FirstLogin   bool       `json:"first_login"`
	FailedLogins int        `json:"failed_logins"`
	DeactivateAt *time.Time `json:"deactivate_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		ID:           a.ID.String(),
		Email:        a.Email,
		Name:         a.Name,
		Role:         string(a.Role),
		ActiveState:  string(a.ActiveState),
		FirstLogin:   a.FirstLogin,
		FailedLogins: a.FailedLogins,
		DeactivateAt: a.DeactivateAt,
		CreatedAt:    a.CreatedAt,
	}
}

func (h *AdminHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	email := strings.TrimSpace(r.Form.Get("email"))
	name := strings.TrimSpace(r.Form.Get("name"))
	role := domain.Role(r.Form.Get("role"))
	password := r.Form.Get("password")
	if email == "" || name == "" || password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email, name, role and password are required")
		return
	}

	acct, err := h.AccountService.Create(r.Context(), email, name, role, password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAccountResponse(acct))
}

func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	role := domain.Role(r.URL.Query().Get("role"))

	accounts, err := h.AccountService.ListByRole(r.Context(), role)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (h *AdminHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	acct, err := h.AccountService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *AdminHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.DeactivationService.Deactivate(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "deactivation_scheduled"})
}

func (h *AdminHandler) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.DeactivationService.Reactivate(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "reactivated"})
}

func (h *AdminHandler) HandleDeactivateRole(w http.ResponseWriter, r *http.Request) {
	role := domain.Role(r.PathValue("role"))
	if !role.Valid() {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_role", "unknown role")
		return
	}

	scheduled, err := h.DeactivationService.DeactivateRole(r.Context(), role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status":    "deactivation_scheduled",
		"scheduled": scheduled,
	})
}

func (h *AdminHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entries, err := h.AccountService.Activity(r.Context(), id, queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"activity": toActivityResponses(entries)})
}

func (h *AdminHandler) HandleRecentActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.AccountService.RecentActivity(r.Context(), queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"activity": toActivityResponses(entries)})
}

type activityResponse struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toActivityResponses(entries []domain.ActivityEntry) []activityResponse {
	out := make([]activityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityResponse{
			ID:          e.ID.String(),
			AccountID:   e.AccountID.String(),
			Role:        string(e.Role),
			Status:      string(e.Status),
			Type:        e.Type,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out
}

func pathID(w http.ResponseWriter, r *http.Request) (idx.ID, bool) {
	id, err := idx.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed account id")
		return idx.Zero, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
