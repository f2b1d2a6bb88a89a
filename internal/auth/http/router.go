package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/campusworks/portalauth/internal/auth/service"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/httpx"
	"github.com/campusworks/portalauth/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	LoginService        *service.LoginService
	OTPService          *service.OTPService
	SessionService      *service.SessionService
	PasswordService     *service.PasswordService
	AccountService      *service.AccountService
	DeactivationService *service.DeactivationService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSession()
	r.registerPassword()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	loginHandler := &LoginHandler{LoginService: r.LoginService}

	// POST /login - strict limit by IP + email so one address cannot be
	// brute-forced from a botnet and one IP cannot spray many addresses.
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(loginHandler,
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "email"),
		),
	)

	otpHandler := &OTPHandler{OTPService: r.OTPService}

	r.Mux.Handle("POST /v1/auth/otp/verify",
		httpx.Chain(http.HandlerFunc(otpHandler.HandleVerify),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/otp/resend",
		httpx.Chain(http.HandlerFunc(otpHandler.HandleResend),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSession() {
	h := &SessionHandler{SessionService: r.SessionService}

	// GET /session - the portal polls this on navigation, lenient limit.
	r.Mux.Handle("GET /v1/auth/session",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/reauthenticate",
		httpx.Chain(http.HandlerFunc(h.HandleReauthenticate),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerPassword() {
	h := &PasswordHandler{
		PasswordService: r.PasswordService,
		SessionService:  r.SessionService,
	}

	r.Mux.Handle("POST /v1/auth/password/change",
		httpx.Chain(http.HandlerFunc(h.HandleChange),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// The forgot endpoint is unauthenticated and emails links; limit by IP
	// + email on top of the per-account hourly cap.
	r.Mux.Handle("POST /v1/auth/password/forgot",
		httpx.Chain(http.HandlerFunc(h.HandleForgot),
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "email"),
		),
	)
	r.Mux.Handle("POST /v1/auth/password/reset",
		httpx.Chain(http.HandlerFunc(h.HandleReset),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{
		AccountService:      r.AccountService,
		DeactivationService: r.DeactivationService,
	}

	// Every admin route sits behind the session guard plus the admin role
	// check; limits are moderate since these are staff tools.
	secure := func(next http.Handler) http.Handler {
		return httpx.Chain(next,
			SessionGuard(r.SessionService),
			RequireRole("admin"),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("POST /v1/admin/accounts", secure(http.HandlerFunc(h.HandleCreate)))
	r.Mux.Handle("GET /v1/admin/accounts", secure(http.HandlerFunc(h.HandleList)))
	r.Mux.Handle("GET /v1/admin/accounts/{id}", secure(http.HandlerFunc(h.HandleGet)))
	r.Mux.Handle("POST /v1/admin/accounts/{id}/deactivate", secure(http.HandlerFunc(h.HandleDeactivate)))
	r.Mux.Handle("POST /v1/admin/accounts/{id}/reactivate", secure(http.HandlerFunc(h.HandleReactivate)))
	r.Mux.Handle("POST /v1/admin/roles/{role}/deactivate", secure(http.HandlerFunc(h.HandleDeactivateRole)))
	r.Mux.Handle("GET /v1/admin/accounts/{id}/activity", secure(http.HandlerFunc(h.HandleActivity)))
	r.Mux.Handle("GET /v1/admin/activity", secure(http.HandlerFunc(h.HandleRecentActivity)))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
