package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/campusworks/portalauth/internal/auth/http"
	"github.com/campusworks/portalauth/internal/auth/notify"
	"github.com/campusworks/portalauth/internal/auth/service"
	"github.com/campusworks/portalauth/internal/auth/session"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/internal/auth/store/drivers/sqlite"
	"github.com/campusworks/portalauth/pkg/captcha"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	sessions *session.Manager
	cipher   *cryptox.TokenCipher
	notifier notify.Notifier
	verifier captcha.Verifier

	loginService        *service.LoginService
	otpService          *service.OTPService
	sessionService      *service.SessionService
	passwordService     *service.PasswordService
	accountService      *service.AccountService
	deactivationService *service.DeactivationService
	housekeepingService *service.HousekeepingService
	scheduler           *service.TimerScheduler

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg:      cfg,
		sessions: session.NewManager(),
		logger: slogx.New(slogx.Config{
			Service: "portal-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cipher, err := cryptox.NewTokenCipher(cfg.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_TOKEN_KEY: %w", err)
	}
	app.cipher = cipher

	cryptox.SetPepperPath(cfg.PepperFile)

	if cfg.CaptchaSecret != "" {
		app.verifier = captcha.NewHTTPVerifier(cfg.CaptchaVerifyURL, cfg.CaptchaSecret)
	} else {
		app.logger.Warn("captcha secret not set, captcha gate disabled")
		app.verifier = captcha.Static(true)
	}

	// TODO: swap LogNotifier for an SMTP implementation once the campus
	// relay credentials are provisioned.
	app.notifier = &notify.LogNotifier{Log: app.logger}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	// Resume deactivation timers that were pending across the restart.
	if err := app.deactivationService.Rearm(context.Background()); err != nil {
		return fmt.Errorf("rearm deactivations: %w", err)
	}

	app.housekeepingService.Start()

	app.logger.Info("portal auth starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the HTTP server, background workers, and the
// database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down portal auth...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()
	app.scheduler.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("portal auth stopped")
	return nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initServices() {
	app.scheduler = service.NewTimerScheduler()

	app.loginService = &service.LoginService{
		Store:         app.db,
		Sessions:      app.sessions,
		Notifier:      app.notifier,
		Captcha:       app.verifier,
		Cipher:        app.cipher,
		LockoutWindow: app.cfg.LockoutWindow,
	}
	app.otpService = &service.OTPService{
		Store:    app.db,
		Sessions: app.sessions,
		Notifier: app.notifier,
		Cipher:   app.cipher,
		OTPTTL:   app.cfg.OTPTTL,
	}
	app.sessionService = &service.SessionService{
		Store:       app.db,
		Sessions:    app.sessions,
		Cipher:      app.cipher,
		IdleTimeout: app.cfg.IdleTimeout,
		ReauthAfter: app.cfg.ReauthAfter,
	}
	app.passwordService = &service.PasswordService{
		Store:    app.db,
		Sessions: app.sessions,
		Notifier: app.notifier,
		Captcha:  app.verifier,
		Cipher:   app.cipher,
		ResetTTL: app.cfg.ResetTTL,
		ResetURL: app.cfg.ResetBaseURL,
	}
	app.accountService = &service.AccountService{Store: app.db}
	app.deactivationService = &service.DeactivationService{
		Store:     app.db,
		Sessions:  app.sessions,
		Notifier:  app.notifier,
		Scheduler: app.scheduler,
		Grace:     app.cfg.DeactivationGrace,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.sessions,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeepingService.IdleTimeout = app.cfg.IdleTimeout
	app.housekeepingService.OTPTTL = app.cfg.OTPTTL
	app.housekeepingService.ResetTTL = app.cfg.ResetTTL
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	router.LoginService = app.loginService
	router.OTPService = app.otpService
	router.SessionService = app.sessionService
	router.PasswordService = app.passwordService
	router.AccountService = app.accountService
	router.DeactivationService = app.deactivationService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
