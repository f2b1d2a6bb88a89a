package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/campusworks/portalauth/internal/auth/session"
	"github.com/campusworks/portalauth/internal/auth/store"
)

// HousekeepingService periodically sweeps idle browser sessions and clears
// expired OTP and reset-token state left behind by abandoned flows.
type HousekeepingService struct {
	Store    store.Store
	Sessions *session.Manager
	Logger   *slog.Logger
	Interval time.Duration

	// Retention cutoffs; zero values fall back to the flow defaults.
	IdleTimeout time.Duration
	OTPTTL      time.Duration
	ResetTTL    time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping worker with the given sweep
// interval. Zero or negative intervals default to one minute.
func NewHousekeepingService(st store.Store, sessions *session.Manager, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &HousekeepingService{
		Store:    st,
		Sessions: sessions,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping started", "interval", s.Interval)
}

// Stop shuts the worker down, blocking until any in-progress sweep finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep runs one cleanup pass. The two jobs are independent; a store error
// does not stop the session sweep.
func (s *HousekeepingService) sweep() {
	ctx := context.Background()
	now := time.Now()

	swept := s.Sessions.SweepIdle(now.Add(-durOr(s.IdleTimeout, defaultIdleTimeout)))

	cleared, err := s.Store.Accounts().ClearExpiredChallenges(ctx,
		now.Add(-durOr(s.OTPTTL, defaultOTPTTL)),
		now.Add(-durOr(s.ResetTTL, defaultResetTokenTTL)),
	)
	if err != nil {
		s.Logger.Error("failed to clear expired challenges", "error", err)
	}

	if swept > 0 || cleared > 0 {
		s.Logger.Debug("housekeeping sweep completed",
			"sessions_swept", swept, "challenges_cleared", cleared)
	}
}
