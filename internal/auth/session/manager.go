// Package session holds the ephemeral server-side browser sessions. A session
// mirrors the account row's encrypted session token; the account row stays the
// source of truth and any divergence is treated as a hijack.
package session

import (
	"sync"
	"time"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/idx"
)

// sidSize is the byte length of the random session identifier carried in the
// browser cookie.
const sidSize = 32

// State is one browser session. Login creates it in the challenge phase
// (Authenticated false); OTP verification flips it to authenticated. The
// zero LastActivity of a challenge-phase session is ChallengeStartedAt.
type State struct {
	AccountID idx.ID
	Email     string
	Role      domain.Role

	// Token is the AES-GCM ciphertext tuple mirrored on the account row.
	Token string

	Authenticated      bool
	MustReauthenticate bool

	// PendingFirstLogin forces the password-change flow before the portal
	// proper is reachable.
	PendingFirstLogin bool

	ChallengeStartedAt time.Time
	LastActivity       time.Time
}

// Manager keeps sessions in process memory, keyed by the random cookie sid.
// Sessions do not survive a restart; clients simply log in again.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]State
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]State)}
}

// Create stores st under a fresh random sid and returns the sid.
func (m *Manager) Create(st State) (string, error) {
	sid, err := cryptox.GenerateToken(sidSize)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[sid] = st
	m.mu.Unlock()
	return sid, nil
}

// Get returns a copy of the session for sid.
func (m *Manager) Get(sid string) (State, bool) {
	m.mu.Lock()
	st, ok := m.sessions[sid]
	m.mu.Unlock()
	return st, ok
}

// Put replaces the session for sid. Writing to an sid that was concurrently
// deleted is a no-op; the session stays gone.
func (m *Manager) Put(sid string, st State) {
	m.mu.Lock()
	if _, ok := m.sessions[sid]; ok {
		m.sessions[sid] = st
	}
	m.mu.Unlock()
}

// Delete removes the session for sid, if any.
func (m *Manager) Delete(sid string) {
	m.mu.Lock()
	delete(m.sessions, sid)
	m.mu.Unlock()
}

// DeleteByAccount removes every session belonging to accountID and returns
// how many were dropped. Used when an account is deactivated or its token
// rotated out from under a stale browser.
func (m *Manager) DeleteByAccount(accountID idx.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for sid, st := range m.sessions {
		if st.AccountID == accountID {
			delete(m.sessions, sid)
			n++
		}
	}
	return n
}

// SweepIdle drops sessions whose LastActivity is at or before cutoff and
// returns how many were removed. Challenge-phase sessions are swept on
// ChallengeStartedAt instead.
func (m *Manager) SweepIdle(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for sid, st := range m.sessions {
		last := st.LastActivity
		if !st.Authenticated {
			last = st.ChallengeStartedAt
		}
		if !last.After(cutoff) {
			delete(m.sessions, sid)
			n++
		}
	}
	return n
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
