package domain

import (
	"time"

	"github.com/campusworks/portalauth/pkg/idx"
)

// Role is the portal role an account holds. Role boundaries are enforced by
// the session guard before any handler runs.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleStudent:
		return true
	}
	return false
}

// ActiveState is the account activation lifecycle state.
type ActiveState string

const (
	AccountActive ActiveState = "active"

	// AccountPendingDeactivation means a deferred deactivation job has been
	// armed; the account still works until the job fires or an admin
	// reactivates it.
	AccountPendingDeactivation ActiveState = "pending"

	AccountInactive ActiveState = "inactive"
)

// Caps and windows for accounts' security counters.
const (
	// MaxFailureLog is how many timestamped failure records are retained.
	MaxFailureLog = 5

	// MaxPasswordHistory bounds the prior-hash history; oldest evicted first.
	MaxPasswordHistory = 15
)

// Account is the durable source of truth for an identity's security state.
// The ephemeral browser session mirrors only the encrypted session token;
// any divergence between the two is treated as a security failure.
type Account struct {
	ID    idx.ID
	Email string // unique, compared case-insensitively
	Name  string
	Role  Role

	// Credential state.
	PasswordHash      string // argon2id PHC string, peppered
	PasswordChangedAt *time.Time
	PasswordHistory   []string // most recent last, max MaxPasswordHistory

	// Lockout state.
	FailedLogins  int
	LastAttemptAt *time.Time
	FailureLog    []time.Time // most recent MaxFailureLog failed attempts
	FirstLogin    bool
	ActiveState   ActiveState
	DeactivateAt  *time.Time

	// One-time-passcode challenge state. At most one OTP is outstanding;
	// issuing a new one replaces the prior hash.
	OTPHash     *string
	OTPIssuedAt *time.Time
	OTPAttempts int
	OTPResends  int

	// Password-reset state. The token is persisted only as a SHA-256 digest.
	ResetTokenHash   *string
	ResetRequestedAt *time.Time
	ResetAttempts    int
	LastResetAt      *time.Time

	// Current session-token ciphertext tuple; nil when logged out. Unique
	// across accounts. Once invalidated it is nulled and never reused.
	SessionToken *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClearOTPState drops any outstanding challenge and its counters.
func (a *Account) ClearOTPState() {
	a.OTPHash = nil
	a.OTPAttempts = 0
	a.OTPResends = 0
}

// RecordFailure appends a failed-attempt timestamp, keeping only the most
// recent MaxFailureLog entries.
func (a *Account) RecordFailure(at time.Time) {
	a.FailureLog = append(a.FailureLog, at)
	if len(a.FailureLog) > MaxFailureLog {
		a.FailureLog = a.FailureLog[len(a.FailureLog)-MaxFailureLog:]
	}
}

// PushPasswordHistory records the current hash before it is replaced,
// evicting the oldest entry past MaxPasswordHistory.
func (a *Account) PushPasswordHistory(hash string) {
	a.PasswordHistory = append(a.PasswordHistory, hash)
	if len(a.PasswordHistory) > MaxPasswordHistory {
		a.PasswordHistory = a.PasswordHistory[len(a.PasswordHistory)-MaxPasswordHistory:]
	}
}
