package domain

import (
	"time"

	"github.com/campusworks/portalauth/pkg/idx"
)

// ActivityStatus tags an activity-log entry as a pass or a fail.
type ActivityStatus string

const (
	ActivityPass ActivityStatus = "pass"
	ActivityFail ActivityStatus = "fail"
)

// Activity types recorded by the auth core.
const (
	ActivityLogin          = "login"
	ActivityVerifyOTP      = "verify_otp"
	ActivityResendOTP      = "resend_otp"
	ActivityLogout         = "logout"
	ActivityReauthenticate = "reauthenticate"
	ActivityChangePassword = "change_password"
	ActivityForgotPassword = "forgot_password"
	ActivityResetPassword  = "reset_password"
	ActivityDeactivation   = "deactivation"
	ActivityReactivation   = "reactivation"
	ActivitySessionGuard   = "session_guard"
)

// ActivityEntry is one append-only audit record. Entries are never mutated or
// deleted by the auth core.
type ActivityEntry struct {
	ID          idx.ID
	AccountID   idx.ID
	Role        Role
	Status      ActivityStatus
	Type        string
	Description string
	CreatedAt   time.Time
}
