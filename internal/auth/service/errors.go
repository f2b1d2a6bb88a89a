package service

import (
	"errors"
	"fmt"
)

// Flow errors. Handlers map these onto HTTP error responses; anything not in
// this list is treated as an internal error and never shown to the client.
var (
	// ErrInvalidCredentials is returned for a wrong email/password pair. The
	// same error covers unknown emails so the login form cannot be used to
	// probe which addresses hold accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrCaptchaFailed = errors.New("captcha verification failed")

	// ErrAccountLocked means the account hit the failed-attempt threshold
	// inside the lockout window and login is temporarily refused.
	ErrAccountLocked = errors.New("account temporarily locked")

	ErrAccountInactive = errors.New("account is inactive")

	ErrAccountNotFound = errors.New("account not found")

	// OTP challenge errors.
	ErrInvalidOTP         = errors.New("invalid one-time passcode")
	ErrOTPExpired         = errors.New("one-time passcode expired")
	ErrNoPendingChallenge = errors.New("no pending login challenge")
	ErrTooManyOTPAttempts = errors.New("too many passcode attempts")
	ErrTooManyOTPResends  = errors.New("too many passcode resends")

	// Session errors.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionMismatch means the session's token no longer matches the
	// account row. The session is destroyed; the client must log in again.
	ErrSessionMismatch = errors.New("session token mismatch")

	ErrReauthRequired = errors.New("reauthentication required")

	// Password policy errors, in the order the rules are evaluated.
	ErrPasswordChangeTooSoon = errors.New("password was changed too recently")
	ErrPasswordTooShort      = errors.New("password is too short")
	ErrPasswordNoUppercase   = errors.New("password needs an uppercase letter")
	ErrPasswordNoLowercase   = errors.New("password needs a lowercase letter")
	ErrPasswordNoDigit       = errors.New("password needs a digit")
	ErrPasswordNoSymbol      = errors.New("password needs a special character")
	ErrPasswordSameAsCurrent = errors.New("password matches the current password")
	ErrPasswordContainsEmail = errors.New("password contains part of the email address")
	ErrPasswordInHistory     = errors.New("password was used recently")

	// Reset-link errors.
	ErrResetTokenInvalid = errors.New("reset link is invalid")
	ErrResetTokenExpired = errors.New("reset link has expired")
)

// InvalidCredentialsError is the rejection for a wrong email/password pair,
// carrying how many attempts remain before the next penalty (lockout below
// the threshold, deactivation above it). It unwraps to ErrInvalidCredentials
// so callers can keep matching on the sentinel.
type InvalidCredentialsError struct {
	Remaining int
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("%s, %d attempts remaining", ErrInvalidCredentials, e.Remaining)
}

func (e *InvalidCredentialsError) Unwrap() error { return ErrInvalidCredentials }
