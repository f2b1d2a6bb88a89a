// Package notify abstracts the transactional mail the auth flows send. The
// auth core only decides WHEN a message goes out; rendering and delivery live
// behind the Notifier interface.
package notify

import (
	"context"
	"log/slog"
)

// Kind identifies one of the fixed transactional messages.
type Kind string

const (
	// KindOTPIssued carries the one-time passcode for the second login factor.
	KindOTPIssued Kind = "otp_issued"

	// KindSuspiciousLogin warns the owner after repeated failed attempts
	// locked the account out.
	KindSuspiciousLogin Kind = "suspicious_login"

	KindAccountDeactivated Kind = "account_deactivated"
	KindAccountReactivated Kind = "account_reactivated"

	// KindDeactivationWarning tells the owner a deferred deactivation has
	// been scheduled and when it fires.
	KindDeactivationWarning Kind = "deactivation_warning"

	// KindForgotPasswordLink carries the single-use reset link.
	KindForgotPasswordLink Kind = "forgot_password_link"

	// KindForgotPasswordDenied is sent instead of a link when self-service
	// reset is not available (first login still pending).
	KindForgotPasswordDenied Kind = "forgot_password_denied"

	// KindResetWindowDenied is sent when a change is refused because the
	// password was already changed within the minimum-age window.
	KindResetWindowDenied Kind = "reset_window_denied"

	KindPasswordChanged Kind = "password_changed"
)

// Notifier delivers one transactional message. Implementations must not
// block on delivery longer than ctx allows; flows treat delivery failure as
// non-fatal and only log it.
type Notifier interface {
	Send(ctx context.Context, kind Kind, recipient string, data map[string]string) error
}

// LogNotifier writes every message to the log instead of delivering it.
// Suitable for development and as a fallback when no mailer is configured.
// Secrets (the OTP, the reset link) are redacted.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Send(ctx context.Context, kind Kind, recipient string, data map[string]string) error {
	attrs := []any{
		slog.String("kind", string(kind)),
		slog.String("recipient", recipient),
	}
	for k, v := range data {
		if k == "otp" || k == "reset_link" {
			v = "[redacted]"
		}
		attrs = append(attrs, slog.String(k, v))
	}
	n.logger().InfoContext(ctx, "notification", attrs...)
	return nil
}

func (n *LogNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}
