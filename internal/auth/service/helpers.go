package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusworks/portalauth/internal/auth/domain"
	"github.com/campusworks/portalauth/internal/auth/store"
	"github.com/campusworks/portalauth/pkg/cryptox"
	"github.com/campusworks/portalauth/pkg/idx"
	"github.com/campusworks/portalauth/pkg/slogx"
)

// nowOr lets tests pin the clock; services call it with their Now field.
func nowOr(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}

func durOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func intOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

// newSessionToken mints a fresh token plaintext and returns its ciphertext
// tuple. The plaintext is random per rotation and never stored anywhere.
func newSessionToken(cipher *cryptox.TokenCipher) (string, error) {
	return cipher.Encrypt(uuid.NewString())
}

// censorEmail masks the local part of an address for display, keeping the
// first and last characters: "student@example.edu" -> "s*****t@example.edu".
func censorEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local, rest := email[:at], email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + rest
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + rest
}

// recordActivity appends an audit entry; failures are logged and swallowed,
// an audit hiccup must never fail the flow it describes.
func recordActivity(ctx context.Context, st store.Store, accountID idx.ID, role domain.Role, status domain.ActivityStatus, activityType, description string) {
	entry := domain.ActivityEntry{
		ID:          idx.New(),
		AccountID:   accountID,
		Role:        role,
		Status:      status,
		Type:        activityType,
		Description: description,
	}
	if err := st.Activity().Append(ctx, entry); err != nil {
		slogx.FromContext(ctx).Warn("failed to append activity entry",
			"type", activityType, "error", err)
	}
}
