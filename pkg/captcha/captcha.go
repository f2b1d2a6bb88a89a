// Package captcha verifies human-verification tokens against an external
// verification API. The auth flows call it once per primary login and once
// per forgot-password submission.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verifier checks a client-supplied human-verification token.
type Verifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// HTTPVerifier posts tokens to a siteverify-style endpoint.
type HTTPVerifier struct {
	Endpoint string
	Secret   string
	Client   *http.Client
}

// NewHTTPVerifier builds a verifier for the given endpoint and secret.
func NewHTTPVerifier(endpoint, secret string) *HTTPVerifier {
	return &HTTPVerifier{
		Endpoint: endpoint,
		Secret:   secret,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify posts the token and returns the provider's success verdict. A
// missing token short-circuits to false without a network call.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}

	form := url.Values{
		"secret":   {v.Secret},
		"response": {token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode verification response: %w", err)
	}
	return result.Success, nil
}

// Static always returns a fixed verdict. Used in tests and dev environments
// where no verification provider is configured.
type Static bool

func (s Static) Verify(context.Context, string) (bool, error) { return bool(s), nil }
