package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateOTP(t *testing.T) {
	t.Parallel()

	code, err := GenerateOTP(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, r := range code {
		require.Contains(t, otpAlphabet, string(r))
	}

	_, err = GenerateOTP(0)
	require.Error(t, err)
}

func TestGenerateOTPUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for range 50 {
		code, err := GenerateOTP(6)
		require.NoError(t, err)
		seen[code] = struct{}{}
	}
	// 62^6 codes; 50 draws colliding would indicate a broken source.
	require.Greater(t, len(seen), 45)
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(ResetTokenSize)
	require.NoError(t, err)
	require.Len(t, tok, 43) // 32 bytes base64url, no padding

	other, err := GenerateToken(ResetTokenSize)
	require.NoError(t, err)
	require.NotEqual(t, tok, other)

	_, err = GenerateToken(-1)
	require.Error(t, err)
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	a := FingerprintToken("reset-token")
	require.Len(t, a, 64) // hex sha256
	require.Equal(t, a, FingerprintToken("reset-token"))
	require.NotEqual(t, a, FingerprintToken("other-token"))
}
