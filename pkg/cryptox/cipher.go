package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Token cipher errors. ErrInvalidToken covers every malformed or partial
// opaque tuple: a token missing any of its three segments is treated as no
// token at all.
var (
	ErrInvalidToken = errors.New("cryptox: invalid token")
	ErrAuthFailed   = errors.New("cryptox: token authentication failed")
)

// TokenCipher provides authenticated encryption for opaque session-token
// strings using AES-256-GCM. The same tuple is stored on the account row and
// mirrored into the browser session, so the opaque form is a single string of
// three base64 segments joined by colons: nonce:ciphertext:tag.
//
// The cipher holds no state beyond the key; instances are safe for concurrent
// use.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher builds a TokenCipher from a hex-encoded 32-byte key, as
// supplied by the process environment at startup.
func NewTokenCipher(hexKey string) (*TokenCipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("token cipher key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("token cipher key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals the plaintext token under a fresh 96-bit random nonce and
// returns the colon-joined opaque form.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)

	// gcm.Seal appends the 16-byte tag to the ciphertext; split it back out so
	// the stored form carries all three segments explicitly.
	tagStart := len(sealed) - 16
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(tag),
	}, ":"), nil
}

// Decrypt opens an opaque nonce:ciphertext:tag tuple and returns the plaintext
// token. Tampering with any segment yields ErrAuthFailed; a structurally
// broken tuple yields ErrInvalidToken. Corrupted plaintext is never returned.
func (c *TokenCipher) Decrypt(opaque string) (string, error) {
	parts := strings.Split(opaque, ":")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidToken
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", ErrInvalidToken
	}

	plaintext, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrAuthFailed
	}
	return string(plaintext), nil
}
