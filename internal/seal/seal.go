// ABOUTME: Authenticated sealing of message payloads under a caller-supplied secret
// ABOUTME: XChaCha20-Poly1305 with a per-message salt fed through HKDF-SHA256

// Package seal encrypts payloads for the protect-message event. The sealed form is
// base64url(salt || nonce || ciphertext) and can only be opened with the same secret.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Algorithm names the construction in encrypted-message events.
const Algorithm = "XChaCha20-Poly1305+HKDF-SHA256"

const saltSize = 16

var info = []byte("args-gateway seal v1")

// ErrEmptySecret is returned when no secret is supplied.
var ErrEmptySecret = errors.New("seal: empty secret")

// ErrMalformed is returned by Open for input that is not a sealed payload.
var ErrMalformed = errors.New("seal: malformed payload")

// ErrAuthentication is returned by Open when the secret is wrong or the payload was altered.
var ErrAuthentication = errors.New("seal: authentication failed")

func deriveKey(secret string, salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), salt, info), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Seal encrypts payload under secret.
func Seal(payload []byte, secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	buf := make([]byte, saltSize+chacha20poly1305.NonceSizeX, saltSize+chacha20poly1305.NonceSizeX+len(payload)+chacha20poly1305.Overhead)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random: %w", err)
	}
	salt, nonce := buf[:saltSize], buf[saltSize:]

	key, err := deriveKey(secret, salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	sealed := aead.Seal(buf, nonce, payload, salt)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func Open(sealed, secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrMalformed
	}
	if len(raw) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrMalformed
	}
	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := raw[saltSize+chacha20poly1305.NonceSizeX:]

	key, err := deriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	plain, err := aead.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}
