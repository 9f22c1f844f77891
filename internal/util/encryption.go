package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/controlled-anonymity/client-go/internal/config"
)

// ErrIdentityMismatch means a sealed identity was written under another key
// or for another profile.
var ErrIdentityMismatch = errors.New("stored identity was sealed with another key or profile")

// SealIdentity encrypts a device identifier with AES-256-GCM. The profile is
// bound in as additional data, so a sealed file copied between profiles does
// not open.
func SealIdentity(hexKey, profile, id string) (string, error) {
	gcm, err := identityCipher(hexKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("identity nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(id), identityAAD(profile))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenIdentity reverses SealIdentity for the same key and profile.
func OpenIdentity(hexKey, profile, encoded string) (string, error) {
	gcm, err := identityCipher(hexKey)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("sealed identity is not base64: %w", err)
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("sealed identity is truncated")
	}

	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	id, err := gcm.Open(nil, nonce, body, identityAAD(profile))
	if err != nil {
		return "", ErrIdentityMismatch
	}
	return string(id), nil
}

func identityCipher(hexKey string) (cipher.AEAD, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("identity encryption key is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("identity encryption key must be 32 bytes (64 hex chars)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func identityAAD(profile string) []byte {
	return []byte(config.IdentityStorageKey + ":" + profile)
}
