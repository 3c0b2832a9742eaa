// Package crypto seals result archives with AES-256-GCM. Sealed data is the
// nonce followed by the ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

const KeySize = 32

var (
	ErrInvalidKey      = errors.New("key must be 32 bytes (AES-256)")
	ErrShortCiphertext = errors.New("ciphertext too short")
)

// ParseKey decodes a hex encoded AES-256 key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(key))
	}

	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// Seal encrypts plaintext, binding it to aad.
func Seal(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. aad must match the value used to seal.
func Open(sealed, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrShortCiphertext
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertext, aad)
}

// SealFile encrypts the file at path in place.
func SealFile(path string, key, aad []byte) error {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	sealed, err := Seal(plaintext, key, aad)
	if err != nil {
		return err
	}

	return os.WriteFile(path, sealed, 0o600)
}
