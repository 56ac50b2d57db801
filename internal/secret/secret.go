// Package secret seals Discord bot tokens at rest with AES-256-GCM.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// MinSecretLen is the minimum length of the sealing secret.
const MinSecretLen = 32

const (
	ivSize  = 12
	tagSize = 16
)

// ErrSecretTooShort is returned by NewBox for secrets under MinSecretLen.
var ErrSecretTooShort = errors.New("secret: token secret must be at least 32 chars")

// Sealed is a token encrypted by a Box, hex encoded part by part.
type Sealed struct {
	Cipher string
	IV     string
	Tag    string
}

// Box seals and opens tokens with a key derived from the configured secret.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives the AES-256 key as sha256(secret).
func NewBox(secret string) (*Box, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("secret: cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("secret: gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plain under a fresh random IV.
func (b *Box) Seal(plain string) (Sealed, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("secret: iv: %w", err)
	}
	out := b.aead.Seal(nil, iv, []byte(plain), nil)
	ct, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]
	return Sealed{
		Cipher: hex.EncodeToString(ct),
		IV:     hex.EncodeToString(iv),
		Tag:    hex.EncodeToString(tag),
	}, nil
}

// Open decrypts s. A wrong key or tampered part fails authentication.
func (b *Box) Open(s Sealed) (string, error) {
	ct, err := hex.DecodeString(s.Cipher)
	if err != nil {
		return "", fmt.Errorf("secret: decode cipher: %w", err)
	}
	iv, err := hex.DecodeString(s.IV)
	if err != nil {
		return "", fmt.Errorf("secret: decode iv: %w", err)
	}
	tag, err := hex.DecodeString(s.Tag)
	if err != nil {
		return "", fmt.Errorf("secret: decode tag: %w", err)
	}
	if len(iv) != ivSize || len(tag) != tagSize {
		return "", fmt.Errorf("secret: malformed sealed token")
	}
	plain, err := b.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("secret: open: %w", err)
	}
	return string(plain), nil
}
