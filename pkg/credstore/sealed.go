package credstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealedBackend decorates a Backend so values are encrypted at rest.
// Intended for the durable scope, where tokens outlive the process.
type SealedBackend struct {
	inner Backend
	aead  cipher.AEAD
}

// NewSealedBackend wraps inner with XChaCha20-Poly1305 encryption.
// The key must be 32 bytes.
func NewSealedBackend(inner Backend, key []byte) (*SealedBackend, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal key: %w", err)
	}
	return &SealedBackend{inner: inner, aead: aead}, nil
}

// Get reads and opens the value for key. A value that fails to decrypt is
// an error: callers fail closed rather than acting on tampered state.
func (b *SealedBackend) Get(ctx context.Context, key string) (string, error) {
	sealed, err := b.inner.Get(ctx, key)
	if err != nil || sealed == "" {
		return "", err
	}

	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("unseal %s: %w", key, err)
	}
	if len(raw) < b.aead.NonceSize() {
		return "", fmt.Errorf("unseal %s: ciphertext too short", key)
	}
	nonce, ciphertext := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", fmt.Errorf("unseal %s: %w", key, err)
	}
	return string(plaintext), nil
}

// Set seals and stores the value for key.
func (b *SealedBackend) Set(ctx context.Context, key, value string) error {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return b.inner.Set(ctx, key, base64.RawStdEncoding.EncodeToString(sealed))
}

// Delete removes the key.
func (b *SealedBackend) Delete(ctx context.Context, key string) error {
	return b.inner.Delete(ctx, key)
}
