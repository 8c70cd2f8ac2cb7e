package cryptostore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// envelopePrefix marks values sealed by AESGCM
const envelopePrefix = "whenc.v1:"

var (
	ErrInvalidEnvelope = errors.New("invalid ciphertext envelope")
	ErrInvalidKey      = errors.New("key must be 16, 24 or 32 bytes")
)

/* AESGCM is a local implementation of the encrypt/decrypt contract
 * Tenant, path and AAD are bound as additional authenticated data, so a
 * ciphertext moved to another field fails to open
 */
type AESGCM struct {
	aead cipher.AEAD
}

func NewAESGCM(key []byte) (*AESGCM, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// NewAESGCMFromBase64 decodes a standard base64 key
func NewAESGCMFromBase64(encoded string) (*AESGCM, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	return NewAESGCM(key)
}

func (a *AESGCM) Encrypt(_ context.Context, plaintext []byte, c Context) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := a.aead.Seal(nonce, nonce, plaintext, additionalData(c))
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (a *AESGCM) Decrypt(_ context.Context, ciphertext string, c Context) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, envelopePrefix) {
		return nil, ErrInvalidEnvelope
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, envelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	size := a.aead.NonceSize()
	if len(raw) < size+a.aead.Overhead() {
		return nil, ErrInvalidEnvelope
	}
	plaintext, err := a.aead.Open(nil, raw[:size], raw[size:], additionalData(c))
	if err != nil {
		return nil, fmt.Errorf("opening ciphertext: %w", err)
	}
	return plaintext, nil
}

func additionalData(c Context) []byte {
	out := make([]byte, 0, len(c.Tenant)+len(c.Path)+len(c.AAD)+2)
	out = append(out, c.Tenant...)
	out = append(out, 0)
	out = append(out, c.Path...)
	out = append(out, 0)
	return append(out, c.AAD...)
}
