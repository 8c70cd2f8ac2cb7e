package signature

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	t.Run("success - minimum size", func(t *testing.T) {
		secret, err := GenerateSecret(MinSecretBytes)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(secret, SecretPrefix))
		assert.Len(t, strings.TrimPrefix(secret, SecretPrefix), MinSecretBytes*2)
	})

	t.Run("error - too small", func(t *testing.T) {
		_, err := GenerateSecret(MinSecretBytes - 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret size must be between")
	})

	t.Run("error - too large", func(t *testing.T) {
		_, err := GenerateSecret(MaxSecretBytes + 1)
		require.Error(t, err)
	})

	t.Run("randomness - generates different secrets", func(t *testing.T) {
		secret1, err1 := GenerateSecret(32)
		secret2, err2 := GenerateSecret(32)
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.NotEqual(t, secret1, secret2)
	})
}

func TestSigner_Sign(t *testing.T) {
	payload := []byte(`{"id":"evt-1"}`)

	t.Run("success - known sha256 vector", func(t *testing.T) {
		// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
		s := NewSigner(SHA256, "")
		sig := s.Sign([]byte("The quick brown fox jumps over the lazy dog"), "key")
		assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", sig)
	})

	t.Run("success - known sha1 vector", func(t *testing.T) {
		s := NewSigner(SHA1, "")
		sig := s.Sign([]byte("The quick brown fox jumps over the lazy dog"), "key")
		assert.Equal(t, "de7c9b85b8b78aa6bc8a7a36f70a90701c9db4d9", sig)
	})

	t.Run("prefix is prepended", func(t *testing.T) {
		s := NewSigner(SHA256, "sha256=")
		assert.True(t, strings.HasPrefix(s.Sign(payload, "secret"), "sha256="))
	})

	t.Run("invalid algorithm falls back to sha256", func(t *testing.T) {
		s := NewSigner(Algorithm(99), "")
		assert.Equal(t, SHA256, s.Algorithm)
	})
}

func TestSigner_Verify(t *testing.T) {
	s := NewSigner(SHA256, "sha256=")
	payload := []byte(`{"id":"evt-1","type":"message.sent"}`)
	secret := "whsec_test"

	t.Run("success - round trip", func(t *testing.T) {
		sig := s.Sign(payload, secret)
		assert.True(t, s.Verify(payload, sig, secret))
	})

	t.Run("single byte mutation fails", func(t *testing.T) {
		sig := s.Sign(payload, secret)
		mutated := append([]byte{}, payload...)
		mutated[5] ^= 0x01
		assert.False(t, s.Verify(mutated, sig, secret))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		sig := s.Sign(payload, secret)
		assert.False(t, s.Verify(payload, sig, "other"))
	})

	t.Run("length mismatch fails", func(t *testing.T) {
		sig := s.Sign(payload, secret)
		assert.False(t, s.Verify(payload, sig[:len(sig)-1], secret))
	})

	t.Run("timestamped round trip", func(t *testing.T) {
		ts := time.Now().Unix()
		sig := s.SignWithTimestamp(payload, ts, secret)
		assert.True(t, s.VerifyWithTimestamp(payload, ts, sig, secret))
		assert.False(t, s.VerifyWithTimestamp(payload, ts+1, sig, secret))
	})

	t.Run("timestamped content is ts.payload", func(t *testing.T) {
		sig := s.SignWithTimestamp(payload, 1700000000, secret)
		assert.Equal(t, s.Sign([]byte("1700000000."+string(payload)), secret), sig)
	})
}

func TestVerifyTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("success - unix seconds within tolerance", func(t *testing.T) {
		value := strconv.FormatInt(now.Add(-2*time.Minute).Unix(), 10)
		assert.NoError(t, VerifyTimestamp(value, 5*time.Minute, now))
	})

	t.Run("success - iso timestamp", func(t *testing.T) {
		value := now.Add(time.Minute).Format(time.RFC3339)
		assert.NoError(t, VerifyTimestamp(value, 5*time.Minute, now))
	})

	t.Run("too old", func(t *testing.T) {
		value := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
		assert.Error(t, VerifyTimestamp(value, 5*time.Minute, now))
	})

	t.Run("garbage", func(t *testing.T) {
		assert.Error(t, VerifyTimestamp("yesterday", 5*time.Minute, now))
		assert.Error(t, VerifyTimestamp("", 5*time.Minute, now))
	})
}
