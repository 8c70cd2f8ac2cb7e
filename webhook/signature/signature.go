package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// SecretPrefix is the prefix for generated endpoint secrets
	SecretPrefix = "whsec_"

	// MinSecretBytes is the minimum recommended secret size (192 bits)
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum recommended secret size (512 bits)
	MaxSecretBytes = 64
)

// Algorithm is the HMAC digest used to sign payloads
type Algorithm int

const (
	SHA256 Algorithm = iota + 1
	SHA1
)

// String returns the string representation of the algorithm
func (a Algorithm) String() string {
	switch a {
	case SHA256:
		return "sha256"
	case SHA1:
		return "sha1"
	default:
		return "unknown"
	}
}

// NewAlgorithm creates an Algorithm from a string, defaulting to SHA256
func NewAlgorithm(s string) Algorithm {
	switch strings.ToLower(s) {
	case "sha1":
		return SHA1
	default:
		return SHA256
	}
}

// Validate checks if the algorithm is supported
func (a Algorithm) Validate() error {
	if a != SHA256 && a != SHA1 {
		return fmt.Errorf("invalid signature algorithm: %d", a)
	}
	return nil
}

func (a Algorithm) hash() func() hash.Hash {
	if a == SHA1 {
		return sha1.New
	}
	return sha256.New
}

/* Signer computes and checks HMAC signatures over outgoing payloads
 * The hex digest is prefixed with Prefix (e.g. "sha256=") when set
 */
type Signer struct {
	Algorithm Algorithm
	Prefix    string
}

// NewSigner creates a signer for the given algorithm and prefix
func NewSigner(algorithm Algorithm, prefix string) Signer {
	if algorithm.Validate() != nil {
		algorithm = SHA256
	}
	return Signer{Algorithm: algorithm, Prefix: prefix}
}

// Sign returns the prefixed hex HMAC of payload
func (s Signer) Sign(payload []byte, secret string) string {
	mac := hmac.New(s.Algorithm.hash(), []byte(secret))
	mac.Write(payload)
	return s.Prefix + hex.EncodeToString(mac.Sum(nil))
}

// SignWithTimestamp signs the content "{timestamp}.{payload}"
func (s Signer) SignWithTimestamp(payload []byte, timestamp int64, secret string) string {
	return s.Sign(timestamped(payload, timestamp), secret)
}

// Verify checks a signature using constant-time comparison
func (s Signer) Verify(payload []byte, sig, secret string) bool {
	return Equal(s.Sign(payload, secret), sig)
}

// VerifyWithTimestamp checks a signature produced by SignWithTimestamp
func (s Signer) VerifyWithTimestamp(payload []byte, timestamp int64, sig, secret string) bool {
	return Equal(s.SignWithTimestamp(payload, timestamp, secret), sig)
}

// Equal compares two signatures in constant time; different lengths never match
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func timestamped(payload []byte, timestamp int64) []byte {
	ts := strconv.FormatInt(timestamp, 10)
	content := make([]byte, 0, len(ts)+1+len(payload))
	content = append(content, ts...)
	content = append(content, '.')
	return append(content, payload...)
}

/* VerifyTimestamp rejects timestamps further than tolerance from now
 * value may be unix seconds or an RFC 3339 / ISO-8601 string
 */
func VerifyTimestamp(value string, tolerance time.Duration, now time.Time) error {
	ts, err := ParseTimestamp(value)
	if err != nil {
		return err
	}
	skew := math.Abs(now.Sub(ts).Seconds())
	if skew > tolerance.Seconds() {
		return fmt.Errorf("timestamp outside tolerance: %.0fs skew", skew)
	}
	return nil
}

// ParseTimestamp parses unix seconds or an ISO-8601 timestamp
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %s", value)
}

// GenerateSecret creates a random whsec_-prefixed hex secret of size bytes
func GenerateSecret(size int) (string, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return "", fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return SecretPrefix + hex.EncodeToString(bytes), nil
}
