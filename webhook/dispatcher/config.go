package dispatcher

import (
	"time"

	"github.com/marcelsud/webhook-outbox/webhook/retry"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultUserAgent       = "webhook-outbox/1.0"
	DefaultSignatureHeader = "X-Webhook-Signature"
)

// Config holds configuration for the delivery dispatcher.
type Config struct {
	Timeout         time.Duration // Per-attempt timeout (default: 30s)
	UserAgent       string
	SignatureHeader string
	Signing         SigningConfig
	Retry           retry.Config
	// HonorRetryAfter waits at least the Retry-After interval on 429/503, capped at Retry.MaxDelay
	HonorRetryAfter bool
}

// SigningConfig controls payload signing.
type SigningConfig struct {
	Enabled   bool
	Secret    string // used when the endpoint has no secret of its own
	Algorithm signature.Algorithm
	Prefix    string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		UserAgent:       DefaultUserAgent,
		SignatureHeader: DefaultSignatureHeader,
		Signing: SigningConfig{
			Enabled:   true,
			Algorithm: signature.SHA256,
			Prefix:    "sha256=",
		},
		Retry:           retry.DefaultConfig(),
		HonorRetryAfter: true,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = DefaultSignatureHeader
	}
	if c.Signing.Algorithm.Validate() != nil {
		c.Signing.Algorithm = signature.SHA256
	}
	return c
}
