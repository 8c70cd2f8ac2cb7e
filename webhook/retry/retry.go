// Package retry computes backoff delays and classifies failed attempts as retryable.
package retry

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	MaxRetries int           // 0 disables retries
	BaseDelay  time.Duration // default: 1s
	MaxDelay   time.Duration // default: 5m
	Multiplier float64       // default: 2
	Jitter     bool
}

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	return c
}

/* NextRetryDelay returns min(base * multiplier^attempt, maxDelay),
 * scaled by a random factor in [0.5, 1.0) when jitter is set
 */
func NextRetryDelay(attempt int, base time.Duration, multiplier float64, maxDelay time.Duration, jitter bool) time.Duration {
	return nextDelay(attempt, base, multiplier, maxDelay, jitter, rand.Float64)
}

func nextDelay(attempt int, base time.Duration, multiplier float64, maxDelay time.Duration, jitter bool, random func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(multiplier, float64(attempt))
	if maxDelay > 0 && delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if jitter {
		delay *= 0.5 + random()*0.5
	}
	return time.Duration(delay)
}

// Manager applies a configured policy
type Manager struct {
	cfg    Config
	random func() float64
}

// NewManager creates a retry manager; zero delay fields take defaults
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), random: rand.Float64}
}

// Config returns the effective policy
func (m *Manager) Config() Config {
	return m.cfg
}

// NextDelay returns the delay before retrying after the given attempt
func (m *Manager) NextDelay(attempt int) time.Duration {
	return nextDelay(attempt, m.cfg.BaseDelay, m.cfg.Multiplier, m.cfg.MaxDelay, m.cfg.Jitter, m.random)
}

/* ForEndpoint resolves the policy for one endpoint
 * Endpoint overrides win over the configured values
 */
func (m *Manager) ForEndpoint(rc *webhook.RetryConfig) Config {
	cfg := m.cfg
	if rc == nil {
		return cfg
	}
	if rc.MaxRetries != nil {
		cfg.MaxRetries = max(*rc.MaxRetries, 0)
	}
	if rc.BaseDelay > 0 {
		cfg.BaseDelay = rc.BaseDelay
	}
	if rc.BackoffMultiplier >= 1 {
		cfg.Multiplier = rc.BackoffMultiplier
	}
	return cfg
}

// Delay computes the delay for attempt under cfg using the manager's random source
func (m *Manager) Delay(cfg Config, attempt int) time.Duration {
	return nextDelay(attempt, cfg.BaseDelay, cfg.Multiplier, cfg.MaxDelay, cfg.Jitter, m.random)
}

// IsRetryableStatus reports 5xx, 408 and 429 as retryable
func IsRetryableStatus(status int) bool {
	if status >= 500 && status < 600 {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

var retryableKeywords = []string{
	"timeout",
	"network",
	"connection",
	"econnreset",
	"enotfound",
	"econnrefused",
	"socket hang up",
	// Go transport wording for the same failure classes
	"deadline exceeded",
	"no such host",
	"eof",
}

// IsRetryableError matches an error message against transient failure keywords
func IsRetryableError(msg string) bool {
	if msg == "" {
		return false
	}
	msg = strings.ToLower(msg)
	for _, kw := range retryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

/* ShouldRetryAttempt classifies a failed attempt
 * Status-based when a status was received, error-based otherwise.
 * An attempt with neither is not retried.
 */
func ShouldRetryAttempt(a webhook.Attempt) bool {
	if a.HTTPStatus != 0 {
		return IsRetryableStatus(a.HTTPStatus)
	}
	if a.Error != "" {
		return IsRetryableError(a.Error)
	}
	return false
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP date
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	t, err := http.ParseTime(header)
	if err != nil {
		return 0, false
	}
	d := t.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
