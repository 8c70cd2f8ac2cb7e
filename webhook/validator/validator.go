// Package validator checks candidate endpoint URLs before they are registered.
package validator

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// Config controls which destinations are accepted
type Config struct {
	AllowPrivateHosts bool
	// AllowedSchemes defaults to http and https
	AllowedSchemes []string
}

// Validator rejects malformed URLs and, unless allowed, private destinations
type Validator struct {
	allowPrivate bool
	schemes      map[string]bool
}

// New creates a validator
func New(cfg Config) *Validator {
	schemes := cfg.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	v := &Validator{
		allowPrivate: cfg.AllowPrivateHosts,
		schemes:      make(map[string]bool, len(schemes)),
	}
	for _, s := range schemes {
		v.schemes[strings.ToLower(s)] = true
	}
	return v
}

/* Validate checks an endpoint URL
 * Host names are checked lexically; no DNS resolution is performed
 */
func (v *Validator) Validate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return webhook.Validation("url", "url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return webhook.Validation("url", fmt.Sprintf("invalid url: %v", err))
	}
	if !v.schemes[strings.ToLower(u.Scheme)] {
		return webhook.Validation("url", fmt.Sprintf("unsupported url scheme: %q", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return webhook.Validation("url", "url host is required")
	}

	if !v.allowPrivate && IsPrivateHost(host) {
		return webhook.Validation("url", fmt.Sprintf("private or local host not allowed: %s", host))
	}

	return nil
}

// IsPrivateHost reports loopback, private, link-local and local-only names
func IsPrivateHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return true
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}
