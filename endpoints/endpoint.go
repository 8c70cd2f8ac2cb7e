package endpoints

import (
	"fmt"
	"strings"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/payload"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
	"github.com/marcelsud/webhook-outbox/webhook/validator"
)

/* EndpointConfig represents a single endpoint in endpoints.yaml
 * Events accepts exact names and wildcard patterns such as "message.*"
 */
type EndpointConfig struct {
	ID                string            `yaml:"id"`
	URL               string            `yaml:"url"`
	Name              string            `yaml:"name"`
	Description       string            `yaml:"description"`
	Active            *bool             `yaml:"active"` // Default: true
	Events            []string          `yaml:"events"`
	Headers           map[string]string `yaml:"headers"`
	Secret            string            `yaml:"secret"`
	Group             string            `yaml:"group"`
	Weight            int               `yaml:"weight"`
	MaxRetries        *int              `yaml:"max_retries"`
	RetryBaseDelay    string            `yaml:"retry_base_delay"` // Go duration, e.g. "2s"
	BackoffMultiplier float64           `yaml:"backoff_multiplier"`
	Filters           *FilterConfig     `yaml:"filters"`
}

type FilterConfig struct {
	ProviderIDs []string `yaml:"provider_ids"`
	ChannelIDs  []string `yaml:"channel_ids"`
	TemplateIDs []string `yaml:"template_ids"`
}

// Endpoint validates the configuration and converts it to a registrable endpoint
func (c EndpointConfig) Endpoint(v *validator.Validator) (webhook.Endpoint, error) {
	if c.ID == "" {
		return webhook.Endpoint{}, fmt.Errorf("id cannot be empty")
	}
	if c.URL == "" {
		return webhook.Endpoint{}, fmt.Errorf("url cannot be empty for endpoint %s", c.ID)
	}
	if err := v.Validate(c.URL); err != nil {
		return webhook.Endpoint{}, fmt.Errorf("invalid url for endpoint %s: %w", c.ID, err)
	}
	if len(c.Events) == 0 {
		return webhook.Endpoint{}, fmt.Errorf("events cannot be empty for endpoint %s", c.ID)
	}
	events, err := payload.ExpandEventTypes(c.Events)
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("invalid events for endpoint %s: %w", c.ID, err)
	}
	if c.Weight < 0 {
		return webhook.Endpoint{}, fmt.Errorf("weight cannot be negative for endpoint %s", c.ID)
	}
	// Generated secrets carry the whsec_ prefix; anything else is used as raw key material
	if strings.HasPrefix(c.Secret, signature.SecretPrefix) && len(c.Secret) == len(signature.SecretPrefix) {
		return webhook.Endpoint{}, fmt.Errorf("secret is empty after prefix for endpoint %s", c.ID)
	}

	retry, err := c.retry()
	if err != nil {
		return webhook.Endpoint{}, err
	}

	active := true
	if c.Active != nil {
		active = *c.Active
	}

	ep := webhook.Endpoint{
		ID:          c.ID,
		URL:         c.URL,
		Name:        c.Name,
		Description: c.Description,
		Active:      active,
		Events:      events,
		Headers:     c.Headers,
		Secret:      c.Secret,
		Retry:       retry,
		Group:       c.Group,
		Weight:      c.Weight,
	}
	if c.Filters != nil {
		ep.Filters = &webhook.Filters{
			ProviderIDs: c.Filters.ProviderIDs,
			ChannelIDs:  c.Filters.ChannelIDs,
			TemplateIDs: c.Filters.TemplateIDs,
		}
	}
	return ep, nil
}

func (c EndpointConfig) retry() (*webhook.RetryConfig, error) {
	if c.MaxRetries == nil && c.RetryBaseDelay == "" && c.BackoffMultiplier == 0 {
		return nil, nil
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries cannot be negative for endpoint %s", c.ID)
	}
	if c.BackoffMultiplier < 0 {
		return nil, fmt.Errorf("backoff_multiplier cannot be negative for endpoint %s", c.ID)
	}

	rc := &webhook.RetryConfig{MaxRetries: c.MaxRetries, BackoffMultiplier: c.BackoffMultiplier}
	if c.RetryBaseDelay != "" {
		d, err := time.ParseDuration(c.RetryBaseDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid retry_base_delay for endpoint %s: %w", c.ID, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("retry_base_delay must be positive for endpoint %s", c.ID)
		}
		rc.BaseDelay = d
	}
	return rc, nil
}
