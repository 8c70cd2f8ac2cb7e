package webhook

import (
	"slices"
	"time"
)

/* Endpoint represents a subscriber registered to receive event notifications
 * Uses value semantics as it represents data, not behavior
 */
type Endpoint struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Name            string            `json:"name,omitempty"`
	Description     string            `json:"description,omitempty"`
	Active          bool              `json:"active"`
	Events          []EventType       `json:"events"`
	Headers         map[string]string `json:"headers,omitempty"`
	Secret          string            `json:"secret,omitempty"`
	Retry           *RetryConfig      `json:"retry,omitempty"`
	Filters         *Filters          `json:"filters,omitempty"`
	Group           string            `json:"group,omitempty"`
	Weight          int               `json:"weight,omitempty"`
	Status          EndpointStatus    `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
}

// RetryConfig overrides the global retry settings for a single endpoint
type RetryConfig struct {
	MaxRetries        *int          `json:"max_retries,omitempty"`
	BaseDelay         time.Duration `json:"base_delay,omitempty"`
	BackoffMultiplier float64       `json:"backoff_multiplier,omitempty"`
}

// Filters restricts the events delivered to an endpoint by metadata
type Filters struct {
	ProviderIDs []string `json:"provider_ids,omitempty"`
	ChannelIDs  []string `json:"channel_ids,omitempty"`
	TemplateIDs []string `json:"template_ids,omitempty"`
}

// Subscribes reports whether the endpoint lists the given event type
func (e Endpoint) Subscribes(t EventType) bool {
	return slices.Contains(e.Events, t)
}

// Deliverable reports whether the endpoint currently accepts deliveries
func (e Endpoint) Deliverable() bool {
	return e.Active && e.Status == EndpointActive
}

/* Clone returns a deep copy of the endpoint
 * Concurrent delivery tasks receive clones so updates never race with in-flight work
 */
func (e Endpoint) Clone() Endpoint {
	c := e
	c.Events = slices.Clone(e.Events)
	if e.Headers != nil {
		c.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = v
		}
	}
	if e.Retry != nil {
		r := *e.Retry
		if e.Retry.MaxRetries != nil {
			n := *e.Retry.MaxRetries
			r.MaxRetries = &n
		}
		c.Retry = &r
	}
	if e.Filters != nil {
		c.Filters = &Filters{
			ProviderIDs: slices.Clone(e.Filters.ProviderIDs),
			ChannelIDs:  slices.Clone(e.Filters.ChannelIDs),
			TemplateIDs: slices.Clone(e.Filters.TemplateIDs),
		}
	}
	if e.LastTriggeredAt != nil {
		t := *e.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	return c
}
