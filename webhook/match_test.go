package webhook_test

import (
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/stretchr/testify/assert"
)

func activeEndpoint(events ...webhook.EventType) webhook.Endpoint {
	return webhook.Endpoint{
		ID:     "ep-1",
		URL:    "https://example.com/hook",
		Active: true,
		Status: webhook.EndpointActive,
		Events: events,
	}
}

func TestEndpoint_Matches(t *testing.T) {
	ev := webhook.Event{
		ID:        "evt-1",
		Type:      webhook.MessageSent,
		Timestamp: time.Now(),
		Version:   "1.0",
		Metadata:  webhook.Metadata{ProviderID: "sendgrid"},
	}

	t.Run("success - subscribed without filters", func(t *testing.T) {
		assert.True(t, activeEndpoint(webhook.MessageSent).Matches(ev))
	})

	t.Run("not subscribed to type", func(t *testing.T) {
		assert.False(t, activeEndpoint(webhook.MessageFailed).Matches(ev))
	})

	t.Run("inactive endpoint", func(t *testing.T) {
		ep := activeEndpoint(webhook.MessageSent)
		ep.Active = false
		ep.Status = webhook.EndpointInactive
		assert.False(t, ep.Matches(ev))
	})

	t.Run("suspended endpoint with active flag left on", func(t *testing.T) {
		ep := activeEndpoint(webhook.MessageSent)
		ep.Status = webhook.EndpointSuspended
		assert.False(t, ep.Matches(ev))
	})

	t.Run("provider filter mismatch", func(t *testing.T) {
		ep := activeEndpoint(webhook.MessageSent)
		ep.Filters = &webhook.Filters{ProviderIDs: []string{"twilio"}}
		assert.False(t, ep.Matches(ev))
	})

	t.Run("provider filter match", func(t *testing.T) {
		ep := activeEndpoint(webhook.MessageSent)
		ep.Filters = &webhook.Filters{ProviderIDs: []string{"twilio", "sendgrid"}}
		assert.True(t, ep.Matches(ev))
	})

	t.Run("configured filter with absent metadata fails closed", func(t *testing.T) {
		ep := activeEndpoint(webhook.MessageSent)
		ep.Filters = &webhook.Filters{ChannelIDs: []string{"email"}}
		assert.False(t, ep.Matches(ev))
	})

	t.Run("empty filter lists place no restriction", func(t *testing.T) {
		ep := activeEndpoint(webhook.MessageSent)
		ep.Filters = &webhook.Filters{ProviderIDs: []string{}}
		assert.True(t, ep.Matches(ev))
	})
}

func TestMatchingEndpoints(t *testing.T) {
	t.Run("provider filter selects one of two endpoints", func(t *testing.T) {
		a := activeEndpoint(webhook.MessageSent)
		a.ID = "a"
		a.Filters = &webhook.Filters{ProviderIDs: []string{"p1"}}
		b := activeEndpoint(webhook.MessageSent)
		b.ID = "b"
		b.Filters = &webhook.Filters{ProviderIDs: []string{"p2"}}

		ev := webhook.Event{Type: webhook.MessageSent, Metadata: webhook.Metadata{ProviderID: "p1"}}

		matched := webhook.MatchingEndpoints([]webhook.Endpoint{a, b}, ev)

		assert.Len(t, matched, 1)
		assert.Equal(t, "a", matched[0].ID)
	})
}

func TestEndpoint_Clone(t *testing.T) {
	t.Run("clone does not share mutable state", func(t *testing.T) {
		n := 3
		ep := activeEndpoint(webhook.MessageSent)
		ep.Headers = map[string]string{"X-A": "1"}
		ep.Retry = &webhook.RetryConfig{MaxRetries: &n}
		ep.Filters = &webhook.Filters{ProviderIDs: []string{"p1"}}

		c := ep.Clone()
		c.Headers["X-A"] = "2"
		*c.Retry.MaxRetries = 9
		c.Filters.ProviderIDs[0] = "p2"
		c.Events[0] = webhook.MessageFailed

		assert.Equal(t, "1", ep.Headers["X-A"])
		assert.Equal(t, 3, *ep.Retry.MaxRetries)
		assert.Equal(t, "p1", ep.Filters.ProviderIDs[0])
		assert.Equal(t, webhook.MessageSent, ep.Events[0])
	})
}
