package endpoints_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/endpoints"
	"github.com/marcelsud/webhook-outbox/engine/mocks"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const validFile = `
endpoints:
  - id: "billing"
    url: "https://billing.example.com/webhooks"
    name: "Billing"
    events: ["message.failed", "message.bounced"]
    secret: "whsec_0123456789abcdef"
    max_retries: 5
    retry_base_delay: "2s"
    backoff_multiplier: 3
    filters:
      provider_ids: ["provider-a"]
  - id: "analytics"
    url: "https://analytics.example.com/hook"
    active: false
    events: ["message.*"]
    group: "analytics"
    weight: 2
    headers:
      X-Team: "growth"
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_Load(t *testing.T) {
	t.Run("success - valid endpoints file", func(t *testing.T) {
		loader := endpoints.NewLoader(nil)
		require.NoError(t, loader.Load(writeFile(t, validFile)))

		all := loader.List()
		require.Len(t, all, 2)
		assert.Equal(t, "billing", all[0].ID)
		assert.Equal(t, "analytics", all[1].ID)

		billing, err := loader.Get("billing")
		require.NoError(t, err)
		assert.True(t, billing.Active)
		assert.Equal(t, []webhook.EventType{webhook.MessageFailed, webhook.MessageBounced}, billing.Events)
		require.NotNil(t, billing.Retry)
		assert.Equal(t, 5, *billing.Retry.MaxRetries)
		assert.Equal(t, 2*time.Second, billing.Retry.BaseDelay)
		assert.Equal(t, 3.0, billing.Retry.BackoffMultiplier)
		assert.Equal(t, []string{"provider-a"}, billing.Filters.ProviderIDs)

		analytics, err := loader.Get("analytics")
		require.NoError(t, err)
		assert.False(t, analytics.Active)
		assert.Len(t, analytics.Events, 7)
		assert.Nil(t, analytics.Retry)
		assert.Equal(t, "growth", analytics.Headers["X-Team"])
		assert.Equal(t, 2, analytics.Weight)
	})

	t.Run("error - file not found", func(t *testing.T) {
		err := endpoints.NewLoader(nil).Load("nonexistent.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading endpoints file")
	})

	t.Run("error - invalid YAML", func(t *testing.T) {
		err := endpoints.NewLoader(nil).Load(writeFile(t, `invalid yaml content: [[[`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing endpoints YAML")
	})
}

func TestLoader_Parse(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"error - missing id", "endpoints:\n  - url: \"https://a.example.com\"\n    events: [\"message.sent\"]\n", "id cannot be empty"},
		{"error - private url", "endpoints:\n  - id: a\n    url: \"http://127.0.0.1:8080\"\n    events: [\"message.sent\"]\n", "invalid url"},
		{"error - no events", "endpoints:\n  - id: a\n    url: \"https://a.example.com\"\n", "events cannot be empty"},
		{"error - unknown event", "endpoints:\n  - id: a\n    url: \"https://a.example.com\"\n    events: [\"user.created\"]\n", "invalid events"},
		{"error - bad delay", "endpoints:\n  - id: a\n    url: \"https://a.example.com\"\n    events: [\"message.sent\"]\n    retry_base_delay: \"soon\"\n", "invalid retry_base_delay"},
		{"error - negative retries", "endpoints:\n  - id: a\n    url: \"https://a.example.com\"\n    events: [\"message.sent\"]\n    max_retries: -1\n", "max_retries cannot be negative"},
		{"error - duplicate id", "endpoints:\n  - id: a\n    url: \"https://a.example.com\"\n    events: [\"message.sent\"]\n  - id: a\n    url: \"https://b.example.com\"\n    events: [\"message.sent\"]\n", "duplicate id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loader := endpoints.NewLoader(nil)
			err := loader.Parse([]byte(tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Empty(t, loader.List())
		})
	}

	t.Run("success - private url allowed by validator", func(t *testing.T) {
		loader := endpoints.NewLoader(validator.New(validator.Config{AllowPrivateHosts: true}))
		err := loader.Parse([]byte("endpoints:\n  - id: a\n    url: \"http://127.0.0.1:8080\"\n    events: [\"message.sent\"]\n"))
		require.NoError(t, err)
		assert.True(t, loader.Exists("a"))
	})
}

func TestLoader_Get(t *testing.T) {
	_, err := endpoints.NewLoader(nil).Get("nonexistent")
	assert.ErrorIs(t, err, webhook.ErrNotFound)
}

func TestLoader_Register(t *testing.T) {
	ctx := context.Background()
	loader := endpoints.NewLoader(nil)
	require.NoError(t, loader.Parse([]byte(validFile)))

	t.Run("success - adds only unknown endpoints", func(t *testing.T) {
		uc := mocks.NewUseCase(t)
		uc.On("GetEndpoint", ctx, "billing").Return(webhook.Endpoint{ID: "billing"}, nil)
		uc.On("GetEndpoint", ctx, "analytics").Return(webhook.Endpoint{}, webhook.NotFound("endpoint", "analytics"))
		uc.On("AddEndpoint", ctx, mock.MatchedBy(func(ep webhook.Endpoint) bool {
			return ep.ID == "analytics"
		})).Return(webhook.Endpoint{ID: "analytics"}, nil)

		added, err := loader.Register(ctx, uc)
		require.NoError(t, err)
		assert.Equal(t, 1, added)
	})

	t.Run("error - lookup failure stops registration", func(t *testing.T) {
		uc := mocks.NewUseCase(t)
		uc.On("GetEndpoint", ctx, "billing").Return(webhook.Endpoint{}, errors.New("redis down"))

		added, err := loader.Register(ctx, uc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis down")
		assert.Equal(t, 0, added)
		uc.AssertNotCalled(t, "AddEndpoint", mock.Anything, mock.Anything)
	})
}
