package config

import (
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/balancer"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfig(t *testing.T) {
	t.Run("success - defaults", func(t *testing.T) {
		cfg, err := GetConfig()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, StoreMemory, cfg.Store)
		assert.Equal(t, 100, cfg.BatchSize)
		assert.Equal(t, 5*time.Second, cfg.FlushInterval)
		assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.True(t, cfg.SigningEnabled)
		assert.Empty(t, cfg.Events())
	})

	t.Run("success - environment overrides", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("STORE", "redis")
		t.Setenv("FLUSH_INTERVAL", "250ms")
		t.Setenv("MAX_RETRIES", "0")
		t.Setenv("ENABLED_EVENTS", "message.failed, message.bounced")
		t.Setenv("BALANCER_STRATEGY", "least_connections")
		t.Setenv("SIGNING_ALGORITHM", "sha1")

		cfg, err := GetConfig()
		require.NoError(t, err)

		assert.Equal(t, "9000", cfg.Port)
		assert.Equal(t, StoreRedis, cfg.Store)
		assert.Equal(t, 250*time.Millisecond, cfg.GetEngineConfig().FlushInterval)
		assert.Equal(t, 0, cfg.GetRetryConfig().MaxRetries)
		assert.Equal(t, []webhook.EventType{webhook.MessageFailed, webhook.MessageBounced}, cfg.GetEngineConfig().EnabledEvents)
		assert.Equal(t, balancer.LeastConnections, cfg.GetPipelineConfig().Balancer.Strategy)

		d := cfg.GetDispatcherConfig()
		assert.Equal(t, signature.SHA1, d.Signing.Algorithm)
		assert.Equal(t, "sha1=", d.Signing.Prefix)
	})

	t.Run("error - unknown store", func(t *testing.T) {
		t.Setenv("STORE", "postgres")
		_, err := GetConfig()
		assert.ErrorContains(t, err, "STORE")
	})

	t.Run("error - unknown event type", func(t *testing.T) {
		t.Setenv("ENABLED_EVENTS", "user.created")
		_, err := GetConfig()
		assert.ErrorContains(t, err, "ENABLED_EVENTS")
	})

	t.Run("error - unknown strategy", func(t *testing.T) {
		t.Setenv("BALANCER_STRATEGY", "fastest")
		_, err := GetConfig()
		assert.ErrorContains(t, err, "BALANCER_STRATEGY")
	})
}
