package webhook_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryStatus(t *testing.T) {
	t.Run("string round trip", func(t *testing.T) {
		for _, s := range []webhook.DeliveryStatus{webhook.Pending, webhook.Success, webhook.Failed, webhook.Exhausted} {
			assert.Equal(t, s, webhook.NewDeliveryStatus(s.String()))
			assert.NoError(t, s.Validate())
		}
	})

	t.Run("final states", func(t *testing.T) {
		assert.False(t, webhook.Pending.IsFinal())
		assert.True(t, webhook.Success.IsFinal())
		assert.True(t, webhook.Failed.IsFinal())
		assert.True(t, webhook.Exhausted.IsFinal())
	})

	t.Run("invalid status", func(t *testing.T) {
		assert.Error(t, webhook.DeliveryStatus(999).Validate())
		assert.Equal(t, webhook.DeliveryStatus(0), webhook.NewDeliveryStatus("bogus"))
	})

	t.Run("json uses names", func(t *testing.T) {
		b, err := json.Marshal(webhook.Delivery{Status: webhook.Exhausted})
		require.NoError(t, err)
		assert.Contains(t, string(b), `"status":"exhausted"`)

		var d webhook.Delivery
		require.NoError(t, json.Unmarshal(b, &d))
		assert.Equal(t, webhook.Exhausted, d.Status)
	})
}

func TestEndpointStatus(t *testing.T) {
	t.Run("string round trip", func(t *testing.T) {
		for _, s := range []webhook.EndpointStatus{webhook.EndpointActive, webhook.EndpointInactive, webhook.EndpointError, webhook.EndpointSuspended} {
			assert.Equal(t, s, webhook.NewEndpointStatus(s.String()))
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		assert.Error(t, webhook.EndpointStatus(0).Validate())
	})
}

func TestEvent_Validate(t *testing.T) {
	valid := webhook.Event{
		ID:        "evt-1",
		Type:      webhook.MessageDelivered,
		Timestamp: time.Now(),
		Version:   "1.0",
		Data:      json.RawMessage(`{"message_id":"m1"}`),
	}

	t.Run("success", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	cases := map[string]func(e *webhook.Event){
		"missing id":        func(e *webhook.Event) { e.ID = "" },
		"missing type":      func(e *webhook.Event) { e.Type = "" },
		"unknown type":      func(e *webhook.Event) { e.Type = "user.created" },
		"missing version":   func(e *webhook.Event) { e.Version = "" },
		"missing timestamp": func(e *webhook.Event) { e.Timestamp = time.Time{} },
		"invalid data":      func(e *webhook.Event) { e.Data = json.RawMessage(`{`) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ev := valid
			mutate(&ev)
			err := ev.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, webhook.ErrValidation))
		})
	}
}

func TestError(t *testing.T) {
	t.Run("internal wraps sentinel and cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := webhook.Internal("redis.get", cause)

		assert.ErrorIs(t, err, webhook.ErrInternal)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "redis.get: boom", err.Error())
	})

	t.Run("not found", func(t *testing.T) {
		err := webhook.NotFound("endpoint", "ep-1")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
		assert.NotErrorIs(t, err, webhook.ErrConflict)
	})
}

func TestTruncateBody(t *testing.T) {
	t.Run("caps long bodies", func(t *testing.T) {
		body := make([]byte, 4096)
		assert.Len(t, webhook.TruncateBody(body), webhook.MaxResponseBody)
	})

	t.Run("keeps short bodies", func(t *testing.T) {
		assert.Equal(t, "ok", webhook.TruncateBody([]byte("ok")))
	})
}
