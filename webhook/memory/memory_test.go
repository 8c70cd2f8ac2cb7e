package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpoint(id, url string, created time.Time) webhook.Endpoint {
	return webhook.Endpoint{
		ID:        id,
		URL:       url,
		Active:    true,
		Status:    webhook.EndpointActive,
		Events:    []webhook.EventType{webhook.MessageSent},
		Headers:   map[string]string{"X-A": "1"},
		CreatedAt: created,
	}
}

func TestEndpointStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("success - add get list", func(t *testing.T) {
		s := memory.NewEndpointStore()
		require.NoError(t, s.Add(ctx, endpoint("b", "https://b.example.com", base.Add(time.Second))))
		require.NoError(t, s.Add(ctx, endpoint("a", "https://a.example.com", base)))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "https://a.example.com", got.URL)

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "a", all[0].ID)
		assert.Equal(t, "b", all[1].ID)
	})

	t.Run("duplicate url is a conflict", func(t *testing.T) {
		s := memory.NewEndpointStore()
		require.NoError(t, s.Add(ctx, endpoint("a", "https://a.example.com", base)))

		err := s.Add(ctx, endpoint("b", "https://a.example.com", base))
		assert.ErrorIs(t, err, webhook.ErrConflict)
	})

	t.Run("get missing is not found", func(t *testing.T) {
		_, err := memory.NewEndpointStore().Get(ctx, "missing")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})

	t.Run("update changes url index", func(t *testing.T) {
		s := memory.NewEndpointStore()
		require.NoError(t, s.Add(ctx, endpoint("a", "https://a.example.com", base)))
		require.NoError(t, s.Add(ctx, endpoint("b", "https://b.example.com", base)))

		moved := endpoint("a", "https://c.example.com", base)
		require.NoError(t, s.Update(ctx, "a", moved))

		// old url is free again
		require.NoError(t, s.Add(ctx, endpoint("d", "https://a.example.com", base)))

		taken := endpoint("a", "https://b.example.com", base)
		assert.ErrorIs(t, s.Update(ctx, "a", taken), webhook.ErrConflict)
		assert.ErrorIs(t, s.Update(ctx, "zzz", taken), webhook.ErrNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		s := memory.NewEndpointStore()
		require.NoError(t, s.Add(ctx, endpoint("a", "https://a.example.com", base)))
		require.NoError(t, s.Remove(ctx, "a"))

		_, err := s.Get(ctx, "a")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
		assert.ErrorIs(t, s.Remove(ctx, "a"), webhook.ErrNotFound)
	})

	t.Run("returned values are copies", func(t *testing.T) {
		s := memory.NewEndpointStore()
		require.NoError(t, s.Add(ctx, endpoint("a", "https://a.example.com", base)))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		got.Headers["X-A"] = "changed"

		again, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "1", again.Headers["X-A"])
	})
}

func TestDeliveryStore(t *testing.T) {
	ctx := context.Background()

	seed := func(s *memory.DeliveryStore) {
		for i := 0; i < 6; i++ {
			status := webhook.Success
			if i%2 == 1 {
				status = webhook.Failed
			}
			require.NoError(t, s.Add(ctx, webhook.Delivery{
				ID:         fmt.Sprintf("d%d", i),
				EndpointID: fmt.Sprintf("ep%d", i%3),
				EventType:  webhook.MessageSent,
				Status:     status,
			}))
		}
	}

	t.Run("success - newest first", func(t *testing.T) {
		s := memory.NewDeliveryStore(0)
		seed(s)

		all, err := s.List(ctx, webhook.DeliveryFilter{})
		require.NoError(t, err)
		require.Len(t, all, 6)
		assert.Equal(t, "d5", all[0].ID)
		assert.Equal(t, "d0", all[5].ID)
	})

	t.Run("filters and limit", func(t *testing.T) {
		s := memory.NewDeliveryStore(0)
		seed(s)

		failed, err := s.List(ctx, webhook.DeliveryFilter{Status: webhook.Failed})
		require.NoError(t, err)
		assert.Len(t, failed, 3)

		ep0, err := s.List(ctx, webhook.DeliveryFilter{EndpointID: "ep0"})
		require.NoError(t, err)
		assert.Len(t, ep0, 2)

		limited, err := s.List(ctx, webhook.DeliveryFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := s.List(ctx, webhook.DeliveryFilter{EventType: webhook.MessageFailed})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("listing is idempotent", func(t *testing.T) {
		s := memory.NewDeliveryStore(0)
		seed(s)

		first, err := s.List(ctx, webhook.DeliveryFilter{})
		require.NoError(t, err)
		second, err := s.List(ctx, webhook.DeliveryFilter{})
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("bounded capacity drops oldest", func(t *testing.T) {
		s := memory.NewDeliveryStore(4)
		seed(s)

		assert.Equal(t, 4, s.Len())
		all, err := s.List(ctx, webhook.DeliveryFilter{})
		require.NoError(t, err)
		assert.Equal(t, "d2", all[3].ID)
	})

	t.Run("success - ordered by creation time, not arrival", func(t *testing.T) {
		s := memory.NewDeliveryStore(0)
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.Add(ctx, webhook.Delivery{ID: "new", CreatedAt: base.Add(2 * time.Minute)}))
		require.NoError(t, s.Add(ctx, webhook.Delivery{ID: "late-old", CreatedAt: base}))
		require.NoError(t, s.Add(ctx, webhook.Delivery{ID: "mid", CreatedAt: base.Add(time.Minute)}))

		all, err := s.List(ctx, webhook.DeliveryFilter{})
		require.NoError(t, err)
		ids := make([]string, len(all))
		for i, d := range all {
			ids[i] = d.ID
		}
		assert.Equal(t, []string{"new", "mid", "late-old"}, ids)

		limited, err := s.List(ctx, webhook.DeliveryFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "new", limited[0].ID)
	})

	t.Run("success - ring keeps the latest window after wrapping", func(t *testing.T) {
		s := memory.NewDeliveryStore(3)
		for i := 0; i < 10; i++ {
			require.NoError(t, s.Add(ctx, webhook.Delivery{ID: fmt.Sprintf("d%d", i)}))
		}
		assert.Equal(t, 3, s.Len())
		all, err := s.List(ctx, webhook.DeliveryFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "d9", all[0].ID)
		assert.Equal(t, "d7", all[2].ID)
	})
}
