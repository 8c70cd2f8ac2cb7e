//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEndpoint(id, url string) webhook.Endpoint {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return webhook.Endpoint{
		ID:        id,
		URL:       url,
		Active:    true,
		Status:    webhook.EndpointActive,
		Events:    []webhook.EventType{webhook.MessageSent, webhook.MessageFailed},
		Headers:   map[string]string{"X-Tenant": "acme"},
		Filters:   &webhook.Filters{ProviderIDs: []string{"p1"}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestEndpointStore_Integration(t *testing.T) {
	ctx := context.Background()

	server := startRedis(t, ctx)
	repo := server.repository(t)
	store := repo.Endpoints()

	t.Run("store and retrieve endpoint", func(t *testing.T) {
		ep := testEndpoint(uniqueID("ep"), "https://a.example.com/hook")
		require.NoError(t, store.Add(ctx, ep))

		got, err := store.Get(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, ep.URL, got.URL)
		assert.Equal(t, ep.Events, got.Events)
		assert.Equal(t, webhook.EndpointActive, got.Status)
		assert.Equal(t, []string{"p1"}, got.Filters.ProviderIDs)
		assert.True(t, server.exists(t, "endpoint:url:"+ep.URL))
	})

	t.Run("duplicate url is a conflict", func(t *testing.T) {
		ep := testEndpoint(uniqueID("ep"), "https://dup.example.com/hook")
		require.NoError(t, store.Add(ctx, ep))

		err := store.Add(ctx, testEndpoint(uniqueID("ep"), ep.URL))
		assert.ErrorIs(t, err, webhook.ErrConflict)
	})

	t.Run("update moves url claim", func(t *testing.T) {
		ep := testEndpoint(uniqueID("ep"), "https://old.example.com/hook")
		require.NoError(t, store.Add(ctx, ep))

		ep.URL = "https://new.example.com/hook"
		require.NoError(t, store.Update(ctx, ep.ID, ep))

		assert.False(t, server.exists(t, "endpoint:url:https://old.example.com/hook"))
		got, err := store.Get(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://new.example.com/hook", got.URL)
	})

	t.Run("remove and not found", func(t *testing.T) {
		ep := testEndpoint(uniqueID("ep"), "https://gone.example.com/hook")
		require.NoError(t, store.Add(ctx, ep))
		require.NoError(t, store.Remove(ctx, ep.ID))

		_, err := store.Get(ctx, ep.ID)
		assert.ErrorIs(t, err, webhook.ErrNotFound)
		assert.ErrorIs(t, store.Remove(ctx, ep.ID), webhook.ErrNotFound)
		assert.ErrorIs(t, store.Update(ctx, ep.ID, ep), webhook.ErrNotFound)
	})

	t.Run("mark triggered stamps only the timestamp", func(t *testing.T) {
		ep := testEndpoint(uniqueID("ep"), "https://stamp.example.com/hook")
		ep.Secret = "whenc.v1:sealed"
		ep.Active = false
		ep.Status = webhook.EndpointInactive
		require.NoError(t, store.Add(ctx, ep))

		at := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.MarkTriggered(ctx, ep.ID, at))

		got, err := store.Get(ctx, ep.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastTriggeredAt)
		assert.True(t, at.Equal(*got.LastTriggeredAt))
		assert.Equal(t, "whenc.v1:sealed", got.Secret)
		assert.Equal(t, webhook.EndpointInactive, got.Status)

		assert.ErrorIs(t, store.MarkTriggered(ctx, "missing", at), webhook.ErrNotFound)
	})

	t.Run("list returns stored endpoints", func(t *testing.T) {
		all, err := store.List(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 3)
	})
}

func TestDeliveryStore_Integration(t *testing.T) {
	ctx := context.Background()

	server := startRedis(t, ctx)
	repo := server.repository(t, redis.WithDeliveryTTL(time.Hour))
	store := repo.Deliveries()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		status := webhook.Success
		if i%2 == 1 {
			status = webhook.Exhausted
		}
		epID := "ep-a"
		if i >= 3 {
			epID = "ep-b"
		}
		require.NoError(t, store.Add(ctx, webhook.Delivery{
			ID:         uniqueID("d"),
			EndpointID: epID,
			EventID:    "evt",
			EventType:  webhook.MessageSent,
			Status:     status,
			Payload:    []byte(`{"id":"evt"}`),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	t.Run("newest first", func(t *testing.T) {
		all, err := store.List(ctx, webhook.DeliveryFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.True(t, all[0].CreatedAt.After(all[4].CreatedAt))
	})

	t.Run("filter by endpoint and status", func(t *testing.T) {
		a, err := store.List(ctx, webhook.DeliveryFilter{EndpointID: "ep-a"})
		require.NoError(t, err)
		assert.Len(t, a, 3)

		exhausted, err := store.List(ctx, webhook.DeliveryFilter{Status: webhook.Exhausted})
		require.NoError(t, err)
		assert.Len(t, exhausted, 2)

		limited, err := store.List(ctx, webhook.DeliveryFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("delivery ttl applied", func(t *testing.T) {
		all, err := store.List(ctx, webhook.DeliveryFilter{Limit: 1})
		require.NoError(t, err)
		ttl := server.ttlSeconds(t, "delivery:"+all[0].ID)
		assert.Greater(t, ttl, int64(3500))
	})
}

func TestSnapshotStore_Integration(t *testing.T) {
	ctx := context.Background()

	server := startRedis(t, ctx)
	repo := server.repository(t)
	snapshots := repo.Snapshots()

	t.Run("missing snapshot is not an error", func(t *testing.T) {
		data, err := snapshots.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, snapshots.Save(ctx, []byte(`{"high":[]}`)))
		data, err := snapshots.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, `{"high":[]}`, string(data))
	})
}
