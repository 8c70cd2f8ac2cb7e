package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/internal/testutil"
	"github.com/marcelsud/webhook-outbox/queue"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshots struct {
	mu    sync.Mutex
	data  []byte
	saves int
	err   error
}

func (s *snapshots) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.err
}

func (s *snapshots) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

func (s *snapshots) saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func job(id string, priority int) queue.Job {
	return queue.Job{
		ID:       id,
		Priority: priority,
		Event:    webhook.Event{ID: "evt-" + id, Type: webhook.MessageSent},
		Endpoint: webhook.Endpoint{ID: "ep-1"},
	}
}

func TestTierFor(t *testing.T) {
	cases := map[int]queue.Tier{9: queue.High, 8: queue.High, 7: queue.Medium, 5: queue.Medium, 4: queue.Low, 0: queue.Low}
	for p, want := range cases {
		assert.Equal(t, want, queue.TierFor(p), "priority %d", p)
	}
	assert.Equal(t, 9, queue.ClampPriority(42))
	assert.Equal(t, 0, queue.ClampPriority(-1))
}

func TestManager_Enqueue(t *testing.T) {
	t.Run("success - strict priority then fifo", func(t *testing.T) {
		m := queue.New(queue.Config{})
		require.True(t, m.Enqueue(job("low", 1)))
		require.True(t, m.Enqueue(job("med-1", 5)))
		require.True(t, m.Enqueue(job("high", 9)))
		require.True(t, m.Enqueue(job("med-2", 6)))

		var order []string
		for {
			j, ok := m.Dequeue()
			if !ok {
				break
			}
			order = append(order, j.ID)
		}
		assert.Equal(t, []string{"high", "med-1", "med-2", "low"}, order)
	})

	t.Run("success - assigns id and created_at", func(t *testing.T) {
		fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		m := queue.New(queue.Config{}, queue.WithClock(func() time.Time { return fixed }))
		require.True(t, m.Enqueue(queue.Job{Priority: 5}))

		j, ok := m.Dequeue()
		require.True(t, ok)
		assert.NotEmpty(t, j.ID)
		assert.Equal(t, fixed, j.CreatedAt)
	})

	t.Run("error - full queue rejects", func(t *testing.T) {
		m := queue.New(queue.Config{MaxQueueSize: 2})
		assert.True(t, m.Enqueue(job("a", 5)))
		assert.True(t, m.Enqueue(job("b", 5)))
		assert.False(t, m.Enqueue(job("c", 5)))
		assert.Equal(t, 2, m.Size())

		events := testutil.Drain(m.Events())
		require.Len(t, events, 3)
		assert.Equal(t, queue.EventRejected, events[2].Kind)
		assert.Equal(t, "c", events[2].JobID)
	})

	t.Run("success - delayed jobs count toward size", func(t *testing.T) {
		m := queue.New(queue.Config{MaxQueueSize: 1})
		delayed := job("later", 5)
		delayed.ScheduledAt = time.Now().Add(time.Hour)

		require.True(t, m.Enqueue(delayed))
		assert.Equal(t, 1, m.Size())
		assert.False(t, m.Enqueue(job("now", 5)))

		_, ok := m.Dequeue()
		assert.False(t, ok)
		assert.Equal(t, queue.Stats{Delayed: 1, Total: 1}, m.Stats())
	})
}

func TestManager_Delayed(t *testing.T) {
	m := queue.New(queue.Config{})
	j := job("soon", 8)
	j.ScheduledAt = time.Now().Add(20 * time.Millisecond)
	require.True(t, m.Enqueue(j))

	_, ok := m.Dequeue()
	assert.False(t, ok)

	testutil.MustWaitFor(t, func() bool { return m.Stats().High == 1 })
	got, ok := m.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "soon", got.ID)

	kinds := []queue.EventKind{}
	for _, ev := range testutil.Drain(m.Events()) {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []queue.EventKind{queue.EventDelayed, queue.EventEnqueued}, kinds)
}

func TestManager_RemoveJob(t *testing.T) {
	m := queue.New(queue.Config{})
	require.True(t, m.Enqueue(job("a", 5)))
	delayed := job("b", 5)
	delayed.ScheduledAt = time.Now().Add(time.Hour)
	require.True(t, m.Enqueue(delayed))

	assert.True(t, m.RemoveJob("a"))
	assert.True(t, m.RemoveJob("b"))
	assert.False(t, m.RemoveJob("missing"))
	assert.Equal(t, 0, m.Size())
}

func TestManager_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := queue.New(queue.Config{JobTTL: time.Hour}, queue.WithClock(func() time.Time { return now }))

	old := job("old", 9)
	old.CreatedAt = now.Add(-2 * time.Hour)
	fresh := job("fresh", 9)
	fresh.CreatedAt = now.Add(-time.Minute)
	require.True(t, m.Enqueue(old))
	require.True(t, m.Enqueue(fresh))

	assert.Equal(t, 1, m.Sweep())
	j, ok := m.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "fresh", j.ID)

	evicted := testutil.Receive(t, m.Events(), func(e queue.Event) bool { return e.Kind == queue.EventEvicted })
	assert.Equal(t, "old", evicted.JobID)
}

func TestManager_Snapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("success - final snapshot on stop and restore on start", func(t *testing.T) {
		store := &snapshots{}
		m := queue.New(queue.Config{}, queue.WithSnapshotStore(store))
		require.NoError(t, m.Start(ctx))

		require.True(t, m.Enqueue(job("high", 9)))
		require.True(t, m.Enqueue(job("low", 1)))
		later := job("later", 5)
		later.ScheduledAt = time.Now().Add(time.Hour)
		require.True(t, m.Enqueue(later))
		require.NoError(t, m.Stop(ctx))

		var raw map[string][]json.RawMessage
		require.NoError(t, json.Unmarshal(store.data, &raw))
		assert.Len(t, raw["high"], 1)
		assert.Len(t, raw["low"], 1)
		assert.Len(t, raw["delayed"], 1)

		restored := queue.New(queue.Config{}, queue.WithSnapshotStore(store))
		require.NoError(t, restored.Start(ctx))
		defer restored.Stop(ctx)

		assert.Equal(t, queue.Stats{High: 1, Low: 1, Delayed: 1, Total: 3}, restored.Stats())
	})

	t.Run("success - mutations are persisted in the background", func(t *testing.T) {
		store := &snapshots{}
		m := queue.New(queue.Config{}, queue.WithSnapshotStore(store))
		require.NoError(t, m.Start(ctx))
		defer m.Stop(ctx)

		for i := 0; i < 10; i++ {
			require.True(t, m.Enqueue(job(fmt.Sprintf("j-%d", i), 5)))
		}
		testutil.MustWaitFor(t, func() bool { return store.saved() > 0 })
	})

	t.Run("success - signing secrets stay out of snapshots", func(t *testing.T) {
		store := &snapshots{}
		m := queue.New(queue.Config{}, queue.WithSnapshotStore(store))
		require.NoError(t, m.Start(ctx))

		signed := job("signed", 9)
		signed.Endpoint.Secret = "whsec_topsecret"
		require.True(t, m.Enqueue(signed))
		later := job("later", 5)
		later.Endpoint.Secret = "whsec_topsecret"
		later.ScheduledAt = time.Now().Add(time.Hour)
		require.True(t, m.Enqueue(later))
		require.NoError(t, m.Stop(ctx))

		assert.NotContains(t, string(store.data), "whsec_topsecret")
		assert.Contains(t, string(store.data), "ep-1")

		got, ok := m.Dequeue()
		require.True(t, ok)
		assert.Equal(t, "whsec_topsecret", got.Endpoint.Secret)
	})

	t.Run("success - restored jobs reload their endpoint", func(t *testing.T) {
		store := &snapshots{}
		m := queue.New(queue.Config{}, queue.WithSnapshotStore(store))
		require.NoError(t, m.Start(ctx))
		require.True(t, m.Enqueue(job("kept", 9)))
		gone := job("gone", 1)
		gone.Endpoint.ID = "ep-removed"
		require.True(t, m.Enqueue(gone))
		require.NoError(t, m.Stop(ctx))

		resolver := func(_ context.Context, id string) (webhook.Endpoint, error) {
			if id != "ep-1" {
				return webhook.Endpoint{}, webhook.NotFound("endpoint", id)
			}
			return webhook.Endpoint{ID: id, URL: "https://a.example.com", Secret: "whsec_fresh"}, nil
		}
		restored := queue.New(queue.Config{}, queue.WithSnapshotStore(store), queue.WithEndpointResolver(resolver))
		require.NoError(t, restored.Start(ctx))
		defer restored.Stop(ctx)

		assert.Equal(t, 1, restored.Size())
		got, ok := restored.Dequeue()
		require.True(t, ok)
		assert.Equal(t, "kept", got.ID)
		assert.Equal(t, "whsec_fresh", got.Endpoint.Secret)
	})

	t.Run("error - endpoint lookup failure aborts restore", func(t *testing.T) {
		store := &snapshots{}
		m := queue.New(queue.Config{}, queue.WithSnapshotStore(store))
		require.NoError(t, m.Start(ctx))
		require.True(t, m.Enqueue(job("j", 5)))
		require.NoError(t, m.Stop(ctx))

		resolver := func(context.Context, string) (webhook.Endpoint, error) {
			return webhook.Endpoint{}, errors.New("redis down")
		}
		restored := queue.New(queue.Config{}, queue.WithSnapshotStore(store), queue.WithEndpointResolver(resolver))
		assert.Error(t, restored.Start(ctx))
	})

	t.Run("success - missing snapshot is skipped", func(t *testing.T) {
		m := queue.New(queue.Config{}, queue.WithSnapshotStore(&snapshots{}))
		require.NoError(t, m.Start(ctx))
		assert.Equal(t, 0, m.Size())
		require.NoError(t, m.Stop(ctx))
	})

	t.Run("error - load failure", func(t *testing.T) {
		m := queue.New(queue.Config{}, queue.WithSnapshotStore(&snapshots{err: errors.New("redis down")}))
		assert.Error(t, m.Start(ctx))
	})
}
