package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcelsud/webhook-outbox/balancer"
	"github.com/marcelsud/webhook-outbox/engine"
	"github.com/marcelsud/webhook-outbox/pipeline"
	"github.com/marcelsud/webhook-outbox/queue"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/memory"
	"github.com/marcelsud/webhook-outbox/webhook/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type engineStats engine.Stats

func (s engineStats) Stats() engine.Stats { return engine.Stats(s) }

type pipelineStats pipeline.Stats

func (s pipelineStats) Stats() pipeline.Stats { return pipeline.Stats(s) }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleCollector(t *testing.T) *RuntimeCollector {
	t.Helper()

	e := engineStats{
		Pending: 4,
		Deliveries: map[webhook.DeliveryStatus]int64{
			webhook.Success: 10,
			webhook.Failed:  2,
		},
	}
	p := pipelineStats{
		Queue: queue.Stats{High: 3, Medium: 2, Low: 1, Delayed: 5, Total: 11},
		Balancer: balancer.Stats{
			Circuits:  map[balancer.State]int{balancer.Closed: 2, balancer.Open: 1},
			Healthy:   2,
			Unhealthy: 1,
		},
	}

	store := memory.NewDeliveryStore(0)
	for i, ago := range []time.Duration{30 * time.Second, 3 * time.Minute, 10 * time.Minute, 20 * time.Minute} {
		completed := fixedNow.Add(-ago)
		require.NoError(t, store.Add(context.Background(), webhook.Delivery{
			ID:          string(rune('a' + i)),
			Status:      webhook.Success,
			CreatedAt:   completed,
			CompletedAt: &completed,
		}))
	}

	return NewCollector(e, WithPipeline(p), WithDeliveries(store), WithClock(func() time.Time { return fixedNow }))
}

func TestRuntimeCollector_Collect(t *testing.T) {
	t.Run("success - combines every source", func(t *testing.T) {
		m, err := sampleCollector(t).Collect(context.Background())
		require.NoError(t, err)

		assert.Equal(t, map[string]int64{"high": 3, "medium": 2, "low": 1, "delayed": 5}, m.QueueLengths)
		assert.Equal(t, map[string]int64{"success": 10, "failed": 2, "exhausted": 0}, m.StatusCounts)
		assert.Equal(t, map[string]int64{"closed": 2, "open": 1, "half-open": 0}, m.CircuitStates)
		assert.Equal(t, map[string]int64{"healthy": 2, "unhealthy": 1}, m.EndpointHealth)
		assert.Equal(t, int64(4), m.PendingEvents)
		assert.Equal(t, ThroughputMetrics{LastMinute: 1, LastFiveMinutes: 2, LastFifteenMinutes: 3}, m.Throughput)
		assert.Equal(t, fixedNow, m.Timestamp)
	})

	t.Run("success - missing sources report zeros", func(t *testing.T) {
		m, err := NewCollector(nil).Collect(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(0), m.QueueLengths["high"])
		assert.Equal(t, int64(0), m.StatusCounts["success"])
		assert.Equal(t, int64(0), m.CircuitStates["open"])
		assert.Equal(t, int64(0), m.PendingEvents)
		assert.Equal(t, ThroughputMetrics{}, m.Throughput)
	})

	t.Run("error - delivery store failure", func(t *testing.T) {
		store := mocks.NewDeliveryStore(t)
		store.On("List", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := NewCollector(nil, WithDeliveries(store)).Collect(context.Background())
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestCollector_Interface(t *testing.T) {
	var _ Collector = (*RuntimeCollector)(nil)
}

func TestOTelExporter(t *testing.T) {
	exporter, err := NewOTelExporter()
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())
	require.NoError(t, exporter.Observe(sampleCollector(t)))
	assert.Error(t, exporter.Observe(sampleCollector(t)))

	rec := exporter.Recorder()
	rec.RecordAttempt("ep-1", http.StatusInternalServerError, 120*time.Millisecond)
	rec.RecordAttempt("ep-1", http.StatusOK, 80*time.Millisecond)
	rec.RecordDelivery("ep-1", webhook.Success, 2)

	w := httptest.NewRecorder()
	exporter.ServeHTTP().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, "webhook_queue_length")
	assert.Contains(t, out, `queue_tier="high"`)
	assert.Contains(t, out, "webhook_delivery_status")
	assert.Contains(t, out, "webhook_circuit_state")
	assert.Contains(t, out, `circuit_state="open"`)
	assert.Contains(t, out, "webhook_events_pending")
	assert.Contains(t, out, "webhook_throughput")
	assert.Contains(t, out, "webhook_delivery_attempts")
	assert.Contains(t, out, `http_status_class="5xx"`)
	assert.Contains(t, out, "webhook_deliveries")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "error", statusClass(0))
}
