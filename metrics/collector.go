package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/balancer"
	"github.com/marcelsud/webhook-outbox/engine"
	"github.com/marcelsud/webhook-outbox/pipeline"
	"github.com/marcelsud/webhook-outbox/webhook"
)

// throughputScan caps how many recent deliveries GetThroughput reads
const throughputScan = 5000

type EngineSource interface {
	Stats() engine.Stats
}

type PipelineSource interface {
	Stats() pipeline.Stats
}

type CollectorOption func(*RuntimeCollector)

// WithPipeline reports queue tiers and breaker states from a running pipeline
func WithPipeline(p PipelineSource) CollectorOption {
	return func(c *RuntimeCollector) { c.pipeline = p }
}

// WithDeliveries computes throughput from the delivery store
func WithDeliveries(r webhook.DeliveryReader) CollectorOption {
	return func(c *RuntimeCollector) { c.deliveries = r }
}

func WithClock(now func() time.Time) CollectorOption {
	return func(c *RuntimeCollector) { c.now = now }
}

/* RuntimeCollector implements the Collector interface over the in-process
 * components. Sources that are not configured report zeros.
 */
type RuntimeCollector struct {
	engine     EngineSource
	pipeline   PipelineSource
	deliveries webhook.DeliveryReader
	now        func() time.Time
}

// NewCollector creates a collector reading the engine and any optional sources
func NewCollector(e EngineSource, opts ...CollectorOption) *RuntimeCollector {
	c := &RuntimeCollector{engine: e, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers all metrics
func (c *RuntimeCollector) Collect(ctx context.Context) (Metrics, error) {
	queueLengths, err := c.GetQueueLengths(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting queue lengths: %w", err)
	}

	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting status counts: %w", err)
	}

	circuits, err := c.GetCircuitStates(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting circuit states: %w", err)
	}

	health, err := c.GetEndpointHealth(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting endpoint health: %w", err)
	}

	pending, err := c.GetPendingEvents(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting pending events: %w", err)
	}

	throughput, err := c.GetThroughput(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting throughput: %w", err)
	}

	return Metrics{
		QueueLengths:   queueLengths,
		StatusCounts:   statusCounts,
		CircuitStates:  circuits,
		EndpointHealth: health,
		PendingEvents:  pending,
		Throughput:     throughput,
		Timestamp:      c.now(),
	}, nil
}

// GetQueueLengths returns the number of waiting jobs in each tier
func (c *RuntimeCollector) GetQueueLengths(_ context.Context) (map[string]int64, error) {
	lengths := map[string]int64{"high": 0, "medium": 0, "low": 0, "delayed": 0}
	if c.pipeline == nil {
		return lengths, nil
	}

	s := c.pipeline.Stats().Queue
	lengths["high"] = int64(s.High)
	lengths["medium"] = int64(s.Medium)
	lengths["low"] = int64(s.Low)
	lengths["delayed"] = int64(s.Delayed)
	return lengths, nil
}

// GetStatusCounts returns counts of stored deliveries grouped by status
func (c *RuntimeCollector) GetStatusCounts(_ context.Context) (map[string]int64, error) {
	counts := map[string]int64{
		webhook.Success.String():   0,
		webhook.Failed.String():    0,
		webhook.Exhausted.String(): 0,
	}
	if c.engine == nil {
		return counts, nil
	}
	for status, n := range c.engine.Stats().Deliveries {
		counts[status.String()] += n
	}
	return counts, nil
}

func (c *RuntimeCollector) GetCircuitStates(_ context.Context) (map[string]int64, error) {
	states := map[string]int64{
		balancer.Closed.String():   0,
		balancer.Open.String():     0,
		balancer.HalfOpen.String(): 0,
	}
	if c.pipeline == nil {
		return states, nil
	}
	for state, n := range c.pipeline.Stats().Balancer.Circuits {
		states[state.String()] += int64(n)
	}
	return states, nil
}

func (c *RuntimeCollector) GetEndpointHealth(_ context.Context) (map[string]int64, error) {
	health := map[string]int64{"healthy": 0, "unhealthy": 0}
	if c.pipeline == nil {
		return health, nil
	}
	s := c.pipeline.Stats().Balancer
	health["healthy"] = int64(s.Healthy)
	health["unhealthy"] = int64(s.Unhealthy)
	return health, nil
}

func (c *RuntimeCollector) GetPendingEvents(_ context.Context) (int64, error) {
	if c.engine == nil {
		return 0, nil
	}
	return int64(c.engine.Stats().Pending), nil
}

// GetThroughput counts successful deliveries completed within each window
func (c *RuntimeCollector) GetThroughput(ctx context.Context) (ThroughputMetrics, error) {
	if c.deliveries == nil {
		return ThroughputMetrics{}, nil
	}

	deliveries, err := c.deliveries.List(ctx, webhook.DeliveryFilter{Status: webhook.Success, Limit: throughputScan})
	if err != nil {
		return ThroughputMetrics{}, fmt.Errorf("listing deliveries: %w", err)
	}

	now := c.now()
	oneMinuteAgo := now.Add(-1 * time.Minute)
	fiveMinutesAgo := now.Add(-5 * time.Minute)
	fifteenMinutesAgo := now.Add(-15 * time.Minute)

	var tp ThroughputMetrics
	for _, d := range deliveries {
		if d.CompletedAt == nil {
			continue
		}
		completed := *d.CompletedAt

		// Count in time windows
		if completed.Before(fifteenMinutesAgo) {
			continue
		}
		tp.LastFifteenMinutes++
		if !completed.Before(fiveMinutesAgo) {
			tp.LastFiveMinutes++
			if !completed.Before(oneMinuteAgo) {
				tp.LastMinute++
			}
		}
	}
	return tp, nil
}
