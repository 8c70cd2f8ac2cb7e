package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery system.
type Metrics struct {
	// QueueLengths maps queue tier (high, medium, low, delayed) to the number of waiting jobs
	QueueLengths map[string]int64 `json:"queue_lengths"`

	// StatusCounts maps delivery status name to the number of stored deliveries
	StatusCounts map[string]int64 `json:"status_counts"`

	// CircuitStates maps breaker state to the number of endpoints in it
	CircuitStates map[string]int64 `json:"circuit_states"`

	// EndpointHealth counts tracked endpoints as healthy or unhealthy
	EndpointHealth map[string]int64 `json:"endpoint_health"`

	// PendingEvents is the number of emitted events not yet flushed
	PendingEvents int64 `json:"pending_events"`

	// Throughput represents successful deliveries per time window
	Throughput ThroughputMetrics `json:"throughput"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// ThroughputMetrics represents deliveries completed successfully over different time windows.
type ThroughputMetrics struct {
	LastMinute         int64 `json:"last_minute"`
	LastFiveMinutes    int64 `json:"last_five_minutes"`
	LastFifteenMinutes int64 `json:"last_fifteen_minutes"`
}

// Collector defines the interface for collecting metrics from the delivery system.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetQueueLengths returns the number of waiting jobs per queue tier
	GetQueueLengths(ctx context.Context) (map[string]int64, error)

	// GetStatusCounts returns the count of deliveries by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetCircuitStates returns the number of endpoints per breaker state
	GetCircuitStates(ctx context.Context) (map[string]int64, error)

	GetEndpointHealth(ctx context.Context) (map[string]int64, error)

	GetPendingEvents(ctx context.Context) (int64, error)

	// GetThroughput returns successful deliveries over time windows
	GetThroughput(ctx context.Context) (ThroughputMetrics, error)
}
