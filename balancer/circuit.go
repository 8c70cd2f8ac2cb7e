package balancer

import "time"

// State is the state of an endpoint's circuit
type State int

const (
	Closed   State = iota // deliveries flow
	Open                  // deliveries blocked until NextRetryTime
	HalfOpen              // one trial admitted
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Circuit is a snapshot of one endpoint's breaker
type Circuit struct {
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	NextRetryTime   time.Time `json:"next_retry_time"`
}

// Health tracks delivery outcomes for one endpoint
type Health struct {
	EndpointID          string        `json:"endpoint_id"`
	IsHealthy           bool          `json:"is_healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
	ActiveConnections   int           `json:"active_connections"`
	TotalRequests       int64         `json:"total_requests"`
	TotalFailures       int64         `json:"total_failures"`
	LastCheck           time.Time     `json:"last_check"`
}

// EventKind identifies a health or circuit transition
type EventKind int

const (
	EventCircuitOpened EventKind = iota + 1
	EventCircuitHalfOpened
	EventCircuitClosed
	EventEndpointUnhealthy
	EventEndpointRecovered
)

func (k EventKind) String() string {
	switch k {
	case EventCircuitOpened:
		return "circuit_opened"
	case EventCircuitHalfOpened:
		return "circuit_half_opened"
	case EventCircuitClosed:
		return "circuit_closed"
	case EventEndpointUnhealthy:
		return "endpoint_unhealthy"
	case EventEndpointRecovered:
		return "endpoint_recovered"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind       EventKind
	EndpointID string
	Circuit    Circuit
	At         time.Time
}
