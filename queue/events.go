package queue

import "time"

// EventKind identifies a queue lifecycle event
type EventKind int

const (
	EventEnqueued EventKind = iota + 1
	EventDelayed
	EventRejected
	EventEvicted
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventEnqueued:
		return "enqueued"
	case EventDelayed:
		return "delayed"
	case EventRejected:
		return "rejected"
	case EventEvicted:
		return "evicted"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is published on the manager's event channel
type Event struct {
	Kind       EventKind
	JobID      string
	EndpointID string
	Tier       Tier
	At         time.Time
}
