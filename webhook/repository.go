package webhook

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// EndpointReader provides read operations for endpoints
type EndpointReader interface {
	/* Get returns ErrNotFound when no endpoint has the given id
	 * Callers should check with errors.Is
	 */
	Get(ctx context.Context, id string) (Endpoint, error)
	List(ctx context.Context) ([]Endpoint, error)
}

// EndpointWriter provides write operations for endpoints
type EndpointWriter interface {
	/* Add stores a new endpoint
	 * Returns ErrConflict when another endpoint already uses the URL
	 */
	Add(ctx context.Context, endpoint Endpoint) error
	Update(ctx context.Context, id string, endpoint Endpoint) error
	Remove(ctx context.Context, id string) error
}

/* TriggerMarker is implemented by endpoint stores that can stamp
 * LastTriggeredAt without rewriting the rest of the record
 */
type TriggerMarker interface {
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type EndpointStore interface {
	EndpointReader
	EndpointWriter
}

// DeliveryFilter narrows a delivery listing; zero fields match everything
type DeliveryFilter struct {
	EndpointID string
	EventType  EventType
	Status     DeliveryStatus
	Limit      int
}

// Matches reports whether the delivery satisfies every set field of the filter
func (f DeliveryFilter) Matches(d Delivery) bool {
	if f.EndpointID != "" && d.EndpointID != f.EndpointID {
		return false
	}
	if f.EventType != "" && d.EventType != f.EventType {
		return false
	}
	if f.Status != 0 && d.Status != f.Status {
		return false
	}
	return true
}

// DeliveryWriter provides write operations for deliveries
type DeliveryWriter interface {
	Add(ctx context.Context, delivery Delivery) error
}

// DeliveryReader provides read operations for deliveries
type DeliveryReader interface {
	/* List returns deliveries newest first
	 * Listing never mutates state, so repeated calls return the same result
	 */
	List(ctx context.Context, filter DeliveryFilter) ([]Delivery, error)
}

type DeliveryStore interface {
	DeliveryWriter
	DeliveryReader
}

// Closer is implemented by stores that hold connections
type Closer interface {
	Close(ctx context.Context) error
}
