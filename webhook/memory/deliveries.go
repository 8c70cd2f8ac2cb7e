package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// DefaultMaxDeliveries bounds the in-memory delivery log
const DefaultMaxDeliveries = 10000

/* DeliveryStore keeps the most recent deliveries in a fixed ring
 * Once full, every Add overwrites the oldest inserted record in place
 */
type DeliveryStore struct {
	mu       sync.RWMutex
	ring     []webhook.Delivery
	next     int
	count    int
	capacity int
}

// NewDeliveryStore creates a delivery store holding at most capacity records (0 uses the default)
func NewDeliveryStore(capacity int) *DeliveryStore {
	if capacity <= 0 {
		capacity = DefaultMaxDeliveries
	}
	return &DeliveryStore{capacity: capacity}
}

// Add stores a delivery, overwriting the oldest once full
func (s *DeliveryStore) Add(_ context.Context, d webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ring == nil {
		s.ring = make([]webhook.Delivery, s.capacity)
	}
	s.ring[s.next] = d.Clone()
	s.next = (s.next + 1) % s.capacity
	if s.count < s.capacity {
		s.count++
	}
	return nil
}

/* List returns matching deliveries newest first by CreatedAt
 * Records with equal timestamps keep reverse insertion order
 */
func (s *DeliveryStore) List(_ context.Context, f webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	s.mu.RLock()
	out := make([]webhook.Delivery, 0)
	for i := 1; i <= s.count; i++ {
		d := s.ring[(s.next-i+s.capacity)%s.capacity]
		if f.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Len returns the number of stored deliveries
func (s *DeliveryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
