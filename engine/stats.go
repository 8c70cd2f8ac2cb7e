package engine

import (
	"context"
	"sync"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// Stats is what the engine exposes to metrics
type Stats struct {
	Pending    int                              `json:"pending"`
	Emitted    int64                            `json:"emitted"`
	Ignored    int64                            `json:"ignored"`
	Deliveries map[webhook.DeliveryStatus]int64 `json:"-"`
}

/* CountingStore counts deliveries by status as they are stored
 * Share one instance between the engine and any pipeline recorder so both
 * delivery paths are counted
 */
type CountingStore struct {
	webhook.DeliveryStore

	mu     sync.Mutex
	counts map[webhook.DeliveryStatus]int64
}

func NewCountingStore(inner webhook.DeliveryStore) *CountingStore {
	if cs, ok := inner.(*CountingStore); ok {
		return cs
	}
	return &CountingStore{DeliveryStore: inner, counts: make(map[webhook.DeliveryStatus]int64)}
}

func (s *CountingStore) Add(ctx context.Context, d webhook.Delivery) error {
	if err := s.DeliveryStore.Add(ctx, d); err != nil {
		return err
	}
	s.mu.Lock()
	s.counts[d.Status]++
	s.mu.Unlock()
	return nil
}

// Counts returns a copy of the per-status totals
func (s *CountingStore) Counts() map[webhook.DeliveryStatus]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[webhook.DeliveryStatus]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Close forwards to the wrapped store when it holds resources
func (s *CountingStore) Close(ctx context.Context) error {
	if closer, ok := s.DeliveryStore.(webhook.Closer); ok {
		return closer.Close(ctx)
	}
	return nil
}
