// Package memory provides in-process implementations of the endpoint and delivery stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
)

/* EndpointStore keeps endpoints in a mutex-guarded map
 * Values are cloned on the way in and out so callers never share state
 */
type EndpointStore struct {
	mu        sync.RWMutex
	endpoints map[string]webhook.Endpoint
	urls      map[string]string // url -> endpoint id
}

// NewEndpointStore creates an empty endpoint store
func NewEndpointStore() *EndpointStore {
	return &EndpointStore{
		endpoints: make(map[string]webhook.Endpoint),
		urls:      make(map[string]string),
	}
}

// Add stores a new endpoint; URLs are unique
func (s *EndpointStore) Add(_ context.Context, ep webhook.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.endpoints[ep.ID]; exists {
		return webhook.Conflict("endpoint", "endpoint id already exists: "+ep.ID)
	}
	if _, exists := s.urls[ep.URL]; exists {
		return webhook.Conflict("endpoint", "endpoint url already registered: "+ep.URL)
	}

	s.endpoints[ep.ID] = ep.Clone()
	s.urls[ep.URL] = ep.ID
	return nil
}

// Update replaces an existing endpoint
func (s *EndpointStore) Update(_ context.Context, id string, ep webhook.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.endpoints[id]
	if !exists {
		return webhook.NotFound("endpoint", id)
	}
	if owner, taken := s.urls[ep.URL]; taken && owner != id {
		return webhook.Conflict("endpoint", "endpoint url already registered: "+ep.URL)
	}

	delete(s.urls, current.URL)
	ep.ID = id
	s.endpoints[id] = ep.Clone()
	s.urls[ep.URL] = id
	return nil
}

// Remove deletes an endpoint
func (s *EndpointStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.endpoints[id]
	if !exists {
		return webhook.NotFound("endpoint", id)
	}
	delete(s.urls, current.URL)
	delete(s.endpoints, id)
	return nil
}

// MarkTriggered stamps LastTriggeredAt in place
func (s *EndpointStore) MarkTriggered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, exists := s.endpoints[id]
	if !exists {
		return webhook.NotFound("endpoint", id)
	}
	ep.LastTriggeredAt = &at
	s.endpoints[id] = ep
	return nil
}

// Get returns an endpoint by id
func (s *EndpointStore) Get(_ context.Context, id string) (webhook.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, exists := s.endpoints[id]
	if !exists {
		return webhook.Endpoint{}, webhook.NotFound("endpoint", id)
	}
	return ep.Clone(), nil
}

// List returns all endpoints ordered by creation time
func (s *EndpointStore) List(_ context.Context) ([]webhook.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]webhook.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, ep.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
