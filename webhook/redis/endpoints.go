package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/redis/go-redis/v9"
)

// EndpointStore implements webhook.EndpointStore on Redis
type EndpointStore struct {
	client *redis.Client
}

// Add stores a new endpoint, claiming its URL with SETNX
func (s *EndpointStore) Add(ctx context.Context, ep webhook.Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshaling endpoint: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, endpointURLKey(ep.URL), ep.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claiming endpoint url: %w", err)
	}
	if !claimed {
		return webhook.Conflict("endpoint", "endpoint url already registered: "+ep.URL)
	}

	created, err := s.client.SetNX(ctx, endpointKey(ep.ID), data, 0).Result()
	if err != nil || !created {
		// release the url claim so the endpoint can be retried
		s.client.Del(ctx, endpointURLKey(ep.URL))
		if err != nil {
			return fmt.Errorf("storing endpoint: %w", err)
		}
		return webhook.Conflict("endpoint", "endpoint id already exists: "+ep.ID)
	}

	if err := s.client.SAdd(ctx, endpointIndexKey, ep.ID).Err(); err != nil {
		return fmt.Errorf("indexing endpoint: %w", err)
	}
	return nil
}

// Update replaces an existing endpoint, moving its URL claim when the URL changes
func (s *EndpointStore) Update(ctx context.Context, id string, ep webhook.Endpoint) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	ep.ID = id
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshaling endpoint: %w", err)
	}

	if ep.URL != current.URL {
		claimed, err := s.client.SetNX(ctx, endpointURLKey(ep.URL), id, 0).Result()
		if err != nil {
			return fmt.Errorf("claiming endpoint url: %w", err)
		}
		if !claimed {
			return webhook.Conflict("endpoint", "endpoint url already registered: "+ep.URL)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, endpointKey(id), data, 0)
		if ep.URL != current.URL {
			pipe.Del(ctx, endpointURLKey(current.URL))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}
	return nil
}

/* MarkTriggered stamps LastTriggeredAt inside a WATCH transaction
 * A concurrent write to the endpoint wins and the stamp is skipped
 */
func (s *EndpointStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	key := endpointKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return webhook.NotFound("endpoint", id)
		}
		if err != nil {
			return fmt.Errorf("getting endpoint: %w", err)
		}

		var ep webhook.Endpoint
		if err := json.Unmarshal(data, &ep); err != nil {
			return fmt.Errorf("unmarshaling endpoint: %w", err)
		}
		ep.LastTriggeredAt = &at
		out, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("marshaling endpoint: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Remove deletes an endpoint and its indexes
func (s *EndpointStore) Remove(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, endpointKey(id))
		pipe.Del(ctx, endpointURLKey(current.URL))
		pipe.SRem(ctx, endpointIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing endpoint: %w", err)
	}
	return nil
}

// Get retrieves an endpoint by ID
func (s *EndpointStore) Get(ctx context.Context, id string) (webhook.Endpoint, error) {
	data, err := s.client.Get(ctx, endpointKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return webhook.Endpoint{}, webhook.NotFound("endpoint", id)
	}
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}

	var ep webhook.Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		return webhook.Endpoint{}, fmt.Errorf("unmarshaling endpoint: %w", err)
	}
	return ep, nil
}

// List returns all endpoints ordered by creation time
func (s *EndpointStore) List(ctx context.Context) ([]webhook.Endpoint, error) {
	ids, err := s.client.SMembers(ctx, endpointIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing endpoint ids: %w", err)
	}
	if len(ids) == 0 {
		return []webhook.Endpoint{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = endpointKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting endpoints: %w", err)
	}

	endpoints := make([]webhook.Endpoint, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var ep webhook.Endpoint
		if err := json.Unmarshal([]byte(str), &ep); err != nil {
			return nil, fmt.Errorf("unmarshaling endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].CreatedAt.Equal(endpoints[j].CreatedAt) {
			return endpoints[i].ID < endpoints[j].ID
		}
		return endpoints[i].CreatedAt.Before(endpoints[j].CreatedAt)
	})
	return endpoints, nil
}
