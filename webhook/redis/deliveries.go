package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/redis/go-redis/v9"
)

// listPageSize is how many index entries are fetched per round trip when listing
const listPageSize = 100

// DeliveryStore implements webhook.DeliveryStore on Redis
type DeliveryStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Add stores a delivery and indexes it by creation time
func (s *DeliveryStore) Add(ctx context.Context, d webhook.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling delivery: %w", err)
	}

	score := float64(d.CreatedAt.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, deliveryKey(d.ID), data, s.ttl)
		pipe.ZAdd(ctx, deliveryIndexKey, redis.Z{Score: score, Member: d.ID})
		pipe.ZAdd(ctx, deliveryEndpointKey(d.EndpointID), redis.Z{Score: score, Member: d.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}
	return nil
}

/* List returns matching deliveries newest first
 * The endpoint index is used when the filter names an endpoint
 */
func (s *DeliveryStore) List(ctx context.Context, f webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	index := deliveryIndexKey
	if f.EndpointID != "" {
		index = deliveryEndpointKey(f.EndpointID)
	}

	var expired []interface{}
	defer func() {
		if len(expired) > 0 {
			// TTL removed the records; drop their index entries once paging is done
			s.client.ZRem(ctx, index, expired...)
		}
	}()

	out := make([]webhook.Delivery, 0)
	for start := int64(0); ; start += listPageSize {
		ids, err := s.client.ZRevRange(ctx, index, start, start+listPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("listing delivery ids: %w", err)
		}
		if len(ids) == 0 {
			return out, nil
		}

		page, missing, err := s.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		expired = append(expired, missing...)

		for _, d := range page {
			if !f.Matches(d) {
				continue
			}
			out = append(out, d)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}

		if len(ids) < listPageSize {
			return out, nil
		}
	}
}

func (s *DeliveryStore) load(ctx context.Context, ids []string) ([]webhook.Delivery, []interface{}, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = deliveryKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("getting deliveries: %w", err)
	}

	deliveries := make([]webhook.Delivery, 0, len(values))
	var missing []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var d webhook.Delivery
		if err := json.Unmarshal([]byte(str), &d); err != nil {
			return nil, nil, fmt.Errorf("unmarshaling delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, missing, nil
}
