package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

/* Redis implementation of the endpoint and delivery stores
 * Endpoints and deliveries are stored as JSON strings
 * Sets and sorted sets index them for listing
 */

const (
	endpointPrefix    = "endpoint"            // endpoint:{id}
	endpointIndexKey  = "endpoints"           // set of endpoint ids
	endpointURLPrefix = "endpoint:url"        // endpoint:url:{url} -> id
	deliveryPrefix    = "delivery"            // delivery:{id}
	deliveryIndexKey  = "deliveries"          // zset of delivery ids scored by created_at
	deliveryEPPrefix  = "deliveries:endpoint" // deliveries:endpoint:{id}
	snapshotKey       = "queue:snapshot"
)

type Repository struct {
	client      *redis.Client
	deliveryTTL time.Duration
}

// Option configures a Repository
type Option func(*Repository)

/* WithDeliveryTTL expires delivery records after ttl
 * Index entries for expired records are pruned lazily on listing
 */
func WithDeliveryTTL(ttl time.Duration) Option {
	return func(r *Repository) { r.deliveryTTL = ttl }
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int, opts ...Option) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return NewFromClient(client, opts...), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, opts ...Option) *Repository {
	r := &Repository{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Endpoints returns the endpoint store
func (r *Repository) Endpoints() *EndpointStore {
	return &EndpointStore{client: r.client}
}

// Deliveries returns the delivery store
func (r *Repository) Deliveries() *DeliveryStore {
	return &DeliveryStore{client: r.client, ttl: r.deliveryTTL}
}

// Snapshots returns the queue snapshot store
func (r *Repository) Snapshots() *SnapshotStore {
	return &SnapshotStore{client: r.client, key: snapshotKey}
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

func endpointKey(id string) string {
	return fmt.Sprintf("%s:%s", endpointPrefix, id)
}

func endpointURLKey(url string) string {
	return fmt.Sprintf("%s:%s", endpointURLPrefix, url)
}

func deliveryKey(id string) string {
	return fmt.Sprintf("%s:%s", deliveryPrefix, id)
}

func deliveryEndpointKey(endpointID string) string {
	return fmt.Sprintf("%s:%s", deliveryEPPrefix, endpointID)
}
