package engine

import (
	"slices"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxPending    = 10000
	DefaultWorkers       = 10
)

// Config for the engine. Zero values use defaults.
type Config struct {
	BatchSize     int           // pending events that trigger a flush, default 100
	FlushInterval time.Duration // default 5s
	MaxPending    int           // Emit fails with ErrQueueFull beyond this, default 10000
	Workers       int           // concurrent inline deliveries, default 10

	// EnabledEvents restricts accepted types; empty enables all
	EnabledEvents []webhook.EventType

	AllowPrivateHosts bool
	AllowedSchemes    []string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

func (c Config) enabled(t webhook.EventType) bool {
	return len(c.EnabledEvents) == 0 || slices.Contains(c.EnabledEvents, t)
}
