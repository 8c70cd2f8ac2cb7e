package batch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/marcelsud/webhook-outbox/queue"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/retry"
)

var (
	ErrTooManyBatches      = errors.New("too many concurrent batches")
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
)

const (
	DefaultMaxBatchSize         = 10
	DefaultMaxConcurrentBatches = 5
	DefaultFlushInterval        = time.Second
	DefaultMaxAttempts          = 3
	DefaultEventBuffer          = 256
)

type Config struct {
	MaxBatchSize         int
	MaxConcurrentBatches int
	FlushInterval        time.Duration

	// Prioritize orders pending jobs by priority instead of arrival
	Prioritize bool

	// MaxAttempts applies to jobs that do not carry their own limit
	MaxAttempts int

	// Retry spaces out requeued jobs
	Retry retry.Config

	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	d := retry.DefaultConfig()
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = d.BaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = d.MaxDelay
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = d.Multiplier
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// Deliverer performs one event delivery
type Deliverer interface {
	Dispatch(ctx context.Context, ev webhook.Event, ep webhook.Endpoint) (webhook.Delivery, error)
}

// Source is where the periodic sweep pulls work from and where failed jobs go back to
type Source interface {
	Dequeue() (queue.Job, bool)
	Enqueue(job queue.Job) bool
}

// Outcomes receives per-delivery results, typically the load balancer
type Outcomes interface {
	OnRequestStart(endpointID string)
	OnRequestComplete(endpointID string, success bool, responseTime time.Duration)
}

// Gate decides whether an endpoint may receive a batch
type Gate interface {
	Allow(endpointID string) bool
}

// Status of a processed batch
type Status int

const (
	Completed Status = iota + 1
	Failed
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result summarises one batch
type Result struct {
	BatchID    string
	EndpointID string
	Status     Status
	Jobs       int
	Succeeded  int
	Failed     int
	Requeued   int
	Exhausted  int
	Dropped    int
	Deliveries []webhook.Delivery
	StartedAt  time.Time
	Duration   time.Duration
}

// EventKind identifies a batch lifecycle event
type EventKind int

const (
	EventBatchStarted EventKind = iota + 1
	EventBatchCompleted
	EventBatchFailed
	EventJobRequeued
	EventJobExhausted
	EventJobDropped
)

func (k EventKind) String() string {
	switch k {
	case EventBatchStarted:
		return "batch_started"
	case EventBatchCompleted:
		return "batch_completed"
	case EventBatchFailed:
		return "batch_failed"
	case EventJobRequeued:
		return "job_requeued"
	case EventJobExhausted:
		return "job_exhausted"
	case EventJobDropped:
		return "job_dropped"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind       EventKind
	BatchID    string
	EndpointID string
	JobID      string
	At         time.Time
}

// Stats counts batches and jobs since the dispatcher was created
type Stats struct {
	Pending   int   `json:"pending"`
	InFlight  int   `json:"in_flight"`
	Batches   int64 `json:"batches"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Requeued  int64 `json:"requeued"`
	Exhausted int64 `json:"exhausted"`
	Dropped   int64 `json:"dropped"`
}

// insertJob places job in pending keeping the highest priority first, FIFO among equals
func insertJob(pending []queue.Job, job queue.Job) []queue.Job {
	i := sort.Search(len(pending), func(i int) bool { return pending[i].Priority < job.Priority })
	pending = append(pending, queue.Job{})
	copy(pending[i+1:], pending[i:])
	pending[i] = job
	return pending
}
