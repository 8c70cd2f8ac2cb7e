package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marcelsud/webhook-outbox/balancer"
	"github.com/marcelsud/webhook-outbox/batch"
	"github.com/marcelsud/webhook-outbox/queue"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/rs/zerolog"
)

/* Pipeline schedules deliveries through the queue, the batch dispatcher and
 * the load balancer instead of dispatching inline
 * Flow: Schedule -> queue tier -> batch per endpoint -> dispatcher -> recorder
 */

// DefaultPriorities orders operational and failure notifications ahead of engagement tracking
var DefaultPriorities = map[webhook.EventType]int{
	webhook.SystemMaintenance:     9,
	webhook.ProviderHealthChanged: 9,
	webhook.MessageFailed:         8,
	webhook.MessageBounced:        8,
	webhook.MessageDelivered:      6,
	webhook.MessageOpened:         3,
	webhook.MessageClicked:        3,
}

type Config struct {
	Queue    queue.Config
	Batch    batch.Config
	Balancer balancer.Config

	// Priorities overrides the priority per event type; unlisted types use DefaultPriority
	Priorities      map[webhook.EventType]int
	DefaultPriority int

	// MaxAttempts is stamped on every scheduled job
	MaxAttempts int
}

type Option func(*Pipeline)

func WithSnapshotStore(s queue.SnapshotStore) Option {
	return func(p *Pipeline) {
		p.persistent = true
		p.queueOpts = append(p.queueOpts, queue.WithSnapshotStore(s))
	}
}

// WithEndpointResolver reloads endpoints, and their secrets, for jobs restored from a snapshot
func WithEndpointResolver(r queue.EndpointResolver) Option {
	return func(p *Pipeline) { p.queueOpts = append(p.queueOpts, queue.WithEndpointResolver(r)) }
}

// WithRecorder persists every delivery the batches produce
func WithRecorder(r webhook.DeliveryWriter) Option {
	return func(p *Pipeline) { p.batchOpts = append(p.batchOpts, batch.WithRecorder(r)) }
}

// WithBalancer shares a balancer with other components instead of creating one
func WithBalancer(b *balancer.Balancer) Option {
	return func(p *Pipeline) { p.balancer = b }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Stats combines the view of each stage
type Stats struct {
	Queue    queue.Stats    `json:"queue"`
	Batch    batch.Stats    `json:"batch"`
	Balancer balancer.Stats `json:"balancer"`
}

type Pipeline struct {
	cfg      Config
	queue    *queue.Manager
	batch    *batch.Dispatcher
	balancer *balancer.Balancer
	logger   zerolog.Logger

	queueOpts  []queue.Option
	batchOpts  []batch.Option
	persistent bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New wires the stages together; nothing runs until Start
func New(cfg Config, deliverer batch.Deliverer, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.Priorities == nil {
		p.cfg.Priorities = DefaultPriorities
	}
	if p.cfg.DefaultPriority <= 0 {
		p.cfg.DefaultPriority = queue.DefaultPriority
	}

	if p.balancer == nil {
		p.balancer = balancer.New(cfg.Balancer, balancer.WithLogger(p.logger))
	}
	p.queue = queue.New(cfg.Queue, append([]queue.Option{queue.WithLogger(p.logger)}, p.queueOpts...)...)
	p.batch = batch.New(cfg.Batch, deliverer, append([]batch.Option{
		batch.WithSource(p.queue),
		batch.WithOutcomes(p.balancer),
		batch.WithGate(p.balancer),
		batch.WithLogger(p.logger),
	}, p.batchOpts...)...)
	return p
}

func (p *Pipeline) Queue() *queue.Manager {
	return p.queue
}

func (p *Pipeline) Batch() *batch.Dispatcher {
	return p.batch
}

func (p *Pipeline) Balancer() *balancer.Balancer {
	return p.balancer
}

// Priority returns the queue priority for an event type
func (p *Pipeline) Priority(t webhook.EventType) int {
	if prio, ok := p.cfg.Priorities[t]; ok {
		return queue.ClampPriority(prio)
	}
	return p.cfg.DefaultPriority
}

// Schedule enqueues one delivery; a full queue returns webhook.ErrQueueFull
func (p *Pipeline) Schedule(_ context.Context, ev webhook.Event, ep webhook.Endpoint) error {
	job := queue.Job{
		Event:       ev.Clone(),
		Endpoint:    ep.Clone(),
		Priority:    p.Priority(ev.Type),
		MaxAttempts: p.cfg.MaxAttempts,
	}
	if !p.queue.Enqueue(job) {
		return webhook.QueueFull(fmt.Sprintf("delivery queue full, event %s to endpoint %s rejected", ev.ID, ep.ID))
	}
	return nil
}

// Start restores the queue snapshot and starts the queue, the batch sweep and the event log
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	if err := p.queue.Start(ctx); err != nil {
		return fmt.Errorf("starting queue: %w", err)
	}
	p.batch.Start(ctx)

	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.observe()

	p.running = true
	p.logger.Info().Int("queued", p.queue.Size()).Msg("delivery pipeline started")
	return nil
}

/* Stop drains in-flight batches and hands pending jobs back to the queue
 * With a snapshot store the queue is saved for the next run; without one
 * every due job is delivered before Stop returns
 */
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false

	batchErr := p.batch.Stop(ctx)
	if batchErr == nil && !p.persistent {
		p.drain(ctx)
	}
	queueErr := p.queue.Stop(ctx)
	close(p.stop)
	p.wg.Wait()

	p.logger.Info().Int("queued", p.queue.Size()).Msg("delivery pipeline stopped")
	return errors.Join(batchErr, queueErr)
}

// drain runs batches until the queue holds nothing due or no batch makes progress
func (p *Pipeline) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if len(p.batch.ProcessAll(ctx)) == 0 {
			break
		}
	}
	if left := p.queue.Size() + p.batch.Pending(); left > 0 {
		p.logger.Warn().Int("jobs", left).Msg("undelivered jobs dropped at stop, no snapshot store configured")
	}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Queue:    p.queue.Stats(),
		Batch:    p.batch.Stats(),
		Balancer: p.balancer.Stats(),
	}
}
