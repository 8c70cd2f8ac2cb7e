package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/dispatcher"
	"github.com/marcelsud/webhook-outbox/webhook/validator"
	"github.com/rs/zerolog"
)

/* Engine is the public facade of the delivery system
 * Events are buffered by Emit and fanned out to matching endpoints on Flush,
 * either inline through the dispatcher or through a Scheduler
 */

// Scheduler takes over delivery of matched (event, endpoint) pairs
type Scheduler interface {
	Schedule(ctx context.Context, ev webhook.Event, ep webhook.Endpoint) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Balancer resolves failover groups and learns from inline delivery outcomes
type Balancer interface {
	SelectEndpoint(candidates []webhook.Endpoint) (webhook.Endpoint, error)
	OnRequestStart(endpointID string)
	OnRequestComplete(endpointID string, success bool, responseTime time.Duration)
}

// UseCase is the engine as seen by the HTTP layer
type UseCase interface {
	AddEndpoint(ctx context.Context, ep webhook.Endpoint) (webhook.Endpoint, error)
	UpdateEndpoint(ctx context.Context, id string, patch EndpointPatch) (webhook.Endpoint, error)
	PauseEndpoint(ctx context.Context, id string) (webhook.Endpoint, error)
	ResumeEndpoint(ctx context.Context, id string) (webhook.Endpoint, error)
	RemoveEndpoint(ctx context.Context, id string) error
	GetEndpoint(ctx context.Context, id string) (webhook.Endpoint, error)
	ListEndpoints(ctx context.Context) ([]webhook.Endpoint, error)
	ProbeEndpoint(ctx context.Context, id string) (webhook.Delivery, error)
	Emit(ctx context.Context, ev webhook.Event) error
	EmitSync(ctx context.Context, ev webhook.Event) ([]webhook.Delivery, error)
	ListDeliveries(ctx context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error)
	Stats() Stats
}

type Option func(*Engine)

func WithDispatcher(d dispatcher.Deliverer) Option {
	return func(e *Engine) { e.dispatcher = d }
}

func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

func WithBalancer(b Balancer) Option {
	return func(e *Engine) { e.balancer = b }
}

func WithValidator(v *validator.Validator) Option {
	return func(e *Engine) { e.validator = v }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	cfg        Config
	endpoints  webhook.EndpointStore
	deliveries *CountingStore
	dispatcher dispatcher.Deliverer
	scheduler  Scheduler
	balancer   Balancer
	validator  *validator.Validator
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending []webhook.Event

	// flushMu serialises flushes so each buffered event is delivered once
	flushMu sync.Mutex

	// endpointMu serialises read-modify-write cycles on stored endpoints
	endpointMu sync.Mutex

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	trigger chan struct{}
	wg      sync.WaitGroup

	emitted atomic.Int64
	ignored atomic.Int64
}

// New creates an engine over the given stores; nothing runs until Start
func New(cfg Config, endpoints webhook.EndpointStore, deliveries webhook.DeliveryStore, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:        cfg,
		endpoints:  endpoints,
		deliveries: NewCountingStore(deliveries),
		logger:     zerolog.Nop(),
		now:        time.Now,
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.validator == nil {
		e.validator = validator.New(validator.Config{
			AllowPrivateHosts: cfg.AllowPrivateHosts,
			AllowedSchemes:    cfg.AllowedSchemes,
		})
	}
	if e.dispatcher == nil {
		e.dispatcher = dispatcher.New(dispatcher.DefaultConfig(), dispatcher.WithLogger(e.logger))
	}
	return e
}

// Deliveries returns the counting delivery store the engine writes to
func (e *Engine) Deliveries() *CountingStore {
	return e.deliveries
}

// Start launches the periodic flush and the scheduler, if any
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return nil
	}

	if e.scheduler != nil {
		if err := e.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go e.loop(loopCtx)

	e.logger.Info().
		Dur("flush_interval", e.cfg.FlushInterval).
		Int("batch_size", e.cfg.BatchSize).
		Bool("scheduled", e.scheduler != nil).
		Msg("webhook engine started")
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}
		if err := e.Flush(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("flushing events")
		}
	}
}

/* Shutdown stops the flush loop, flushes what is still buffered, stops the
 * scheduler and closes stores that hold connections
 */
func (e *Engine) Shutdown(ctx context.Context) error {
	e.runMu.Lock()
	wasRunning := e.running
	if e.running {
		e.running = false
		e.cancel()
	}
	e.runMu.Unlock()
	e.wg.Wait()

	var errs []error
	if err := e.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.scheduler != nil && wasRunning {
		if err := e.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if closer, ok := e.endpoints.(webhook.Closer); ok {
		if err := closer.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.deliveries.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	e.logger.Info().Int("pending", e.PendingCount()).Msg("webhook engine stopped")
	return errors.Join(errs...)
}

// ListDeliveries returns stored deliveries newest first
func (e *Engine) ListDeliveries(ctx context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	return e.deliveries.List(ctx, filter)
}

// PendingCount is the number of emitted events not yet flushed
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) Stats() Stats {
	return Stats{
		Pending:    e.PendingCount(),
		Emitted:    e.emitted.Load(),
		Ignored:    e.ignored.Load(),
		Deliveries: e.deliveries.Counts(),
	}
}
