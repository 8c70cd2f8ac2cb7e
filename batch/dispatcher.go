package batch

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-outbox/queue"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/retry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

/* Dispatcher groups jobs per endpoint and delivers them in bounded batches
 * Jobs within a batch run concurrently; a failure never cancels its siblings
 * Failed jobs go back to the source with backoff until they run out of attempts
 */

type Option func(*Dispatcher)

func WithSource(s Source) Option {
	return func(d *Dispatcher) { d.source = s }
}

// WithRecorder persists every delivery a batch produces
func WithRecorder(r webhook.DeliveryWriter) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithOutcomes(o Outcomes) Option {
	return func(d *Dispatcher) { d.outcomes = o }
}

func WithGate(g Gate) Option {
	return func(d *Dispatcher) { d.gate = g }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type Dispatcher struct {
	cfg       Config
	deliverer Deliverer
	source    Source
	recorder  webhook.DeliveryWriter
	outcomes  Outcomes
	gate      Gate
	logger    zerolog.Logger
	now       func() time.Time
	events    chan Event

	mu       sync.Mutex
	pending  map[string][]queue.Job
	inFlight int
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	batches   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	requeued  atomic.Int64
	exhausted atomic.Int64
	dropped   atomic.Int64
}

func New(cfg Config, deliverer Deliverer, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:       cfg,
		deliverer: deliverer,
		logger:    zerolog.Nop(),
		now:       time.Now,
		events:    make(chan Event, cfg.EventBuffer),
		pending:   make(map[string][]queue.Job),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

func (d *Dispatcher) Config() Config {
	return d.cfg
}

/* AddJob appends a job to its endpoint's pending list
 * Reaching MaxBatchSize starts a batch for that endpoint right away
 */
func (d *Dispatcher) AddJob(job queue.Job) {
	id := d.add(job)
	if id == "" {
		return
	}

	d.mu.Lock()
	ctx := d.ctx
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if _, err := d.ProcessBatchForEndpoint(ctx, id); err != nil {
			d.logger.Debug().Err(err).Str("endpoint_id", id).Msg("size-triggered batch deferred")
		}
	}()
}

// add stores the job and returns the endpoint id when a batch is due
func (d *Dispatcher) add(job queue.Job) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := job.Endpoint.ID
	if d.cfg.Prioritize {
		d.pending[id] = insertJob(d.pending[id], job)
	} else {
		d.pending[id] = append(d.pending[id], job)
	}
	if len(d.pending[id]) >= d.cfg.MaxBatchSize {
		return id
	}
	return ""
}

// Pending returns the number of jobs waiting for a batch
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, jobs := range d.pending {
		n += len(jobs)
	}
	return n
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	inFlight := d.inFlight
	d.mu.Unlock()

	return Stats{
		Pending:   d.Pending(),
		InFlight:  inFlight,
		Batches:   d.batches.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Requeued:  d.requeued.Load(),
		Exhausted: d.exhausted.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// take claims up to MaxBatchSize jobs for one endpoint and reserves a batch slot
func (d *Dispatcher) take(endpointID string) ([]queue.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight >= d.cfg.MaxConcurrentBatches {
		return nil, ErrTooManyBatches
	}
	pending := d.pending[endpointID]
	if len(pending) == 0 {
		return nil, nil
	}
	if d.gate != nil && !d.gate.Allow(endpointID) {
		return nil, ErrEndpointUnavailable
	}

	n := min(len(pending), d.cfg.MaxBatchSize)
	jobs := append([]queue.Job(nil), pending[:n]...)
	if n == len(pending) {
		delete(d.pending, endpointID)
	} else {
		d.pending[endpointID] = append([]queue.Job(nil), pending[n:]...)
	}
	d.inFlight++
	return jobs, nil
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.inFlight--
	d.mu.Unlock()
}

/* ProcessBatchForEndpoint delivers the next batch for one endpoint
 * Returns ErrTooManyBatches when every batch slot is busy and
 * ErrEndpointUnavailable when the gate refuses the endpoint; pending jobs
 * stay queued in both cases
 */
func (d *Dispatcher) ProcessBatchForEndpoint(ctx context.Context, endpointID string) (Result, error) {
	jobs, err := d.take(endpointID)
	if err != nil || len(jobs) == 0 {
		return Result{EndpointID: endpointID}, err
	}
	defer d.release()

	res := Result{
		BatchID:    uuid.NewString(),
		EndpointID: endpointID,
		Jobs:       len(jobs),
		StartedAt:  d.now(),
		Deliveries: make([]webhook.Delivery, len(jobs)),
	}
	d.batches.Add(1)
	d.emit(EventBatchStarted, res.BatchID, endpointID, "")

	log := d.logger.With().Str("batch_id", res.BatchID).Str("endpoint_id", endpointID).Logger()
	log.Debug().Int("jobs", len(jobs)).Msg("batch started")

	ok := make([]bool, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			res.Deliveries[i], ok[i] = d.deliver(ctx, job, log)
			return nil
		})
	}
	_ = g.Wait()

	for i, job := range jobs {
		if ok[i] {
			res.Succeeded++
			continue
		}
		res.Failed++
		d.failed.Add(1)
		d.retryJob(job, &res)
	}
	d.succeeded.Add(int64(res.Succeeded))

	res.Duration = d.now().Sub(res.StartedAt)
	res.Status = Completed
	kind := EventBatchCompleted
	if res.Failed > 0 {
		res.Status = Failed
		kind = EventBatchFailed
	}
	d.emit(kind, res.BatchID, endpointID, "")

	log.Info().
		Str("status", res.Status.String()).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("requeued", res.Requeued).
		Dur("duration", res.Duration).
		Msg("batch finished")
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, job queue.Job, log zerolog.Logger) (webhook.Delivery, bool) {
	if d.outcomes != nil {
		d.outcomes.OnRequestStart(job.Endpoint.ID)
	}
	start := d.now()
	delivery, err := d.deliverer.Dispatch(ctx, job.Event, job.Endpoint)
	success := err == nil && delivery.Status == webhook.Success
	if d.outcomes != nil {
		d.outcomes.OnRequestComplete(job.Endpoint.ID, success, d.now().Sub(start))
	}
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("dispatch error")
	}

	if d.recorder != nil && delivery.ID != "" {
		// a detached context so a cancelled batch still records what happened
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := d.recorder.Add(recordCtx, delivery); err != nil {
			log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("recording delivery")
		}
		cancel()
	}
	return delivery, success
}

func (d *Dispatcher) maxAttempts(job queue.Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return d.cfg.MaxAttempts
}

func (d *Dispatcher) retryJob(job queue.Job, res *Result) {
	job.Attempts++
	if job.Attempts >= d.maxAttempts(job) {
		res.Exhausted++
		d.exhausted.Add(1)
		d.emit(EventJobExhausted, res.BatchID, job.Endpoint.ID, job.ID)
		d.logger.Warn().Str("job_id", job.ID).Str("event_id", job.Event.ID).Int("attempts", job.Attempts).Msg("job exhausted")
		return
	}

	r := d.cfg.Retry
	next := d.now().Add(retry.NextRetryDelay(job.Attempts, r.BaseDelay, r.Multiplier, r.MaxDelay, r.Jitter))
	job.ScheduledAt = next
	job.NextRetryAt = &next

	if d.source == nil || !d.source.Enqueue(job) {
		res.Dropped++
		d.dropped.Add(1)
		d.emit(EventJobDropped, res.BatchID, job.Endpoint.ID, job.ID)
		d.logger.Error().Str("job_id", job.ID).Str("event_id", job.Event.ID).Msg("requeue rejected, job dropped")
		return
	}
	res.Requeued++
	d.requeued.Add(1)
	d.emit(EventJobRequeued, res.BatchID, job.Endpoint.ID, job.ID)
}

/* ProcessAll drains the source into pending lists and runs batches for
 * every endpoint until nothing is pending or no progress can be made
 */
func (d *Dispatcher) ProcessAll(ctx context.Context) []Result {
	if d.source != nil {
		for {
			job, ok := d.source.Dequeue()
			if !ok {
				break
			}
			d.add(job)
		}
	}

	d.mu.Lock()
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Strings(ids)

	var (
		mu      sync.Mutex
		results []Result
		g       errgroup.Group
	)
	g.SetLimit(d.cfg.MaxConcurrentBatches)
	for _, id := range ids {
		g.Go(func() error {
			for ctx.Err() == nil {
				res, err := d.ProcessBatchForEndpoint(ctx, id)
				if err != nil || res.Jobs == 0 {
					return nil
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Start runs ProcessAll every FlushInterval until Stop
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.loop(d.ctx)
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessAll(ctx)
		}
	}
}

/* Stop ends the sweep, waits for in-flight batches and hands jobs that
 * never left their pending list back to the source
 */
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.running = false
		d.cancel()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn().Int("in_flight", d.Stats().InFlight).Msg("batch shutdown timed out")
		return ctx.Err()
	}

	if d.source == nil {
		return nil
	}

	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string][]queue.Job)
	d.mu.Unlock()

	for _, jobs := range pending {
		for _, job := range jobs {
			if !d.source.Enqueue(job) {
				d.dropped.Add(1)
				d.emit(EventJobDropped, "", job.Endpoint.ID, job.ID)
			}
		}
	}
	return nil
}

// emit publishes without blocking
func (d *Dispatcher) emit(kind EventKind, batchID, endpointID, jobID string) {
	select {
	case d.events <- Event{Kind: kind, BatchID: batchID, EndpointID: endpointID, JobID: jobID, At: d.now()}:
	default:
	}
}
