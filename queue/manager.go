package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/rs/zerolog"
)

/* Manager is a bounded, priority-tiered job queue
 * Jobs scheduled in the future wait on a timer and join their tier when due
 * Dequeue always drains high before medium before low
 */

const (
	DefaultMaxQueueSize  = 10000
	DefaultJobTTL        = 24 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultEventBuffer   = 256

	saveTimeout = 5 * time.Second
)

type Config struct {
	MaxQueueSize  int
	JobTTL        time.Duration
	SweepInterval time.Duration
	EventBuffer   int
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.JobTTL <= 0 {
		c.JobTTL = DefaultJobTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// SnapshotStore persists the queue contents between runs
type SnapshotStore interface {
	// Load returns nil data when no snapshot exists
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Stats is a point-in-time view of the queue
/* EndpointResolver reloads the endpoint of a restored job
 * Snapshots never carry signing secrets, so restored jobs take theirs from the endpoint store
 */
type EndpointResolver func(ctx context.Context, id string) (webhook.Endpoint, error)

type Stats struct {
	High    int `json:"high"`
	Medium  int `json:"medium"`
	Low     int `json:"low"`
	Delayed int `json:"delayed"`
	Total   int `json:"total"`
}

type snapshot struct {
	High    []Job `json:"high"`
	Medium  []Job `json:"medium"`
	Low     []Job `json:"low"`
	Delayed []Job `json:"delayed,omitempty"`
}

type delayedJob struct {
	job   Job
	timer *time.Timer
}

type Option func(*Manager)

func WithSnapshotStore(s SnapshotStore) Option {
	return func(m *Manager) { m.store = s }
}

func WithEndpointResolver(r EndpointResolver) Option {
	return func(m *Manager) { m.resolve = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	cfg    Config
	store   SnapshotStore
	resolve EndpointResolver
	logger  zerolog.Logger
	now    func() time.Time
	events chan Event

	mu      sync.Mutex
	tiers   [len(tiers)][]Job
	delayed map[string]*delayedJob
	started bool
	stopped bool

	dirty chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
}

// New creates a manager; nothing runs until Start
func New(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		logger:  zerolog.Nop(),
		now:     time.Now,
		events:  make(chan Event, cfg.EventBuffer),
		delayed: make(map[string]*delayedJob),
		dirty:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events exposes queue lifecycle events; slow readers miss events rather than block the queue
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) Config() Config {
	return m.cfg
}

/* Enqueue adds a job, returning false when the queue is full
 * A job whose ScheduledAt lies in the future is held back until then
 */
func (m *Manager) Enqueue(job Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.Priority = ClampPriority(job.Priority)
	tier := TierFor(job.Priority)

	if m.sizeLocked() >= m.cfg.MaxQueueSize {
		m.emit(EventRejected, job, tier)
		return false
	}

	if job.ScheduledAt.After(now) {
		m.delayLocked(job, job.ScheduledAt.Sub(now))
		m.emit(EventDelayed, job, tier)
	} else {
		m.tiers[tier] = append(m.tiers[tier], job)
		m.emit(EventEnqueued, job, tier)
	}
	m.markDirty()
	return true
}

func (m *Manager) delayLocked(job Job, wait time.Duration) {
	id := job.ID
	if prev, ok := m.delayed[id]; ok {
		prev.timer.Stop()
	}
	m.delayed[id] = &delayedJob{
		job:   job,
		timer: time.AfterFunc(wait, func() { m.promote(id) }),
	}
}

func (m *Manager) promote(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dj, ok := m.delayed[id]
	if !ok || m.stopped {
		return
	}
	delete(m.delayed, id)

	tier := TierFor(dj.job.Priority)
	if m.sizeLocked() >= m.cfg.MaxQueueSize {
		m.logger.Warn().Str("job_id", id).Msg("queue full, dropping delayed job")
		m.emit(EventRejected, dj.job, tier)
	} else {
		m.tiers[tier] = append(m.tiers[tier], dj.job)
		m.emit(EventEnqueued, dj.job, tier)
	}
	m.markDirty()
}

// Dequeue pops the oldest job of the highest non-empty tier
func (m *Manager) Dequeue() (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tiers {
		if len(m.tiers[t]) == 0 {
			continue
		}
		job := m.tiers[t][0]
		m.tiers[t][0] = Job{}
		m.tiers[t] = m.tiers[t][1:]
		m.markDirty()
		return job, true
	}
	return Job{}, false
}

// RemoveJob deletes a queued or delayed job by id
func (m *Manager) RemoveJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dj, ok := m.delayed[id]; ok {
		dj.timer.Stop()
		delete(m.delayed, id)
		m.emit(EventRemoved, dj.job, TierFor(dj.job.Priority))
		m.markDirty()
		return true
	}

	for _, t := range tiers {
		for i, job := range m.tiers[t] {
			if job.ID != id {
				continue
			}
			m.tiers[t] = append(m.tiers[t][:i], m.tiers[t][i+1:]...)
			m.emit(EventRemoved, job, t)
			m.markDirty()
			return true
		}
	}
	return false
}

// Size counts queued and delayed jobs
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizeLocked()
}

func (m *Manager) sizeLocked() int {
	n := len(m.delayed)
	for _, t := range tiers {
		n += len(m.tiers[t])
	}
	return n
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		High:    len(m.tiers[High]),
		Medium:  len(m.tiers[Medium]),
		Low:     len(m.tiers[Low]),
		Delayed: len(m.delayed),
	}
	s.Total = s.High + s.Medium + s.Low + s.Delayed
	return s
}

// Sweep evicts jobs created more than JobTTL ago and returns how many were dropped
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.cfg.JobTTL)
	evicted := 0

	for _, t := range tiers {
		kept := m.tiers[t][:0]
		for _, job := range m.tiers[t] {
			if job.CreatedAt.Before(cutoff) {
				m.emit(EventEvicted, job, t)
				evicted++
				continue
			}
			kept = append(kept, job)
		}
		clear(m.tiers[t][len(kept):])
		m.tiers[t] = kept
	}

	for id, dj := range m.delayed {
		if dj.job.CreatedAt.Before(cutoff) {
			dj.timer.Stop()
			delete(m.delayed, id)
			m.emit(EventEvicted, dj.job, TierFor(dj.job.Priority))
			evicted++
		}
	}

	if evicted > 0 {
		m.logger.Info().Int("evicted", evicted).Msg("expired jobs evicted")
		m.markDirty()
	}
	return evicted
}

/* Start restores the last snapshot and launches the sweeper and persister
 * A missing snapshot is not an error
 */
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := m.restore(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.sweepLoop()

	if m.store != nil {
		m.wg.Add(1)
		go m.persistLoop()
	}
	return nil
}

// Stop halts background work and writes a final snapshot
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	for _, dj := range m.delayed {
		dj.timer.Stop()
	}
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()

	if m.store == nil {
		return nil
	}
	return m.save(ctx)
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) persistLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stop:
			return
		case <-m.dirty:
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			if err := m.save(ctx); err != nil {
				m.logger.Error().Err(err).Msg("saving queue snapshot")
			}
			cancel()
		}
	}
}

// markDirty coalesces snapshot requests; the caller holds mu
func (m *Manager) markDirty() {
	if m.store == nil {
		return
	}
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

// withoutSecrets copies jobs for a snapshot, dropping the endpoint signing secret
func withoutSecrets(jobs []Job) []Job {
	out := make([]Job, len(jobs))
	for i, job := range jobs {
		job.Endpoint.Secret = ""
		out[i] = job
	}
	return out
}

func (m *Manager) save(ctx context.Context) error {
	m.mu.Lock()
	snap := snapshot{
		High:   withoutSecrets(m.tiers[High]),
		Medium: withoutSecrets(m.tiers[Medium]),
		Low:    withoutSecrets(m.tiers[Low]),
	}
	for _, dj := range m.delayed {
		job := dj.job
		job.Endpoint.Secret = ""
		snap.Delayed = append(snap.Delayed, job)
	}
	m.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := m.store.Save(ctx, data); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (m *Manager) restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	data, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshaling snapshot: %w", err)
	}

	high, err := m.reattach(ctx, snap.High)
	if err != nil {
		return err
	}
	medium, err := m.reattach(ctx, snap.Medium)
	if err != nil {
		return err
	}
	low, err := m.reattach(ctx, snap.Low)
	if err != nil {
		return err
	}
	delayed, err := m.reattach(ctx, snap.Delayed)
	if err != nil {
		return err
	}
	snap.Delayed = delayed

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tiers[High] = append(m.tiers[High], high...)
	m.tiers[Medium] = append(m.tiers[Medium], medium...)
	m.tiers[Low] = append(m.tiers[Low], low...)

	now := m.now()
	for _, job := range snap.Delayed {
		if job.ScheduledAt.After(now) {
			m.delayLocked(job, job.ScheduledAt.Sub(now))
			continue
		}
		t := TierFor(job.Priority)
		m.tiers[t] = append(m.tiers[t], job)
	}

	m.logger.Info().Int("jobs", m.sizeLocked()).Msg("queue snapshot restored")
	return nil
}

/* reattach swaps each restored job's endpoint for the stored one
 * Jobs whose endpoint was removed meanwhile are dropped
 */
func (m *Manager) reattach(ctx context.Context, jobs []Job) ([]Job, error) {
	if m.resolve == nil {
		return jobs, nil
	}
	kept := jobs[:0]
	for _, job := range jobs {
		ep, err := m.resolve(ctx, job.Endpoint.ID)
		if errors.Is(err, webhook.ErrNotFound) {
			m.logger.Warn().Str("job_id", job.ID).Str("endpoint_id", job.Endpoint.ID).Msg("endpoint gone, dropping restored job")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving endpoint %s: %w", job.Endpoint.ID, err)
		}
		job.Endpoint = ep
		kept = append(kept, job)
	}
	return kept, nil
}

// emit publishes without blocking; the caller holds mu
func (m *Manager) emit(kind EventKind, job Job, tier Tier) {
	select {
	case m.events <- Event{Kind: kind, JobID: job.ID, EndpointID: job.Endpoint.ID, Tier: tier, At: m.now()}:
	default:
	}
}
