package balancer

import (
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/rs/zerolog"
)

/* Balancer tracks per-endpoint health and a circuit breaker per endpoint
 * Circuits open after FailureThreshold failures and admit one trial once
 * RecoveryTimeout has passed
 */

var ErrNoHealthyEndpoints = errors.New("no healthy endpoints available")

const (
	DefaultFailureThreshold   = 5
	DefaultRecoveryTimeout    = 60 * time.Second
	DefaultUnhealthyThreshold = 3
	DefaultEventBuffer        = 256

	// the response time estimate keeps 4/5 of the previous average
	smoothingKeep  = 4
	smoothingTotal = 5
)

type Config struct {
	Strategy           Strategy
	FailureThreshold   int
	RecoveryTimeout    time.Duration
	UnhealthyThreshold int
	EventBuffer        int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// Stats summarises every tracked endpoint
type Stats struct {
	Endpoints []Health      `json:"endpoints"`
	Circuits  map[State]int `json:"-"`
	Healthy   int           `json:"healthy"`
	Unhealthy int           `json:"unhealthy"`
}

type Option func(*Balancer)

func WithLogger(l zerolog.Logger) Option {
	return func(b *Balancer) { b.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(b *Balancer) { b.now = now }
}

// WithRandom replaces the source used by the weighted and random strategies; fn returns [0, n)
func WithRandom(fn func(n int) int) Option {
	return func(b *Balancer) { b.random = fn }
}

type Balancer struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	random func(n int) int
	events chan Event

	mu             sync.Mutex
	health         map[string]*Health
	circuits       map[string]*Circuit
	samples        map[string]int64
	rrCursor       int
	halfOpenCursor int
}

func New(cfg Config, opts ...Option) *Balancer {
	cfg = cfg.withDefaults()
	b := &Balancer{
		cfg:      cfg,
		logger:   zerolog.Nop(),
		now:      time.Now,
		random:   rand.IntN,
		events:   make(chan Event, cfg.EventBuffer),
		health:   make(map[string]*Health),
		circuits: make(map[string]*Circuit),
		samples:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Balancer) Events() <-chan Event {
	return b.events
}

func (b *Balancer) healthLocked(id string) *Health {
	h, ok := b.health[id]
	if !ok {
		h = &Health{EndpointID: id, IsHealthy: true}
		b.health[id] = h
	}
	return h
}

func (b *Balancer) circuitLocked(id string) *Circuit {
	c, ok := b.circuits[id]
	if !ok {
		c = &Circuit{State: Closed}
		b.circuits[id] = c
	}
	return c
}

// OnRequestStart marks one delivery in flight
func (b *Balancer) OnRequestStart(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthLocked(id).ActiveConnections++
}

// OnRequestComplete records a finished delivery and drives health and circuit transitions
func (b *Balancer) OnRequestComplete(id string, success bool, responseTime time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	h := b.healthLocked(id)
	if h.ActiveConnections > 0 {
		h.ActiveConnections--
	}
	h.TotalRequests++
	h.LastCheck = now
	if b.samples[id] == 0 {
		h.AvgResponseTime = responseTime
	} else {
		h.AvgResponseTime = (smoothingKeep*h.AvgResponseTime + (smoothingTotal-smoothingKeep)*responseTime) / smoothingTotal
	}
	b.samples[id]++

	c := b.circuitLocked(id)
	if success {
		h.ConsecutiveFailures = 0
		if !h.IsHealthy {
			h.IsHealthy = true
			b.emit(EventEndpointRecovered, id, *c)
		}
		if c.State == HalfOpen {
			c.State = Closed
			c.FailureCount = 0
			b.logger.Info().Str("endpoint_id", id).Msg("circuit closed")
			b.emit(EventCircuitClosed, id, *c)
		}
		return
	}

	h.TotalFailures++
	h.ConsecutiveFailures++
	if h.IsHealthy && h.ConsecutiveFailures >= b.cfg.UnhealthyThreshold {
		h.IsHealthy = false
		b.logger.Warn().Str("endpoint_id", id).Int("consecutive_failures", h.ConsecutiveFailures).Msg("endpoint unhealthy")
		b.emit(EventEndpointUnhealthy, id, *c)
	}

	c.FailureCount++
	c.LastFailureTime = now
	switch c.State {
	case HalfOpen:
		b.openLocked(id, c, now)
	case Closed:
		if c.FailureCount >= b.cfg.FailureThreshold {
			b.openLocked(id, c, now)
		}
	}
}

func (b *Balancer) openLocked(id string, c *Circuit, now time.Time) {
	c.State = Open
	c.NextRetryTime = now.Add(b.cfg.RecoveryTimeout)
	b.logger.Warn().
		Str("endpoint_id", id).
		Int("failures", c.FailureCount).
		Time("next_retry", c.NextRetryTime).
		Msg("circuit opened")
	b.emit(EventCircuitOpened, id, *c)
}

/* tryHalfOpenLocked admits one trial for an endpoint whose circuit timer elapsed
 * It applies to open circuits and to half-open circuits whose previous trial
 * never reported back; the trial must complete before NextRetryTime
 */
func (b *Balancer) tryHalfOpenLocked(id string, now time.Time) bool {
	c, ok := b.circuits[id]
	if !ok || c.State == Closed || now.Before(c.NextRetryTime) {
		return false
	}
	c.State = HalfOpen
	c.NextRetryTime = now.Add(b.cfg.RecoveryTimeout)
	b.logger.Info().Str("endpoint_id", id).Msg("circuit half-open")
	b.emit(EventCircuitHalfOpened, id, *c)
	return true
}

// Allow reports whether deliveries to the endpoint may proceed
func (b *Balancer) Allow(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[id]
	if !ok || c.State == Closed {
		return true
	}
	if c.State == HalfOpen && b.now().Before(c.NextRetryTime) {
		return true
	}
	return b.tryHalfOpenLocked(id, b.now())
}

/* SelectEndpoint chooses one deliverable endpoint from candidates
 * At most one elapsed circuit is admitted per call and the admitted endpoint
 * is returned so its trial runs; the scan start rotates so every recovering
 * endpoint eventually gets one. Endpoints with a trial in flight are skipped
 */
func (b *Balancer) SelectEndpoint(candidates []webhook.Endpoint) (webhook.Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(candidates) == 0 {
		return webhook.Endpoint{}, ErrNoHealthyEndpoints
	}

	now := b.now()
	start := b.halfOpenCursor % len(candidates)
	b.halfOpenCursor++
	for i := range candidates {
		ep := candidates[(start+i)%len(candidates)]
		if !ep.Deliverable() {
			continue
		}
		if b.tryHalfOpenLocked(ep.ID, now) {
			return ep, nil
		}
	}

	pool := make([]webhook.Endpoint, 0, len(candidates))
	var degraded []webhook.Endpoint
	for _, ep := range candidates {
		if !ep.Deliverable() {
			continue
		}
		if c, ok := b.circuits[ep.ID]; ok && c.State != Closed {
			continue
		}
		if !b.healthLocked(ep.ID).IsHealthy {
			degraded = append(degraded, ep)
			continue
		}
		pool = append(pool, ep)
	}

	// unhealthy endpoints whose circuit is still closed serve when nothing healthy is left
	if len(pool) == 0 {
		pool = degraded
	}
	if len(pool) == 0 {
		return webhook.Endpoint{}, ErrNoHealthyEndpoints
	}
	return b.pick(pool), nil
}

// Health returns the tracked health of an endpoint
func (b *Balancer) Health(id string) (Health, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.health[id]
	if !ok {
		return Health{EndpointID: id, IsHealthy: true}, false
	}
	return *h, true
}

// Circuit returns the breaker state of an endpoint; untracked endpoints are closed
func (b *Balancer) Circuit(id string) Circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[id]; ok {
		return *c
	}
	return Circuit{State: Closed}
}

func (b *Balancer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Endpoints: make([]Health, 0, len(b.health)),
		Circuits:  map[State]int{Closed: 0, Open: 0, HalfOpen: 0},
	}
	for _, h := range b.health {
		s.Endpoints = append(s.Endpoints, *h)
		if h.IsHealthy {
			s.Healthy++
		} else {
			s.Unhealthy++
		}
	}
	for _, c := range b.circuits {
		s.Circuits[c.State]++
	}
	sort.Slice(s.Endpoints, func(i, j int) bool { return s.Endpoints[i].EndpointID < s.Endpoints[j].EndpointID })
	return s
}

// Reset forgets everything known about an endpoint
func (b *Balancer) Reset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.health, id)
	delete(b.circuits, id)
	delete(b.samples, id)
}

// emit publishes without blocking; the caller holds mu
func (b *Balancer) emit(kind EventKind, id string, c Circuit) {
	select {
	case b.events <- Event{Kind: kind, EndpointID: id, Circuit: c, At: b.now()}:
	default:
	}
}
