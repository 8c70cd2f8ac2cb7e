// Package dispatcher performs one event-to-endpoint delivery with signed,
// timeout-bounded HTTP attempts and a retry loop.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/payload"
	"github.com/marcelsud/webhook-outbox/webhook/retry"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
	"github.com/rs/zerolog"
)

// HTTPClient is the transport boundary; *http.Client satisfies it
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MetricsRecorder is an optional interface for recording delivery metrics.
type MetricsRecorder interface {
	RecordAttempt(endpointID string, httpStatus int, latency time.Duration)
	RecordDelivery(endpointID string, status webhook.DeliveryStatus, attempts int)
}

// Deliverer is what callers of the dispatcher depend on
type Deliverer interface {
	Dispatch(ctx context.Context, ev webhook.Event, ep webhook.Endpoint) (webhook.Delivery, error)
}

// Dispatcher sends events to endpoints
type Dispatcher struct {
	cfg     Config
	client  HTTPClient
	signer  signature.Signer
	retry   *retry.Manager
	metrics MetricsRecorder
	logger  zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c HTTPClient) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep overrides the backoff wait
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// New creates a dispatcher
func New(cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:    cfg,
		client: NewHTTPClient(),
		signer: signature.NewSigner(cfg.Signing.Algorithm, cfg.Signing.Prefix),
		retry:  retry.NewManager(cfg.Retry),
		logger: zerolog.Nop(),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewHTTPClient creates an HTTP client with standard transport settings.
// Attempt timeouts are applied per request through the context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Retry returns the retry manager used by the dispatcher
func (d *Dispatcher) Retry() *retry.Manager {
	return d.retry
}

/* Dispatch delivers ev to ep and returns the resulting delivery
 * Attempts run sequentially. The returned error is non-nil only when the
 * payload cannot be built or ctx ends; HTTP failures are recorded as attempts.
 */
func (d *Dispatcher) Dispatch(ctx context.Context, ev webhook.Event, ep webhook.Endpoint) (webhook.Delivery, error) {
	body, err := payload.Build(ev)
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("building payload: %w", err)
	}

	delivery := webhook.Delivery{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		EventID:    ev.ID,
		EventType:  ev.Type,
		URL:        ep.URL,
		Method:     http.MethodPost,
		Payload:    body,
		Status:     webhook.Pending,
		CreatedAt:  d.now(),
	}
	delivery.Headers = d.headers(delivery.ID, ev, ep, body)

	policy := d.retry.ForEndpoint(ep.Retry)
	maxAttempts := policy.MaxRetries + 1
	log := d.logger.With().
		Str("delivery_id", delivery.ID).
		Str("endpoint_id", ep.ID).
		Str("event_id", ev.ID).
		Logger()

	for n := 1; n <= maxAttempts; n++ {
		attempt, retryAfter := d.attempt(ctx, n, delivery)
		delivery.Attempts = append(delivery.Attempts, attempt)
		if d.metrics != nil {
			d.metrics.RecordAttempt(ep.ID, attempt.HTTPStatus, time.Duration(attempt.LatencyMs)*time.Millisecond)
		}

		if attempt.Succeeded() {
			log.Debug().Int("attempt", n).Int("status", attempt.HTTPStatus).Msg("delivery succeeded")
			return d.finish(delivery, webhook.Success), nil
		}

		if ctx.Err() != nil {
			return d.finish(delivery, webhook.Failed), ctx.Err()
		}

		if !retry.ShouldRetryAttempt(attempt) {
			log.Warn().Int("attempt", n).Int("status", attempt.HTTPStatus).Str("error", attempt.Error).Msg("delivery failed, not retryable")
			return d.finish(delivery, webhook.Failed), nil
		}

		if n == maxAttempts {
			break
		}

		delay := d.retry.Delay(policy, n)
		if d.cfg.HonorRetryAfter && retryAfter > delay {
			delay = min(retryAfter, policy.MaxDelay)
		}
		next := d.now().Add(delay)
		delivery.NextRetryAt = &next

		log.Debug().Int("attempt", n).Dur("delay", delay).Msg("retrying delivery")
		if err := d.sleep(ctx, delay); err != nil {
			return d.finish(delivery, webhook.Failed), err
		}
	}

	status := webhook.Exhausted
	if policy.MaxRetries == 0 {
		status = webhook.Failed
	}
	log.Warn().Int("attempts", len(delivery.Attempts)).Str("status", status.String()).Msg("delivery gave up")
	return d.finish(delivery, status), nil
}

func (d *Dispatcher) finish(delivery webhook.Delivery, status webhook.DeliveryStatus) webhook.Delivery {
	now := d.now()
	delivery.Status = status
	delivery.CompletedAt = &now
	delivery.NextRetryAt = nil
	if d.metrics != nil {
		d.metrics.RecordDelivery(delivery.EndpointID, status, len(delivery.Attempts))
	}
	return delivery
}

func (d *Dispatcher) headers(deliveryID string, ev webhook.Event, ep webhook.Endpoint, body []byte) map[string]string {
	ts := strconv.FormatInt(ev.Timestamp.Unix(), 10)
	h := map[string]string{
		"Content-Type":        "application/json",
		"User-Agent":          d.cfg.UserAgent,
		"X-Webhook-Id":        ev.ID,
		"X-Webhook-Event":     string(ev.Type),
		"X-Webhook-Timestamp": ts,
		"X-Webhook-Delivery":  deliveryID,
	}
	for k, v := range ep.Headers {
		h[k] = v
	}

	if secret := d.secretFor(ep); secret != "" {
		h[d.cfg.SignatureHeader] = d.signer.SignWithTimestamp(body, ev.Timestamp.Unix(), secret)
	} else {
		delete(h, d.cfg.SignatureHeader)
	}
	return h
}

// secretFor prefers the endpoint secret over the global one
func (d *Dispatcher) secretFor(ep webhook.Endpoint) string {
	if !d.cfg.Signing.Enabled {
		return ""
	}
	if ep.Secret != "" {
		return ep.Secret
	}
	return d.cfg.Signing.Secret
}

func (d *Dispatcher) attempt(ctx context.Context, n int, delivery webhook.Delivery) (webhook.Attempt, time.Duration) {
	attempt := webhook.Attempt{Number: n, Timestamp: d.now()}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, delivery.Method, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		attempt.Error = fmt.Sprintf("creating request: %v", err)
		return attempt, 0
	}
	for k, v := range delivery.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	attempt.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		attempt.Error = err.Error()
		return attempt, 0
	}
	defer resp.Body.Close()

	attempt.HTTPStatus = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, webhook.MaxResponseBody))
	if err == nil {
		attempt.ResponseBody = string(body)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	attempt.ResponseHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		attempt.ResponseHeaders[k] = resp.Header.Get(k)
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		retryAfter, _ = retry.ParseRetryAfter(resp.Header.Get("Retry-After"), d.now())
	}
	return attempt, retryAfter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
