package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *promclient.Registry
	collector     Collector
	recorder      *Recorder

	meter               metric.Meter
	queueLengthGauge    metric.Int64ObservableGauge
	statusCountGauge    metric.Int64ObservableGauge
	circuitStateGauge   metric.Int64ObservableGauge
	endpointHealthGauge metric.Int64ObservableGauge
	pendingEventsGauge  metric.Int64ObservableGauge
	throughputGauge     metric.Int64ObservableGauge
}

/* NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
 * The delivery recorder is usable at once; gauges start reporting after Observe
 */
func NewOTelExporter() (*OTelExporter, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"webhook-outbox",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		registry:      registry,
		meter:         meter,
	}

	oe.recorder, err = newRecorder(meter)
	if err != nil {
		return nil, fmt.Errorf("creating delivery recorder: %w", err)
	}

	return oe, nil
}

// Observe registers the observable gauges fed by collector; call it once
func (oe *OTelExporter) Observe(collector Collector) error {
	if oe.collector != nil {
		return fmt.Errorf("collector already registered")
	}
	oe.collector = collector

	var err error

	oe.queueLengthGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.queue.length",
		metric.WithDescription("Number of jobs waiting in each queue tier"),
		metric.WithUnit("{jobs}"),
		metric.WithInt64Callback(oe.observeMap(oe.collector.GetQueueLengths, "queue.tier")),
	)
	if err != nil {
		return fmt.Errorf("creating queue length gauge: %w", err)
	}

	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.delivery.status",
		metric.WithDescription("Number of stored deliveries by status"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeMap(oe.collector.GetStatusCounts, "delivery.status")),
	)
	if err != nil {
		return fmt.Errorf("creating status count gauge: %w", err)
	}

	oe.circuitStateGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.circuit.state",
		metric.WithDescription("Number of endpoints per circuit breaker state"),
		metric.WithUnit("{endpoints}"),
		metric.WithInt64Callback(oe.observeMap(oe.collector.GetCircuitStates, "circuit.state")),
	)
	if err != nil {
		return fmt.Errorf("creating circuit state gauge: %w", err)
	}

	oe.endpointHealthGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.endpoint.health",
		metric.WithDescription("Number of tracked endpoints by health"),
		metric.WithUnit("{endpoints}"),
		metric.WithInt64Callback(oe.observeMap(oe.collector.GetEndpointHealth, "endpoint.health")),
	)
	if err != nil {
		return fmt.Errorf("creating endpoint health gauge: %w", err)
	}

	oe.pendingEventsGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.events.pending",
		metric.WithDescription("Number of emitted events waiting for a flush"),
		metric.WithUnit("{events}"),
		metric.WithInt64Callback(oe.observePending),
	)
	if err != nil {
		return fmt.Errorf("creating pending events gauge: %w", err)
	}

	oe.throughputGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.throughput",
		metric.WithDescription("Number of successful deliveries over time window"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeThroughput),
	)
	if err != nil {
		return fmt.Errorf("creating throughput gauge: %w", err)
	}

	return nil
}

// observeMap reports one observation per key of a labelled count
func (oe *OTelExporter) observeMap(get func(context.Context) (map[string]int64, error), key string) metric.Int64Callback {
	return func(ctx context.Context, observer metric.Int64Observer) error {
		counts, err := get(ctx)
		if err != nil {
			return err
		}
		for label, n := range counts {
			observer.Observe(n, metric.WithAttributes(attribute.String(key, label)))
		}
		return nil
	}
}

func (oe *OTelExporter) observePending(ctx context.Context, observer metric.Int64Observer) error {
	pending, err := oe.collector.GetPendingEvents(ctx)
	if err != nil {
		return err
	}
	observer.Observe(pending)
	return nil
}

// observeThroughput is a callback that reports throughput metrics
func (oe *OTelExporter) observeThroughput(ctx context.Context, observer metric.Int64Observer) error {
	throughput, err := oe.collector.GetThroughput(ctx)
	if err != nil {
		return err
	}

	observer.Observe(throughput.LastMinute, metric.WithAttributes(
		attribute.String("time.window", "1m"),
	))
	observer.Observe(throughput.LastFiveMinutes, metric.WithAttributes(
		attribute.String("time.window", "5m"),
	))
	observer.Observe(throughput.LastFifteenMinutes, metric.WithAttributes(
		attribute.String("time.window", "15m"),
	))

	return nil
}

// Recorder returns the instrument set the dispatcher reports attempts to
func (oe *OTelExporter) Recorder() *Recorder {
	return oe.recorder
}

// ServeHTTP serves Prometheus-formatted metrics from the exporter's registry
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.HandlerFor(oe.registry, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}

/* Recorder counts delivery attempts and outcomes
 * It satisfies dispatcher.MetricsRecorder
 */
type Recorder struct {
	attempts        metric.Int64Counter
	attemptDuration metric.Float64Histogram
	deliveries      metric.Int64Counter
	attemptsPer     metric.Int64Histogram
}

func newRecorder(meter metric.Meter) (*Recorder, error) {
	var (
		r   Recorder
		err error
	)

	r.attempts, err = meter.Int64Counter(
		"webhook.delivery.attempts",
		metric.WithDescription("HTTP attempts made by the dispatcher"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempts counter: %w", err)
	}

	r.attemptDuration, err = meter.Float64Histogram(
		"webhook.delivery.attempt.duration",
		metric.WithDescription("Latency of a single delivery attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempt duration histogram: %w", err)
	}

	r.deliveries, err = meter.Int64Counter(
		"webhook.deliveries",
		metric.WithDescription("Deliveries that reached a terminal status"),
		metric.WithUnit("{deliveries}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating deliveries counter: %w", err)
	}

	r.attemptsPer, err = meter.Int64Histogram(
		"webhook.delivery.attempts_per_delivery",
		metric.WithDescription("Attempts needed before a delivery reached a terminal status"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempts per delivery histogram: %w", err)
	}

	return &r, nil
}

// RecordAttempt records one HTTP attempt; status 0 means no response arrived
func (r *Recorder) RecordAttempt(endpointID string, httpStatus int, latency time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint.id", endpointID),
		attribute.String("http.status_class", statusClass(httpStatus)),
	)
	ctx := context.Background()
	r.attempts.Add(ctx, 1, attrs)
	r.attemptDuration.Record(ctx, latency.Seconds(), attrs)
}

func (r *Recorder) RecordDelivery(endpointID string, status webhook.DeliveryStatus, attempts int) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint.id", endpointID),
		attribute.String("delivery.status", status.String()),
	)
	ctx := context.Background()
	r.deliveries.Add(ctx, 1, attrs)
	r.attemptsPer.Record(ctx, int64(attempts), attrs)
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return fmt.Sprintf("%dxx", code/100)
}
