package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"golang.org/x/sync/errgroup"
)

// target is one matched (event, endpoint) pair
type target struct {
	event    webhook.Event
	endpoint webhook.Endpoint
}

/* Emit buffers an event for asynchronous delivery
 * Disabled event types are accepted and dropped. A full buffer returns
 * webhook.ErrQueueFull; reaching BatchSize triggers a flush
 */
func (e *Engine) Emit(ctx context.Context, ev webhook.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if !e.cfg.enabled(ev.Type) {
		e.ignored.Add(1)
		e.logger.Debug().Str("event_id", ev.ID).Str("event_type", ev.Type.String()).Msg("event type disabled, ignoring")
		return nil
	}

	e.mu.Lock()
	if len(e.pending) >= e.cfg.MaxPending {
		e.mu.Unlock()
		return webhook.QueueFull(fmt.Sprintf("event buffer full (%d pending)", e.cfg.MaxPending))
	}
	e.pending = append(e.pending, ev.Clone())
	n := len(e.pending)
	e.mu.Unlock()
	e.emitted.Add(1)

	if n < e.cfg.BatchSize {
		return nil
	}

	e.runMu.Lock()
	running := e.running
	e.runMu.Unlock()
	if running {
		select {
		case e.trigger <- struct{}{}:
		default:
		}
		return nil
	}
	return e.Flush(ctx)
}

// EmitSync delivers an event to every matching endpoint before returning
func (e *Engine) EmitSync(ctx context.Context, ev webhook.Event) ([]webhook.Delivery, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if !e.cfg.enabled(ev.Type) {
		e.ignored.Add(1)
		return nil, nil
	}
	e.emitted.Add(1)

	endpoints, err := e.endpoints.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	targets := e.resolve([]webhook.Event{ev}, endpoints)
	return e.deliver(ctx, targets)
}

// Flush drains the buffer, including events emitted while it runs
func (e *Engine) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	var errs []error
	for {
		e.mu.Lock()
		events := e.pending
		e.pending = nil
		e.mu.Unlock()
		if len(events) == 0 {
			break
		}

		err := e.flushEvents(ctx, events)
		if err != nil {
			errs = append(errs, err)
		}
		if err != nil || ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) flushEvents(ctx context.Context, events []webhook.Event) error {
	endpoints, err := e.endpoints.List(ctx)
	if err != nil {
		// put the events back so the next flush retries them
		e.mu.Lock()
		e.pending = append(events, e.pending...)
		e.mu.Unlock()
		return fmt.Errorf("listing endpoints: %w", err)
	}

	targets := e.resolve(events, endpoints)
	e.logger.Debug().Int("events", len(events)).Int("targets", len(targets)).Msg("flushing events")
	if len(targets) == 0 {
		return nil
	}

	if e.scheduler != nil {
		var errs []error
		for _, t := range targets {
			if err := e.scheduler.Schedule(ctx, t.event, t.endpoint); err != nil {
				e.logger.Warn().Err(err).Str("event_id", t.event.ID).Str("endpoint_id", t.endpoint.ID).Msg("scheduling delivery")
				errs = append(errs, err)
			}
		}
		e.touch(ctx, targets)
		return errors.Join(errs...)
	}

	_, err = e.deliver(ctx, targets)
	return err
}

/* resolve matches events to endpoints
 * Members of a failover group share one delivery per event, picked by the
 * balancer; without a balancer every member receives it
 */
func (e *Engine) resolve(events []webhook.Event, endpoints []webhook.Endpoint) []target {
	var targets []target
	for _, ev := range events {
		matched := webhook.MatchingEndpoints(endpoints, ev)
		if e.balancer == nil {
			for _, ep := range matched {
				targets = append(targets, target{event: ev, endpoint: ep.Clone()})
			}
			continue
		}

		groups := make(map[string][]webhook.Endpoint)
		var order []string
		for _, ep := range matched {
			if ep.Group == "" {
				targets = append(targets, target{event: ev, endpoint: ep.Clone()})
				continue
			}
			if _, ok := groups[ep.Group]; !ok {
				order = append(order, ep.Group)
			}
			groups[ep.Group] = append(groups[ep.Group], ep)
		}
		for _, g := range order {
			ep, err := e.balancer.SelectEndpoint(groups[g])
			if err != nil {
				e.logger.Warn().Err(err).Str("group", g).Str("event_id", ev.ID).Msg("no endpoint available in group")
				continue
			}
			targets = append(targets, target{event: ev, endpoint: ep.Clone()})
		}
	}
	return targets
}

// deliver dispatches targets inline on a bounded pool and stores each delivery
func (e *Engine) deliver(ctx context.Context, targets []target) ([]webhook.Delivery, error) {
	deliveries := make([]webhook.Delivery, len(targets))
	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for i, t := range targets {
		g.Go(func() error {
			d, err := e.dispatchOne(ctx, t)
			if err != nil {
				fail(err)
			}
			if d.ID == "" {
				return nil
			}
			deliveries[i] = d
			if err := e.deliveries.Add(ctx, d); err != nil {
				fail(fmt.Errorf("storing delivery %s: %w", d.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	e.touch(ctx, targets)

	out := deliveries[:0]
	for _, d := range deliveries {
		if d.ID != "" {
			out = append(out, d)
		}
	}
	return out, errors.Join(errs...)
}

func (e *Engine) dispatchOne(ctx context.Context, t target) (webhook.Delivery, error) {
	if e.balancer != nil {
		e.balancer.OnRequestStart(t.endpoint.ID)
	}
	start := e.now()
	d, err := e.dispatcher.Dispatch(ctx, t.event, t.endpoint)
	if e.balancer != nil {
		e.balancer.OnRequestComplete(t.endpoint.ID, err == nil && d.Status == webhook.Success, e.now().Sub(start))
	}

	log := e.logger.With().Str("event_id", t.event.ID).Str("endpoint_id", t.endpoint.ID).Logger()
	if err != nil {
		log.Warn().Err(err).Msg("dispatch interrupted")
		return d, err
	}
	if d.Status != webhook.Success {
		log.Warn().Str("delivery_id", d.ID).Str("status", d.Status.String()).Int("attempt", len(d.Attempts)).Msg("delivery did not succeed")
	}
	return d, nil
}

/* touch records when each targeted endpoint last received traffic
 * Only LastTriggeredAt changes; stores without a TriggerMarker get a fresh
 * read-modify-write under endpointMu so a concurrent pause or edit survives
 */
func (e *Engine) touch(ctx context.Context, targets []target) {
	seen := make(map[string]bool, len(targets))
	now := e.now()
	marker, _ := e.endpoints.(webhook.TriggerMarker)
	for _, t := range targets {
		id := t.endpoint.ID
		if seen[id] {
			continue
		}
		seen[id] = true

		var err error
		if marker != nil {
			err = marker.MarkTriggered(ctx, id, now)
		} else {
			err = e.markTriggered(ctx, id, now)
		}
		if err != nil {
			e.logger.Debug().Err(err).Str("endpoint_id", id).Msg("updating last triggered")
		}
	}
}

func (e *Engine) markTriggered(ctx context.Context, id string, at time.Time) error {
	e.endpointMu.Lock()
	defer e.endpointMu.Unlock()

	ep, err := e.endpoints.Get(ctx, id)
	if err != nil {
		return err
	}
	ep.LastTriggeredAt = &at
	return e.endpoints.Update(ctx, id, ep)
}
