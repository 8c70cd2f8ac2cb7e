package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-outbox/webhook"
)

// EndpointPatch carries the fields to change; nil fields are left alone
type EndpointPatch struct {
	URL         *string                 `json:"url,omitempty"`
	Name        *string                 `json:"name,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Active      *bool                   `json:"active,omitempty"`
	Events      []webhook.EventType     `json:"events,omitempty"`
	Headers     map[string]string       `json:"headers,omitempty"`
	Secret      *string                 `json:"secret,omitempty"`
	Retry       *webhook.RetryConfig    `json:"retry,omitempty"`
	Filters     *webhook.Filters        `json:"filters,omitempty"`
	Group       *string                 `json:"group,omitempty"`
	Weight      *int                    `json:"weight,omitempty"`
	Status      *webhook.EndpointStatus `json:"status,omitempty"`
}

func (e *Engine) validateEndpoint(ep webhook.Endpoint) error {
	if err := e.validator.Validate(ep.URL); err != nil {
		return err
	}
	if len(ep.Events) == 0 {
		return webhook.Validation("events", "at least one event type is required")
	}
	for _, t := range ep.Events {
		if err := t.Validate(); err != nil {
			return webhook.Validation("events", err.Error())
		}
	}
	if ep.Weight < 0 {
		return webhook.Validation("weight", "weight must not be negative")
	}
	return nil
}

// prepare assigns identity and timestamps and derives status from Active
func (e *Engine) prepare(ep webhook.Endpoint) webhook.Endpoint {
	now := e.now()
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	ep.CreatedAt = now
	ep.UpdatedAt = now
	ep.LastTriggeredAt = nil
	if ep.Active {
		ep.Status = webhook.EndpointActive
	} else {
		ep.Status = webhook.EndpointInactive
	}
	return ep
}

// AddEndpoint validates and registers an endpoint
func (e *Engine) AddEndpoint(ctx context.Context, ep webhook.Endpoint) (webhook.Endpoint, error) {
	if err := e.validateEndpoint(ep); err != nil {
		return webhook.Endpoint{}, err
	}
	ep = e.prepare(ep)
	if err := e.endpoints.Add(ctx, ep); err != nil {
		return webhook.Endpoint{}, err
	}
	e.logger.Info().Str("endpoint_id", ep.ID).Str("url", ep.URL).Msg("endpoint registered")
	return ep, nil
}

/* AddEndpoints validates every endpoint before storing any
 * On a store error the endpoints added so far are returned with the error
 */
func (e *Engine) AddEndpoints(ctx context.Context, eps []webhook.Endpoint) ([]webhook.Endpoint, error) {
	for i, ep := range eps {
		if err := e.validateEndpoint(ep); err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
	}

	added := make([]webhook.Endpoint, 0, len(eps))
	for _, ep := range eps {
		ep = e.prepare(ep)
		if err := e.endpoints.Add(ctx, ep); err != nil {
			return added, err
		}
		added = append(added, ep)
	}
	return added, nil
}

// UpdateEndpoint merges patch into the stored endpoint, re-validating a changed URL
func (e *Engine) UpdateEndpoint(ctx context.Context, id string, patch EndpointPatch) (webhook.Endpoint, error) {
	e.endpointMu.Lock()
	defer e.endpointMu.Unlock()

	ep, err := e.endpoints.Get(ctx, id)
	if err != nil {
		return webhook.Endpoint{}, err
	}

	if patch.URL != nil && *patch.URL != ep.URL {
		if err := e.validator.Validate(*patch.URL); err != nil {
			return webhook.Endpoint{}, err
		}
		ep.URL = *patch.URL
	}
	if patch.Name != nil {
		ep.Name = *patch.Name
	}
	if patch.Description != nil {
		ep.Description = *patch.Description
	}
	if patch.Events != nil {
		ep.Events = patch.Events
	}
	if patch.Headers != nil {
		ep.Headers = patch.Headers
	}
	if patch.Secret != nil {
		ep.Secret = *patch.Secret
	}
	if patch.Retry != nil {
		ep.Retry = patch.Retry
	}
	if patch.Filters != nil {
		ep.Filters = patch.Filters
	}
	if patch.Group != nil {
		ep.Group = *patch.Group
	}
	if patch.Weight != nil {
		ep.Weight = *patch.Weight
	}

	switch {
	case patch.Status != nil:
		if err := patch.Status.Validate(); err != nil {
			return webhook.Endpoint{}, webhook.Validation("status", err.Error())
		}
		ep.Status = *patch.Status
		ep.Active = ep.Status == webhook.EndpointActive
	case patch.Active != nil:
		setActive(&ep, *patch.Active)
	}

	if err := e.validateEndpoint(ep); err != nil {
		return webhook.Endpoint{}, err
	}
	return e.save(ctx, ep)
}

func setActive(ep *webhook.Endpoint, active bool) {
	ep.Active = active
	if active {
		ep.Status = webhook.EndpointActive
	} else {
		ep.Status = webhook.EndpointInactive
	}
}

func (e *Engine) save(ctx context.Context, ep webhook.Endpoint) (webhook.Endpoint, error) {
	ep.UpdatedAt = e.now()
	if err := e.endpoints.Update(ctx, ep.ID, ep); err != nil {
		return webhook.Endpoint{}, err
	}
	return ep, nil
}

// PauseEndpoint stops deliveries to an endpoint
func (e *Engine) PauseEndpoint(ctx context.Context, id string) (webhook.Endpoint, error) {
	return e.toggle(ctx, id, false)
}

// ResumeEndpoint restarts deliveries to a paused endpoint
func (e *Engine) ResumeEndpoint(ctx context.Context, id string) (webhook.Endpoint, error) {
	return e.toggle(ctx, id, true)
}

func (e *Engine) toggle(ctx context.Context, id string, active bool) (webhook.Endpoint, error) {
	e.endpointMu.Lock()
	defer e.endpointMu.Unlock()

	ep, err := e.endpoints.Get(ctx, id)
	if err != nil {
		return webhook.Endpoint{}, err
	}
	setActive(&ep, active)
	ep, err = e.save(ctx, ep)
	if err != nil {
		return webhook.Endpoint{}, err
	}
	e.logger.Info().Str("endpoint_id", id).Str("status", ep.Status.String()).Msg("endpoint status changed")
	return ep, nil
}

// RemoveEndpoint deletes the endpoint and forgets its balancer health and circuit
func (e *Engine) RemoveEndpoint(ctx context.Context, id string) error {
	e.endpointMu.Lock()
	err := e.endpoints.Remove(ctx, id)
	e.endpointMu.Unlock()
	if err != nil {
		return err
	}
	if r, ok := e.balancer.(interface{ Reset(id string) }); ok {
		r.Reset(id)
	}
	e.logger.Info().Str("endpoint_id", id).Msg("endpoint removed")
	return nil
}

func (e *Engine) GetEndpoint(ctx context.Context, id string) (webhook.Endpoint, error) {
	return e.endpoints.Get(ctx, id)
}

func (e *Engine) ListEndpoints(ctx context.Context) ([]webhook.Endpoint, error) {
	return e.endpoints.List(ctx)
}

/* ProbeEndpoint sends one system.maintenance event straight to an endpoint
 * and stores the resulting delivery; it ignores subscriptions and status
 */
func (e *Engine) ProbeEndpoint(ctx context.Context, id string) (webhook.Delivery, error) {
	ep, err := e.endpoints.Get(ctx, id)
	if err != nil {
		return webhook.Delivery{}, err
	}

	data, _ := json.Marshal(map[string]any{
		"probe":   true,
		"message": "webhook endpoint probe",
	})
	ev := webhook.Event{
		ID:        uuid.NewString(),
		Type:      webhook.SystemMaintenance,
		Timestamp: e.now(),
		Data:      data,
		Version:   "1.0",
	}

	delivery, err := e.dispatcher.Dispatch(ctx, ev, ep)
	if err != nil && delivery.ID == "" {
		return webhook.Delivery{}, err
	}
	if storeErr := e.deliveries.Add(ctx, delivery); storeErr != nil {
		return delivery, storeErr
	}
	return delivery, err
}
