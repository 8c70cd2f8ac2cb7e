package chi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-outbox/engine"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/payload"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
)

/* HTTP layer DTOs for the endpoint API
 * Secrets are write-only: responses only report whether one is set, except
 * for a secret generated on creation, which is returned once
 */

// generatedSecretSize is the number of random bytes in a generated secret
const generatedSecretSize = 32

type retryRequest struct {
	MaxRetries        *int    `json:"max_retries,omitempty"`
	BaseDelayMs       int64   `json:"base_delay_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
}

type filtersRequest struct {
	ProviderIDs []string `json:"provider_ids,omitempty"`
	ChannelIDs  []string `json:"channel_ids,omitempty"`
	TemplateIDs []string `json:"template_ids,omitempty"`
}

type endpointRequest struct {
	URL         string            `json:"url"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Active      *bool             `json:"active"`
	Events      []string          `json:"events"`
	Headers     map[string]string `json:"headers"`
	Secret      string            `json:"secret"`
	Retry       *retryRequest     `json:"retry"`
	Filters     *filtersRequest   `json:"filters"`
	Group       string            `json:"group"`
	Weight      int               `json:"weight"`

	GenerateSecret bool `json:"generate_secret"`
}

type endpointPatchRequest struct {
	URL         *string           `json:"url"`
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Active      *bool             `json:"active"`
	Events      []string          `json:"events"`
	Headers     map[string]string `json:"headers"`
	Secret      *string           `json:"secret"`
	Retry       *retryRequest     `json:"retry"`
	Filters     *filtersRequest   `json:"filters"`
	Group       *string           `json:"group"`
	Weight      *int              `json:"weight"`
	Status      *string           `json:"status"`
}

type endpointResponse struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Name            string            `json:"name,omitempty"`
	Description     string            `json:"description,omitempty"`
	Active          bool              `json:"active"`
	Status          string            `json:"status"`
	Events          []string          `json:"events"`
	Headers         map[string]string `json:"headers,omitempty"`
	HasSecret       bool              `json:"has_secret"`
	Secret          string            `json:"secret,omitempty"`
	Retry           *retryRequest     `json:"retry,omitempty"`
	Filters         *filtersRequest   `json:"filters,omitempty"`
	Group           string            `json:"group,omitempty"`
	Weight          int               `json:"weight,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
}

func (r *retryRequest) config() *webhook.RetryConfig {
	if r == nil {
		return nil
	}
	return &webhook.RetryConfig{
		MaxRetries:        r.MaxRetries,
		BaseDelay:         time.Duration(r.BaseDelayMs) * time.Millisecond,
		BackoffMultiplier: r.BackoffMultiplier,
	}
}

func (f *filtersRequest) filters() *webhook.Filters {
	if f == nil {
		return nil
	}
	return &webhook.Filters{ProviderIDs: f.ProviderIDs, ChannelIDs: f.ChannelIDs, TemplateIDs: f.TemplateIDs}
}

// eventTypes expands exact names and wildcard patterns
func eventTypes(patterns []string) ([]webhook.EventType, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	types, err := payload.ExpandEventTypes(patterns)
	if err != nil {
		return nil, webhook.Validation("events", err.Error())
	}
	return types, nil
}

func (r endpointRequest) endpoint() (webhook.Endpoint, error) {
	events, err := eventTypes(r.Events)
	if err != nil {
		return webhook.Endpoint{}, err
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return webhook.Endpoint{
		URL:         r.URL,
		Name:        r.Name,
		Description: r.Description,
		Active:      active,
		Events:      events,
		Headers:     r.Headers,
		Secret:      r.Secret,
		Retry:       r.Retry.config(),
		Filters:     r.Filters.filters(),
		Group:       r.Group,
		Weight:      r.Weight,
	}, nil
}

func (r endpointPatchRequest) patch() (engine.EndpointPatch, error) {
	p := engine.EndpointPatch{
		URL:         r.URL,
		Name:        r.Name,
		Description: r.Description,
		Active:      r.Active,
		Headers:     r.Headers,
		Secret:      r.Secret,
		Retry:       r.Retry.config(),
		Filters:     r.Filters.filters(),
		Group:       r.Group,
		Weight:      r.Weight,
	}
	if r.Events != nil {
		events, err := eventTypes(r.Events)
		if err != nil {
			return engine.EndpointPatch{}, err
		}
		if len(events) == 0 {
			return engine.EndpointPatch{}, webhook.Validation("events", "at least one event type is required")
		}
		p.Events = events
	}
	if r.Status != nil {
		status := webhook.NewEndpointStatus(*r.Status)
		if status.String() != *r.Status {
			return engine.EndpointPatch{}, webhook.Validation("status", fmt.Sprintf("unknown endpoint status: %s", *r.Status))
		}
		p.Status = &status
	}
	return p, nil
}

func newEndpointResponse(ep webhook.Endpoint) endpointResponse {
	events := make([]string, 0, len(ep.Events))
	for _, t := range ep.Events {
		events = append(events, t.String())
	}
	resp := endpointResponse{
		ID:              ep.ID,
		URL:             ep.URL,
		Name:            ep.Name,
		Description:     ep.Description,
		Active:          ep.Active,
		Status:          ep.Status.String(),
		Events:          events,
		Headers:         ep.Headers,
		HasSecret:       ep.Secret != "",
		Group:           ep.Group,
		Weight:          ep.Weight,
		CreatedAt:       ep.CreatedAt,
		UpdatedAt:       ep.UpdatedAt,
		LastTriggeredAt: ep.LastTriggeredAt,
	}
	if ep.Retry != nil {
		resp.Retry = &retryRequest{
			MaxRetries:        ep.Retry.MaxRetries,
			BaseDelayMs:       ep.Retry.BaseDelay.Milliseconds(),
			BackoffMultiplier: ep.Retry.BackoffMultiplier,
		}
	}
	if ep.Filters != nil {
		resp.Filters = &filtersRequest{
			ProviderIDs: ep.Filters.ProviderIDs,
			ChannelIDs:  ep.Filters.ChannelIDs,
			TemplateIDs: ep.Filters.TemplateIDs,
		}
	}
	return resp
}

// getEndpoints handles GET /v1/endpoints
func getEndpoints(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all, err := svc.ListEndpoints(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]endpointResponse, 0, len(all))
		for _, ep := range all {
			result = append(result, newEndpointResponse(ep))
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func getEndpoint(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, err := svc.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newEndpointResponse(ep))
	})
}

// postEndpoints handles POST /v1/endpoints
func postEndpoints(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var er endpointRequest
		if !decodeJSON(w, r, &er, "invalid request body") {
			return
		}
		ep, err := er.endpoint()
		if err != nil {
			writeError(w, err)
			return
		}
		generated := er.GenerateSecret && ep.Secret == ""
		if generated {
			if ep.Secret, err = signature.GenerateSecret(generatedSecretSize); err != nil {
				writeError(w, webhook.Internal("generating secret", err))
				return
			}
		}
		ep, err = svc.AddEndpoint(r.Context(), ep)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := newEndpointResponse(ep)
		if generated {
			resp.Secret = ep.Secret
		}
		writeJSON(w, http.StatusCreated, resp)
	})
}

func putEndpoint(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var pr endpointPatchRequest
		if !decodeJSON(w, r, &pr, "invalid request body") {
			return
		}
		patch, err := pr.patch()
		if err != nil {
			writeError(w, err)
			return
		}
		ep, err := svc.UpdateEndpoint(r.Context(), chi.URLParam(r, "id"), patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newEndpointResponse(ep))
	})
}

func deleteEndpoint(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveEndpoint(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func pauseEndpoint(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, err := svc.PauseEndpoint(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newEndpointResponse(ep))
	})
}

func resumeEndpoint(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, err := svc.ResumeEndpoint(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newEndpointResponse(ep))
	})
}

// probeEndpoint handles POST /v1/endpoints/{id}/probe
func probeEndpoint(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.ProbeEndpoint(r.Context(), chi.URLParam(r, "id"))
		if err != nil && d.ID == "" {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newDeliveryResponse(d))
	})
}
