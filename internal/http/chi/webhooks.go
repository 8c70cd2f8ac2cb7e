package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-outbox/engine"
	"github.com/marcelsud/webhook-outbox/webhook"
)

/* HTTP layer DTOs for event ingestion and delivery history
 * Separate from domain entities to avoid leaking internal structure
 */

const defaultEventVersion = "1.0"

// eventRequest is an event as posted by producers; id, timestamp and version are optional
type eventRequest struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Timestamp *time.Time       `json:"timestamp"`
	Data      json.RawMessage  `json:"data"`
	Metadata  webhook.Metadata `json:"metadata"`
	Version   string           `json:"version"`
}

type eventResponse struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

type syncResponse struct {
	EventID    string             `json:"event_id"`
	Deliveries []deliveryResponse `json:"deliveries"`
}

type deliveryResponse struct {
	ID          string            `json:"id"`
	EndpointID  string            `json:"endpoint_id"`
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	URL         string            `json:"url"`
	Status      string            `json:"status"`
	Attempts    []webhook.Attempt `json:"attempts"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
}

func (er eventRequest) event() webhook.Event {
	ev := webhook.Event{
		ID:       er.ID,
		Type:     webhook.EventType(er.Type),
		Data:     er.Data,
		Metadata: er.Metadata,
		Version:  er.Version,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if er.Timestamp != nil {
		ev.Timestamp = *er.Timestamp
	} else {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Version == "" {
		ev.Version = defaultEventVersion
	}
	return ev
}

func newDeliveryResponse(d webhook.Delivery) deliveryResponse {
	attempts := d.Attempts
	if attempts == nil {
		attempts = []webhook.Attempt{}
	}
	return deliveryResponse{
		ID:          d.ID,
		EndpointID:  d.EndpointID,
		EventID:     d.EventID,
		EventType:   d.EventType.String(),
		URL:         d.URL,
		Status:      d.Status.String(),
		Attempts:    attempts,
		CreatedAt:   d.CreatedAt,
		CompletedAt: d.CompletedAt,
		NextRetryAt: d.NextRetryAt,
	}
}

func newDeliveryResponses(all []webhook.Delivery) []deliveryResponse {
	out := make([]deliveryResponse, 0, len(all))
	for _, d := range all {
		out = append(out, newDeliveryResponse(d))
	}
	return out
}

func decodeEvent(w http.ResponseWriter, r *http.Request) (webhook.Event, bool) {
	var er eventRequest
	if !decodeJSON(w, r, &er, "invalid event payload (expected type, data and optional id, timestamp, metadata, version)") {
		return webhook.Event{}, false
	}
	return er.event(), true
}

// postEvent handles POST /v1/events
func postEvent(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev, ok := decodeEvent(w, r)
		if !ok {
			return
		}
		if err := svc.Emit(r.Context(), ev); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, eventResponse{EventID: ev.ID, Type: ev.Type.String()})
	})
}

// postEventSync handles POST /v1/events/sync
func postEventSync(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev, ok := decodeEvent(w, r)
		if !ok {
			return
		}
		deliveries, err := svc.EmitSync(r.Context(), ev)
		if err != nil && len(deliveries) == 0 {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, syncResponse{EventID: ev.ID, Deliveries: newDeliveryResponses(deliveries)})
	})
}

// getDeliveries handles GET /v1/deliveries?endpoint_id&event_type&status&limit
func getDeliveries(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := webhook.DeliveryFilter{
			EndpointID: q.Get("endpoint_id"),
			EventType:  webhook.EventType(q.Get("event_type")),
		}
		if s := q.Get("status"); s != "" {
			filter.Status = webhook.NewDeliveryStatus(s)
			if filter.Status == 0 {
				badRequest(w, fmt.Sprintf("unknown delivery status: %s", s))
				return
			}
		}
		if l := q.Get("limit"); l != "" {
			limit, err := strconv.Atoi(l)
			if err != nil || limit < 0 {
				badRequest(w, "limit must be a non-negative integer")
				return
			}
			filter.Limit = limit
		}

		all, err := svc.ListDeliveries(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newDeliveryResponses(all))
	})
}

// getStats handles GET /v1/stats
func getStats(svc engine.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := svc.Stats()
		byStatus := make(map[string]int64, len(s.Deliveries))
		for status, n := range s.Deliveries {
			byStatus[status.String()] = n
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pending":    s.Pending,
			"emitted":    s.Emitted,
			"ignored":    s.Ignored,
			"deliveries": byStatus,
		})
	})
}
