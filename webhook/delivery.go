package webhook

import (
	"slices"
	"time"
)

// MaxResponseBody caps the response body kept on each attempt
const MaxResponseBody = 1024

/* Delivery records the outcome of sending one event to one endpoint
 * Exactly one delivery exists per (event, matching endpoint)
 */
type Delivery struct {
	ID          string            `json:"id"`
	EndpointID  string            `json:"endpoint_id"`
	EventID     string            `json:"event_id"`
	EventType   EventType         `json:"event_type"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Payload     []byte            `json:"payload"`
	Attempts    []Attempt         `json:"attempts"`
	Status      DeliveryStatus    `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
}

// Attempt is a single HTTP try of a delivery
type Attempt struct {
	Number          int               `json:"number"`
	Timestamp       time.Time         `json:"timestamp"`
	HTTPStatus      int               `json:"http_status,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Error           string            `json:"error,omitempty"`
	LatencyMs       int64             `json:"latency_ms"`
}

// Succeeded reports whether the attempt got a 2xx response
func (a Attempt) Succeeded() bool {
	return a.HTTPStatus >= 200 && a.HTTPStatus < 300
}

// LastAttempt returns the most recent attempt, if any
func (d Delivery) LastAttempt() (Attempt, bool) {
	if len(d.Attempts) == 0 {
		return Attempt{}, false
	}
	return d.Attempts[len(d.Attempts)-1], true
}

// Clone returns a deep copy of the delivery
func (d Delivery) Clone() Delivery {
	c := d
	c.Payload = slices.Clone(d.Payload)
	c.Attempts = slices.Clone(d.Attempts)
	if d.Headers != nil {
		c.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			c.Headers[k] = v
		}
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	if d.NextRetryAt != nil {
		t := *d.NextRetryAt
		c.NextRetryAt = &t
	}
	return c
}

// TruncateBody limits a response body to MaxResponseBody bytes
func TruncateBody(b []byte) string {
	if len(b) > MaxResponseBody {
		b = b[:MaxResponseBody]
	}
	return string(b)
}
