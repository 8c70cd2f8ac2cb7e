package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// Payload is the JSON body posted to endpoints
type Payload struct {
	ID        string            `json:"id"`
	Type      webhook.EventType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  webhook.Metadata  `json:"metadata"`
	Version   string            `json:"version"`
}

// FromEvent copies the delivered fields of an event
func FromEvent(ev webhook.Event) Payload {
	data := ev.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return Payload{
		ID:        ev.ID,
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		Data:      data,
		Metadata:  ev.Metadata,
		Version:   ev.Version,
	}
}

// Build returns the minified JSON body for an event
func Build(ev webhook.Event) ([]byte, error) {
	b, err := json.Marshal(FromEvent(ev))
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return b, nil
}

// MarshalJSON returns the JSON encoding of the payload
func (p Payload) MarshalJSON() ([]byte, error) {
	type Alias Payload
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: p.Timestamp.UTC().Format(time.RFC3339Nano),
		Alias:     (*Alias)(&p),
	})
}

// UnmarshalJSON parses the JSON-encoded data and stores the result
func (p *Payload) UnmarshalJSON(data []byte) error {
	type Alias Payload
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshaling payload: %w", err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		timestamp, err = time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parsing timestamp: %w", err)
		}
	}
	p.Timestamp = timestamp

	return nil
}

// Parse parses a JSON body back into a Payload
func Parse(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return p, nil
}

// Event converts the payload back into an event
func (p Payload) Event() webhook.Event {
	return webhook.Event{
		ID:        p.ID,
		Type:      p.Type,
		Timestamp: p.Timestamp,
		Data:      p.Data,
		Metadata:  p.Metadata,
		Version:   p.Version,
	}
}

// MatchesEventType checks if eventType matches pattern
// Supports exact matching and prefix matching (e.g., "message.*" matches "message.sent")
func MatchesEventType(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok && prefix != "" {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}

/* ExpandEventTypes resolves exact names and wildcard patterns against
 * the supported event set; a pattern matching nothing is an error
 */
func ExpandEventTypes(patterns []string) ([]webhook.EventType, error) {
	seen := make(map[webhook.EventType]bool)
	var out []webhook.EventType
	for _, pattern := range patterns {
		if err := ValidateEventType(pattern); err != nil {
			return nil, err
		}
		matched := false
		for _, t := range webhook.EventTypes() {
			if MatchesEventType(pattern, string(t)) {
				matched = true
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
		if !matched {
			return nil, fmt.Errorf("unknown event type: %s", pattern)
		}
	}
	return out, nil
}

// ValidateEventType validates an event type format
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	// Allow wildcard suffix for filtering
	eventType, _ = strings.CutSuffix(eventType, ".*")

	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}
