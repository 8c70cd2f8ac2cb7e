package webhook

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// EventType is one of the closed set of notification types the platform emits
type EventType string

const (
	MessageQueued         EventType = "message.queued"
	MessageSent           EventType = "message.sent"
	MessageDelivered      EventType = "message.delivered"
	MessageFailed         EventType = "message.failed"
	MessageBounced        EventType = "message.bounced"
	MessageOpened         EventType = "message.opened"
	MessageClicked        EventType = "message.clicked"
	TemplateCreated       EventType = "template.created"
	TemplateUpdated       EventType = "template.updated"
	TemplateDeleted       EventType = "template.deleted"
	ProviderHealthChanged EventType = "provider.health_changed"
	SystemMaintenance     EventType = "system.maintenance"
)

var eventTypes = []EventType{
	MessageQueued,
	MessageSent,
	MessageDelivered,
	MessageFailed,
	MessageBounced,
	MessageOpened,
	MessageClicked,
	TemplateCreated,
	TemplateUpdated,
	TemplateDeleted,
	ProviderHealthChanged,
	SystemMaintenance,
}

// EventTypes returns every supported event type
func EventTypes() []EventType {
	return slices.Clone(eventTypes)
}

func (t EventType) String() string {
	return string(t)
}

// Validate checks that the event type belongs to the supported set
func (t EventType) Validate() error {
	if !slices.Contains(eventTypes, t) {
		return fmt.Errorf("invalid event type: %q", string(t))
	}
	return nil
}

/* Event is an internal business occurrence to be fanned out to endpoints
 * Events are immutable after creation; copies handed to workers are clones
 */
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Metadata  Metadata        `json:"metadata"`
	Version   string          `json:"version"`
}

// Metadata carries the identifiers used by endpoint filters
type Metadata struct {
	ProviderID     string `json:"provider_id,omitempty"`
	ChannelID      string `json:"channel_id,omitempty"`
	TemplateID     string `json:"template_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	RetryCount     int    `json:"retry_count,omitempty"`
}

// Clone returns a deep copy of the event
func (e Event) Clone() Event {
	c := e
	c.Data = slices.Clone(e.Data)
	return c
}

// Validate checks the fields every emitted event must carry
func (e Event) Validate() error {
	if e.ID == "" {
		return Validation("id", "event id is required")
	}
	if e.Type == "" {
		return Validation("type", "event type is required")
	}
	if err := e.Type.Validate(); err != nil {
		return Validation("type", err.Error())
	}
	if e.Version == "" {
		return Validation("version", "event version is required")
	}
	if e.Timestamp.IsZero() {
		return Validation("timestamp", "event timestamp is required")
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return Validation("data", "event data must be valid JSON")
	}
	return nil
}
