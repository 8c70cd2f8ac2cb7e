package queue

import (
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// Priority bounds
const (
	MinPriority     = 0
	MaxPriority     = 9
	DefaultPriority = 5
)

// Job is one event addressed to one endpoint
type Job struct {
	ID          string           `json:"id"`
	Event       webhook.Event    `json:"event"`
	Endpoint    webhook.Endpoint `json:"endpoint"`
	Priority    int              `json:"priority"`
	CreatedAt   time.Time        `json:"created_at"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	NextRetryAt *time.Time       `json:"next_retry_at,omitempty"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
}

// Clone returns a deep copy safe to hand to another goroutine
func (j Job) Clone() Job {
	out := j
	out.Event = j.Event.Clone()
	out.Endpoint = j.Endpoint.Clone()
	if j.NextRetryAt != nil {
		t := *j.NextRetryAt
		out.NextRetryAt = &t
	}
	return out
}

// Tier is a priority band
type Tier int

const (
	High Tier = iota
	Medium
	Low
)

var tiers = [...]Tier{High, Medium, Low}

func (t Tier) String() string {
	switch t {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// TierFor maps a priority onto its band: 8 and above is high, 5 and above medium
func TierFor(priority int) Tier {
	switch {
	case priority >= 8:
		return High
	case priority >= 5:
		return Medium
	default:
		return Low
	}
}

// ClampPriority forces a priority into [MinPriority, MaxPriority]
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
