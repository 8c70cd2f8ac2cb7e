package balancer

import (
	"fmt"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// Strategy picks one endpoint among the healthy candidates
type Strategy int

const (
	RoundRobin Strategy = iota
	LeastConnections
	Weighted
	Random
)

func (s Strategy) String() string {
	switch s {
	case RoundRobin:
		return "round_robin"
	case LeastConnections:
		return "least_connections"
	case Weighted:
		return "weighted"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// NewStrategy parses a strategy name
func NewStrategy(s string) (Strategy, error) {
	switch s {
	case "", "round_robin":
		return RoundRobin, nil
	case "least_connections":
		return LeastConnections, nil
	case "weighted":
		return Weighted, nil
	case "random":
		return Random, nil
	default:
		return RoundRobin, webhook.Validation("strategy", fmt.Sprintf("unknown strategy %q", s))
	}
}

func weight(ep webhook.Endpoint) int {
	if ep.Weight <= 0 {
		return 1
	}
	return ep.Weight
}

// pick applies the strategy; the caller holds the balancer lock and pool is non-empty
func (b *Balancer) pick(pool []webhook.Endpoint) webhook.Endpoint {
	switch b.cfg.Strategy {
	case LeastConnections:
		best := pool[0]
		bestConns := b.healthLocked(best.ID).ActiveConnections
		for _, ep := range pool[1:] {
			if conns := b.healthLocked(ep.ID).ActiveConnections; conns < bestConns {
				best, bestConns = ep, conns
			}
		}
		return best

	case Weighted:
		total := 0
		for _, ep := range pool {
			total += weight(ep)
		}
		r := b.random(total)
		for _, ep := range pool {
			r -= weight(ep)
			if r < 0 {
				return ep
			}
		}
		return pool[len(pool)-1]

	case Random:
		return pool[b.random(len(pool))]

	default:
		ep := pool[b.rrCursor%len(pool)]
		b.rrCursor++
		return ep
	}
}
