package pipeline

import (
	"github.com/marcelsud/webhook-outbox/balancer"
	"github.com/marcelsud/webhook-outbox/batch"
	"github.com/marcelsud/webhook-outbox/queue"
)

// observe turns stage events into log lines until Stop
func (p *Pipeline) observe() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case ev := <-p.queue.Events():
			p.logQueue(ev)
		case ev := <-p.batch.Events():
			p.logBatch(ev)
		case ev := <-p.balancer.Events():
			p.logBalancer(ev)
		}
	}
}

func (p *Pipeline) logQueue(ev queue.Event) {
	switch ev.Kind {
	case queue.EventRejected, queue.EventEvicted:
		p.logger.Warn().
			Str("job_id", ev.JobID).
			Str("endpoint_id", ev.EndpointID).
			Str("tier", ev.Tier.String()).
			Msgf("job %s", ev.Kind)
	default:
		p.logger.Debug().
			Str("job_id", ev.JobID).
			Str("endpoint_id", ev.EndpointID).
			Str("tier", ev.Tier.String()).
			Msgf("job %s", ev.Kind)
	}
}

func (p *Pipeline) logBatch(ev batch.Event) {
	l := p.logger.Debug()
	switch ev.Kind {
	case batch.EventJobExhausted, batch.EventJobDropped, batch.EventBatchFailed:
		l = p.logger.Warn()
	}
	l.Str("batch_id", ev.BatchID).
		Str("endpoint_id", ev.EndpointID).
		Str("job_id", ev.JobID).
		Msg(ev.Kind.String())
}

func (p *Pipeline) logBalancer(ev balancer.Event) {
	p.logger.Info().
		Str("endpoint_id", ev.EndpointID).
		Str("circuit", ev.Circuit.State.String()).
		Int("failures", ev.Circuit.FailureCount).
		Msg(ev.Kind.String())
}
