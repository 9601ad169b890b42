package queue

import "context"

// EventsQueueName is the durable queue receiving every job lifecycle event.
const EventsQueueName = "job-events"

// Publisher publishes job lifecycle events. Publishing is best-effort from
// the orchestrator's point of view; a broker outage never blocks dispatch.
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}
