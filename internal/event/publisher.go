package event

import "context"

// Publisher emits security events to the auth event stream.
// Publishing is fire-and-forget: implementations log failures and never
// block or fail the request that produced the event.
type Publisher interface {
	// Publish emits a security event
	Publish(ctx context.Context, ev SecurityEvent)
}

// NoopPublisher drops all events, used when no brokers are configured
type NoopPublisher struct{}

// Publish does nothing
func (NoopPublisher) Publish(ctx context.Context, ev SecurityEvent) {}

// Ensure NoopPublisher implements Publisher
var _ Publisher = (*NoopPublisher)(nil)
