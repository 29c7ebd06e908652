package publishers

import "context"

// Publisher sends events to a downstream sink (HTTP, SNS, Pub/Sub).
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt Event) error
}

// sender is the transport half of a queue-backed publisher.
type sender interface {
	Send(ctx context.Context, evt Event) error
}

// closer is implemented by publishers holding client connections.
type closer interface {
	Close() error
}
