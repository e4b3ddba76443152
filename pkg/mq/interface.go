package mq

import "context"

// PublisherInterface defines the contract for presentation-feed publishing.
// This interface enables testing through fakes and dependency injection.
type PublisherInterface interface {
	// Publish pushes data onto the queue and waits for broker confirmation.
	// The context is used for cancellation and timeout.
	Publish(ctx context.Context, data []byte) error

	// UnsafePublish pushes to the queue without waiting for confirmation.
	UnsafePublish(ctx context.Context, data []byte) error

	// Close cleanly shuts down the channel and connection.
	Close() error
}

// Ensure Publisher implements PublisherInterface.
var _ PublisherInterface = (*Publisher)(nil)
