// Package mock provides mock implementations of the mq package interfaces for testing.
package mock

import (
	"context"
	"sync"

	"mascotas.dev/petwatch/pkg/mq"
)

// MockPublisher is a mock implementation of PublisherInterface for testing.
// It tracks method calls and allows configuring return values and behavior.
type MockPublisher struct {
	mu sync.Mutex

	// PublishFunc is called when Publish is invoked. If nil, returns PublishError.
	PublishFunc func(ctx context.Context, data []byte) error
	// PublishError is returned by Publish if PublishFunc is nil.
	PublishError error
	// PublishCalls tracks all calls to Publish with their arguments.
	PublishCalls []PublishCall

	// UnsafePublishFunc is called when UnsafePublish is invoked. If nil, returns UnsafePublishError.
	UnsafePublishFunc func(ctx context.Context, data []byte) error
	// UnsafePublishError is returned by UnsafePublish if UnsafePublishFunc is nil.
	UnsafePublishError error
	// UnsafePublishCalls tracks all calls to UnsafePublish with their arguments.
	UnsafePublishCalls []PublishCall

	// CloseFunc is called when Close is invoked. If nil, returns CloseError.
	CloseFunc func() error
	// CloseError is returned by Close if CloseFunc is nil.
	CloseError error
	// CloseCalls tracks the number of times Close was called.
	CloseCalls int
}

// PublishCall records the arguments to a Publish or UnsafePublish call.
type PublishCall struct {
	Ctx  context.Context
	Data []byte
}

// NewMockPublisher creates a new MockPublisher with default behavior (no errors).
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishCalls:       make([]PublishCall, 0),
		UnsafePublishCalls: make([]PublishCall, 0),
	}
}

// Publish implements PublisherInterface.
func (m *MockPublisher) Publish(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCalls = append(m.PublishCalls, PublishCall{
		Ctx:  ctx,
		Data: data,
	})

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, data)
	}
	return m.PublishError
}

// UnsafePublish implements PublisherInterface.
func (m *MockPublisher) UnsafePublish(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnsafePublishCalls = append(m.UnsafePublishCalls, PublishCall{
		Ctx:  ctx,
		Data: data,
	})

	if m.UnsafePublishFunc != nil {
		return m.UnsafePublishFunc(ctx, data)
	}
	return m.UnsafePublishError
}

// Close implements PublisherInterface.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return m.CloseError
}

// Published returns a copy of the Publish payloads recorded so far.
func (m *MockPublisher) Published() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, 0, len(m.PublishCalls))
	for _, call := range m.PublishCalls {
		out = append(out, call.Data)
	}
	return out
}

// Ensure MockPublisher implements PublisherInterface.
var _ mq.PublisherInterface = (*MockPublisher)(nil)
