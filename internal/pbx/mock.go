package pbx

import (
	"context"
	"sync"
)

// PublishedMessage records a single publish for test assertions.
type PublishedMessage struct {
	Topic   string
	Payload []byte
}

// MockPublisher records all publishes.
type MockPublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	closed   bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := make([]byte, len(payload))
	copy(p, payload)
	m.messages = append(m.messages, PublishedMessage{Topic: topic, Payload: p})
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockPublisher) Messages() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedMessage, len(m.messages))
	copy(out, m.messages)
	return out
}
