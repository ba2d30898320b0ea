package sink

import (
	"fmt"
	"sync"

	"github.com/maxpert/waljson/cfg"
	"github.com/maxpert/waljson/publisher"
)

func init() {
	publisher.RegisterSink("mock", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink records published units for inspection in tests
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	mu         sync.Mutex
}

// MockMessage represents a published message for testing
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// Publish records a copy of value
func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.Messages = append(m.Messages, MockMessage{
		Topic: topic,
		Key:   key,
		Value: append([]byte(nil), value...),
	})
	return nil
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// Values returns the recorded payloads as strings
func (m *MockSink) Values() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.Messages))
	for i, msg := range m.Messages {
		out[i] = string(msg.Value)
	}
	return out
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}

func (m *MockSink) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("MockSink(%d messages)", len(m.Messages))
}
