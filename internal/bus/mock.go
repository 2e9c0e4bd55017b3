package bus

import (
	"strings"
	"sync"
	"time"
)

// MockBus is an in-memory broker for tests. It delivers messages
// synchronously, stores retained payloads, and can be told to fail or
// hang publishes on specific topics to exercise partial-failure paths.
type MockBus struct {
	mu        sync.Mutex
	connected bool
	retained  map[string][]byte
	subs      map[string]subscription

	// FailTopics maps a topic to the error its publish token reports.
	FailTopics map[string]error
	// HangTopics lists topics whose publish tokens never complete,
	// simulating a broker that does not acknowledge.
	HangTopics map[string]bool

	// Published records every delivered publish in order.
	Published []MockMessage
}

// MockMessage is one recorded publish.
type MockMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// NewMockBus returns a connected mock broker.
func NewMockBus() *MockBus {
	return &MockBus{
		connected:  true,
		retained:   make(map[string][]byte),
		subs:       make(map[string]subscription),
		FailTopics: make(map[string]error),
		HangTopics: make(map[string]bool),
	}
}

type mockToken struct {
	err  error
	hang bool
}

func (t mockToken) WaitTimeout(time.Duration) bool { return !t.hang }
func (t mockToken) Error() error                   { return t.err }

// Publish delivers the payload to matching subscribers and records it.
// Failing or hanging topics are neither delivered nor retained.
func (m *MockBus) Publish(topic string, qos byte, retained bool, payload []byte) Token {
	m.mu.Lock()

	if m.HangTopics[topic] {
		m.mu.Unlock()
		return mockToken{hang: true}
	}
	if err, ok := m.FailTopics[topic]; ok {
		m.mu.Unlock()
		return mockToken{err: err}
	}

	m.Published = append(m.Published, MockMessage{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	if retained {
		stored := make([]byte, len(payload))
		copy(stored, payload)
		m.retained[topic] = stored
	}

	var handlers []Handler
	for pattern, sub := range m.subs {
		if topicMatches(pattern, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}
	return mockToken{}
}

// Subscribe registers the handler and immediately redelivers any
// retained payloads on matching topics, as a real broker would.
func (m *MockBus) Subscribe(topic string, qos byte, h Handler) error {
	m.mu.Lock()
	m.subs[topic] = subscription{qos: qos, handler: h}
	var redeliver []MockMessage
	for t, payload := range m.retained {
		if topicMatches(topic, t) {
			redeliver = append(redeliver, MockMessage{Topic: t, Payload: payload})
		}
	}
	m.mu.Unlock()

	for _, msg := range redeliver {
		h(msg.Topic, msg.Payload)
	}
	return nil
}

// Unsubscribe removes the registration for topic.
func (m *MockBus) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, topic)
	return nil
}

// IsConnected reports the simulated connection state.
func (m *MockBus) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetConnected flips the simulated connection state.
func (m *MockBus) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// Disconnect marks the bus disconnected.
func (m *MockBus) Disconnect() {
	m.SetConnected(false)
}

// Retained returns the stored retained payload for topic.
func (m *MockBus) Retained(topic string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.retained[topic]
	return payload, ok
}

// PublishedTo returns the recorded publishes for one topic.
func (m *MockBus) PublishedTo(topic string) []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockMessage
	for _, msg := range m.Published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// topicMatches implements exact matching plus the trailing "#" wildcard,
// which is all the configuration topics need.
func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, "/#") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#"))
	}
	return pattern == "#"
}
