// Package bus abstracts the MQTT pub/sub bus that carries race events
// and retained configuration. The abstraction exists so the timing
// pipeline and configuration synchronizer can be tested against an
// in-memory broker.
package bus

import "time"

// Handler receives messages for a subscribed topic.
type Handler func(topic string, payload []byte)

// Token tracks one in-flight publish.
type Token interface {
	// WaitTimeout blocks until the broker acknowledges the publish or
	// the timeout elapses. It returns false on timeout, in which case
	// the outcome of the publish is unknown.
	WaitTimeout(d time.Duration) bool

	// Error returns the publish failure, if any, once WaitTimeout has
	// returned true.
	Error() error
}

// Bus is the minimal broker surface the rest of the system needs.
type Bus interface {
	// Publish sends payload to topic. It never blocks; completion is
	// observed through the returned token.
	Publish(topic string, qos byte, retained bool, payload []byte) Token

	// Subscribe registers a handler for topic. Implementations must
	// re-establish the subscription after a reconnect, since retained
	// messages are only guaranteed to be redelivered on a fresh
	// subscription.
	Subscribe(topic string, qos byte, h Handler) error

	// Unsubscribe removes the subscription for topic.
	Unsubscribe(topic string) error

	// IsConnected reports whether the bus currently has a broker
	// connection.
	IsConnected() bool

	// Disconnect closes the connection.
	Disconnect()
}
