package bus

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/lapline-data/lapline/internal/monitoring"
)

// DefaultRetryInterval is the fixed backoff between broker reconnect
// attempts.
const DefaultRetryInterval = 5 * time.Second

// Options configures the MQTT client.
type Options struct {
	// BrokerURL is the broker address, e.g. "tcp://tome.lu:1883".
	BrokerURL string
	// ClientID identifies this client to the broker. A random suffix is
	// appended so two units on the same broker never collide.
	ClientID string
	Username string
	Password string
	// RetryInterval overrides DefaultRetryInterval when positive.
	RetryInterval time.Duration
	// Will, when non-nil, is registered as the connection's last-will
	// message.
	Will *WillMessage
}

// WillMessage is a last-will registration.
type WillMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Client is the paho-backed Bus. It keeps a registry of subscriptions
// and replays them on every (re)connect.
type Client struct {
	c mqtt.Client

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler Handler
}

// NewClient builds an MQTT client from opts. The connection is not
// established until Connect is called.
func NewClient(opts Options) *Client {
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}

	client := &Client{subs: make(map[string]subscription)}

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", opts.ClientID, uuid.NewString()[:8])).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retry).
		SetMaxReconnectInterval(retry).
		SetCleanSession(true)

	if opts.Username != "" {
		mqttOpts.SetUsername(opts.Username)
		mqttOpts.SetPassword(opts.Password)
	}
	if opts.Will != nil {
		mqttOpts.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retained)
	}

	mqttOpts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("bus: connected to %s", opts.BrokerURL)
		client.resubscribe()
	})
	mqttOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("bus: connection lost: %v (retrying every %s)", err, retry)
	})

	client.c = mqtt.NewClient(mqttOpts)
	return client
}

// Connect establishes the broker connection, waiting up to timeout for
// the first attempt. The client keeps retrying in the background either
// way; a timeout here is reported but not fatal.
func (c *Client) Connect(timeout time.Duration) error {
	token := c.c.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("broker connection not established within %s, retrying in background", timeout)
	}
	return token.Error()
}

// Publish sends payload to topic and returns the paho token.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) Token {
	return c.c.Publish(topic, qos, retained, payload)
}

// Subscribe registers the handler and subscribes immediately when
// connected. The registration survives reconnects.
func (c *Client) Subscribe(topic string, qos byte, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: h}
	c.mu.Unlock()

	if !c.c.IsConnected() {
		// The OnConnect handler will pick the subscription up.
		return nil
	}
	return c.subscribe(topic, qos, h)
}

// Unsubscribe drops the registration and unsubscribes from the broker.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.c.IsConnected() {
		return nil
	}
	token := c.c.Unsubscribe(topic)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("unsubscribe from %s timed out", topic)
	}
	return token.Error()
}

// IsConnected reports the broker connection state.
func (c *Client) IsConnected() bool {
	return c.c.IsConnected()
}

// Disconnect flushes and closes the connection.
func (c *Client) Disconnect() {
	c.c.Disconnect(250)
}

func (c *Client) subscribe(topic string, qos byte, h Handler) error {
	token := c.c.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return nil
}

// resubscribe replays every registered subscription after a fresh
// connection so the broker redelivers retained values.
func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.Unlock()

	for topic, sub := range subs {
		if err := c.subscribe(topic, sub.qos, sub.handler); err != nil {
			monitoring.Logf("bus: %v", err)
		}
	}
}
