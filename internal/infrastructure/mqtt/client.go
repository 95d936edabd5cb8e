package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. Paho calls handlers on its
// own goroutines; a returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Client is the bridge's connection to the Gray Logic broker.
//
// Every topic passed to Subscribe is remembered and subscribed again after
// paho reconnects, since sessions are clean. All methods are safe for
// concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected   atomic.Bool
	established atomic.Bool
	reconnects  atomic.Uint64

	mu           sync.RWMutex
	topics       map[string]route
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// route is one remembered subscription.
type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker described by cfg and blocks until the first
// connection succeeds or the connect timeout passes. Later drops are
// handled by paho's auto-reconnect.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	o := connectOptions{connectTimeout: defaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	c := newClient(cfg)
	pahoOpts := buildClientOptions(cfg, o)
	pahoOpts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(pahoOpts)
	token := c.client.Connect()
	if !token.WaitTimeout(o.connectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, o.connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The paho OnConnect callback may still be queued.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{cfg: cfg, topics: make(map[string]route)}
}

// handleConnect runs on the first connect and on every reconnect.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	if c.established.Swap(true) {
		c.reconnects.Add(1)
	}
	c.resubscribe()

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	fn, logger := c.onDisconnect, c.logger
	c.mu.RUnlock()
	if logger != nil {
		logger.Warn("lost broker connection", "error", err)
	}
	if fn != nil {
		fn(err)
	}
}

func (c *Client) resubscribe() {
	c.mu.RLock()
	routes := make(map[string]route, len(c.topics))
	for topic, r := range c.topics {
		routes[topic] = r
	}
	logger := c.logger
	c.mu.RUnlock()

	for topic, r := range routes {
		token := c.client.Subscribe(topic, r.qos, c.dispatch(r.handler))
		if token.WaitTimeout(defaultPublishTimeout) && token.Error() == nil {
			continue
		}
		if logger != nil {
			logger.Warn("resubscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

// Close disconnects cleanly, so the broker does not publish the will.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether both the client and paho consider the link up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// Reconnects counts how many times the link came back after a drop.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// Topics lists the remembered subscriptions in sorted order.
func (c *Client) Topics() []string {
	c.mu.RLock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()
	sort.Strings(topics)
	return topics
}

// SetOnConnect registers fn to run after every reconnect, once
// subscriptions have been restored.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the link drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// dispatch adapts a MessageHandler to paho, recovering handler panics.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.mu.RLock()
		logger := c.logger
		c.mu.RUnlock()

		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.Error("message handler panic", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil && logger != nil {
			logger.Warn("message handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
